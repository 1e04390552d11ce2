package repository

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/heartline/keyset/pkg/pagination"
)

// Dialect captures the SQL differences the keyset queries care about.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// Quote quotes a single identifier.
	Quote(ident string) string
	// NullsOrder returns the ORDER BY suffix that puts NULL before every
	// value, so first for ascending and last for descending columns. It is
	// empty when the database already orders NULL that way.
	NullsOrder(dir pagination.Direction) string
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgresDialect) Quote(ident string) string {
	return `"` + ident + `"`
}

// Postgres treats NULL as larger than any value.
func (postgresDialect) NullsOrder(dir pagination.Direction) string {
	if dir == pagination.Desc {
		return " NULLS LAST"
	}
	return " NULLS FIRST"
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string           { return "mysql" }
func (mysqlDialect) Placeholder(int) string { return "?" }
func (mysqlDialect) Quote(ident string) string {
	return "`" + ident + "`"
}

func (mysqlDialect) NullsOrder(pagination.Direction) string { return "" }

var (
	// Postgres renders $n placeholders and double-quoted identifiers.
	Postgres Dialect = postgresDialect{}
	// MySQL renders ? placeholders and backtick-quoted identifiers.
	MySQL Dialect = mysqlDialect{}
)

// ErrInvalidIdentifier is returned for table or column names that are not
// plain SQL identifiers.
var ErrInvalidIdentifier = fmt.Errorf("%w: invalid SQL identifier", pagination.ErrUntranslatable)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var comparison = map[pagination.Op]string{
	pagination.OpEq:  "=",
	pagination.OpNe:  "<>",
	pagination.OpGt:  ">",
	pagination.OpGte: ">=",
	pagination.OpLt:  "<",
	pagination.OpLte: "<=",
}

// Statement is a rendered query and its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// builder renders predicates for one table. columns maps public field names
// to column names; unmapped names are used as-is.
type builder struct {
	dialect Dialect
	columns map[string]string
	args    []any
}

func (b *builder) column(field string) (string, error) {
	name := field
	if mapped, ok := b.columns[field]; ok {
		name = mapped
	}
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, field)
	}
	return b.dialect.Quote(name), nil
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *builder) where(p pagination.Predicate) (string, error) {
	switch node := p.(type) {
	case nil:
		return "", nil
	case pagination.Cond:
		return b.cond(node)
	case pagination.And:
		if len(node) == 0 {
			return "1=1", nil
		}
		return b.join(node, " AND ")
	case pagination.Or:
		if len(node) == 0 {
			return "1=0", nil
		}
		return b.join(node, " OR ")
	default:
		return "", fmt.Errorf("%w: unsupported predicate %T", pagination.ErrUntranslatable, p)
	}
}

func (b *builder) join(preds []pagination.Predicate, sep string) (string, error) {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		s, err := b.where(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) cond(c pagination.Cond) (string, error) {
	col, err := b.column(c.Field)
	if err != nil {
		return "", err
	}
	if c.Op == pagination.OpIn {
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return "1=0", nil
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = b.bind(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", nil
	}
	op, ok := comparison[c.Op]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q on field %q", pagination.ErrUntranslatable, c.Op, c.Field)
	}
	if c.Value == nil {
		switch c.Op {
		case pagination.OpEq:
			return col + " IS NULL", nil
		case pagination.OpNe:
			return col + " IS NOT NULL", nil
		default:
			return "", fmt.Errorf("%w: cannot order %q against NULL", pagination.ErrUntranslatable, c.Field)
		}
	}
	return col + " " + op + " " + b.bind(c.Value), nil
}

func (b *builder) orderBy(keys []pagination.SortKey) (string, error) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		col, err := b.column(k.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if k.Direction == pagination.Desc {
			dir = "DESC"
		}
		if !k.NotNull {
			dir += b.dialect.NullsOrder(k.Direction)
		}
		parts = append(parts, col+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

// BuildSelect renders the SELECT for a page query. LIMIT and OFFSET are
// inlined as integers; every value from the predicate is bound.
func BuildSelect(d Dialect, table string, columns []string, fieldColumns map[string]string, q pagination.Query) (Statement, error) {
	if !identifierPattern.MatchString(table) {
		return Statement{}, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table)
	}
	b := &builder{dialect: d, columns: fieldColumns}

	selectList := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			if !identifierPattern.MatchString(c) {
				return Statement{}, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, c)
			}
			quoted[i] = d.Quote(c)
		}
		selectList = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + selectList + " FROM " + d.Quote(table))

	where, err := b.where(q.Filter)
	if err != nil {
		return Statement{}, err
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if len(q.Sort) > 0 {
		order, err := b.orderBy(q.Sort)
		if err != nil {
			return Statement{}, err
		}
		sb.WriteString(" ORDER BY " + order)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(q.Skip))
	}
	return Statement{SQL: sb.String(), Args: b.args}, nil
}

// BuildCount renders SELECT COUNT(*) for a filter.
func BuildCount(d Dialect, table string, fieldColumns map[string]string, filter pagination.Predicate) (Statement, error) {
	if !identifierPattern.MatchString(table) {
		return Statement{}, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table)
	}
	b := &builder{dialect: d, columns: fieldColumns}
	query := "SELECT COUNT(*) FROM " + d.Quote(table)
	where, err := b.where(filter)
	if err != nil {
		return Statement{}, err
	}
	if where != "" {
		query += " WHERE " + where
	}
	return Statement{SQL: query, Args: b.args}, nil
}
