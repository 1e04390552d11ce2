package dynamodb

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/heartline/keyset/pkg/pagination"
)

var (
	// ErrPartitionKeyRequired is returned when a filter does not pin the
	// partition key with a top-level equality.
	ErrPartitionKeyRequired = errors.New("query requires an equality condition on the partition key")
	// ErrUnsupportedSort is returned for orders other than the table's range key.
	ErrUnsupportedSort = errors.New("dynamodb tables can only be ordered by their sort key")
)

var comparators = map[pagination.Op]string{
	pagination.OpEq:  "=",
	pagination.OpNe:  "<>",
	pagination.OpGt:  ">",
	pagination.OpGte: ">=",
	pagination.OpLt:  "<",
	pagination.OpLte: "<=",
}

// expression collects placeholder names and values while rendering the key
// condition, filter and projection of one query.
type expression struct {
	attrs   map[string]string
	aliases map[string]string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newExpression(attrs map[string]string) *expression {
	return &expression{
		attrs:   attrs,
		aliases: map[string]string{},
		names:   map[string]string{},
		values:  map[string]types.AttributeValue{},
	}
}

func (e *expression) attribute(field string) string {
	if a, ok := e.attrs[field]; ok {
		return a
	}
	return field
}

func (e *expression) name(field string) string {
	attr := e.attribute(field)
	if alias, ok := e.aliases[attr]; ok {
		return alias
	}
	alias := fmt.Sprintf("#n%d", len(e.aliases))
	e.aliases[attr] = alias
	e.names[alias] = attr
	return alias
}

func (e *expression) value(v any) (string, error) {
	av, err := AttributeValue(v)
	if err != nil {
		return "", err
	}
	ph := fmt.Sprintf(":v%d", len(e.values))
	e.values[ph] = av
	return ph, nil
}

func (e *expression) cond(c pagination.Cond) (string, error) {
	if c.Op == pagination.OpIn {
		rv := reflect.ValueOf(c.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return "", fmt.Errorf("in operator on %q needs a slice, got %T", c.Field, c.Value)
		}
		if rv.Len() == 0 {
			return "", fmt.Errorf("in operator on %q needs at least one value", c.Field)
		}
		phs := make([]string, rv.Len())
		for i := range phs {
			ph, err := e.value(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			phs[i] = ph
		}
		return fmt.Sprintf("%s IN (%s)", e.name(c.Field), strings.Join(phs, ", ")), nil
	}
	if c.Value == nil {
		switch c.Op {
		case pagination.OpEq:
			return fmt.Sprintf("attribute_not_exists(%s)", e.name(c.Field)), nil
		case pagination.OpNe:
			return fmt.Sprintf("attribute_exists(%s)", e.name(c.Field)), nil
		default:
			return "", fmt.Errorf("cannot order %q against null", c.Field)
		}
	}
	cmp, ok := comparators[c.Op]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", c.Op)
	}
	ph, err := e.value(c.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", e.name(c.Field), cmp, ph), nil
}

func (e *expression) render(p pagination.Predicate) (string, error) {
	switch x := p.(type) {
	case pagination.Cond:
		return e.cond(x)
	case pagination.And:
		return e.join(x, " AND ")
	case pagination.Or:
		if len(x) == 0 {
			return "", errors.New("empty OR cannot be expressed as a dynamodb filter")
		}
		return e.join(x, " OR ")
	default:
		return "", fmt.Errorf("unsupported predicate node %T", p)
	}
}

func (e *expression) join(children []pagination.Predicate, sep string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		s, err := e.render(child)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (e *expression) projection(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = e.name(f)
	}
	return strings.Join(parts, ", ")
}

// conjuncts flattens nested top-level ANDs.
func conjuncts(p pagination.Predicate) []pagination.Predicate {
	switch x := p.(type) {
	case nil:
		return nil
	case pagination.And:
		var out []pagination.Predicate
		for _, child := range x {
			out = append(out, conjuncts(child)...)
		}
		return out
	default:
		return []pagination.Predicate{p}
	}
}

var rangeOps = map[pagination.Op]bool{
	pagination.OpEq:  true,
	pagination.OpGt:  true,
	pagination.OpGte: true,
	pagination.OpLt:  true,
	pagination.OpLte: true,
}

// keyRange recognizes the null-tolerant seek form (k < v OR k = null) on the
// sort key. Key attributes are present on every item, so it reduces to k < v.
func (e *expression) keyRange(p pagination.Predicate, sortKey string) (pagination.Cond, bool) {
	or, ok := p.(pagination.Or)
	if !ok || len(or) != 2 || sortKey == "" {
		return pagination.Cond{}, false
	}
	past, ok1 := or[0].(pagination.Cond)
	null, ok2 := or[1].(pagination.Cond)
	if !ok1 || !ok2 || past.Field != null.Field || e.attribute(past.Field) != sortKey {
		return pagination.Cond{}, false
	}
	if null.Op != pagination.OpEq || null.Value != nil || past.Value == nil {
		return pagination.Cond{}, false
	}
	if past.Op != pagination.OpLt && past.Op != pagination.OpLte {
		return pagination.Cond{}, false
	}
	return past, true
}

// splitKeyCondition separates the partition equality and at most one range
// condition on the sort key from the remaining filter.
func (e *expression) splitKeyCondition(filter pagination.Predicate, partitionKey, sortKey string) (key []pagination.Cond, rest []pagination.Predicate, err error) {
	var partition, rangeCond *pagination.Cond
	for _, p := range conjuncts(filter) {
		c, ok := p.(pagination.Cond)
		if !ok {
			c, ok = e.keyRange(p, sortKey)
		}
		if !ok {
			rest = append(rest, p)
			continue
		}
		switch attr := e.attribute(c.Field); {
		case attr == partitionKey && c.Op == pagination.OpEq && c.Value != nil:
			if partition != nil {
				return nil, nil, fmt.Errorf("partition key %q constrained twice", partitionKey)
			}
			partition = &c
		case sortKey != "" && attr == sortKey && rangeOps[c.Op] && c.Value != nil:
			if rangeCond != nil {
				return nil, nil, fmt.Errorf("sort key %q accepts a single condition per query", sortKey)
			}
			rangeCond = &c
		default:
			rest = append(rest, p)
		}
	}
	if partition == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrPartitionKeyRequired, partitionKey)
	}
	key = []pagination.Cond{*partition}
	if rangeCond != nil {
		key = append(key, *rangeCond)
	}
	return key, rest, nil
}
