package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/heartline/keyset/pkg/observability/tracing"
	"github.com/heartline/keyset/pkg/pagination"
)

// SQLExecutor defines the interface for executing SQL queries.
// This can be a *sql.DB, *sql.Tx, or any adapter that provides these methods.
type SQLExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RowMapper maps table rows to records.
type RowMapper[T any] interface {
	// Columns lists the selected columns in the order FromRow scans them.
	Columns() []string

	// FromRow scans the current row.
	FromRow(rows *sql.Rows) (*T, error)

	// Field returns a record's value for a public field name. Batch streams
	// use it to resume past the last key.
	Field(item *T, name string) (any, bool)
}

// TableConfig describes a SQL table exposed as a keyset collection.
type TableConfig struct {
	Name    string
	Dialect Dialect
	// FieldColumns maps public field names (such as "_id") to column names.
	FieldColumns map[string]string
	// QueryTimeout bounds each query, including reading its rows, when the
	// caller's context has no deadline.
	QueryTimeout time.Duration
}

// Table serves keyset pages, offset counts and batch streams from one SQL
// table. Query.Select and Query.Populate are ignored: the mapper fixes the
// column set.
type Table[T any] struct {
	exec    SQLExecutor
	name    string
	dialect Dialect
	columns map[string]string
	mapper  RowMapper[T]
	timeout time.Duration
}

// NewTable creates a table-backed collection.
func NewTable[T any](exec SQLExecutor, cfg TableConfig, mapper RowMapper[T]) (*Table[T], error) {
	if exec == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if mapper == nil {
		return nil, errors.New("mapper cannot be nil")
	}
	if cfg.Dialect == nil {
		return nil, errors.New("dialect is required")
	}
	if !identifierPattern.MatchString(cfg.Name) {
		return nil, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, cfg.Name)
	}
	return &Table[T]{
		exec:    exec,
		name:    cfg.Name,
		dialect: cfg.Dialect,
		columns: cfg.FieldColumns,
		mapper:  mapper,
		timeout: cfg.QueryTimeout,
	}, nil
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

// Find implements pagination.Finder.
func (t *Table[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	stmt, err := BuildSelect(t.dialect, t.name, t.mapper.Columns(), t.columns, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationFind,
		tracing.WithCollection(t.name), tracing.WithSystem(t.dialect.Name()), tracing.WithStatement(stmt.SQL))
	defer span.End()

	rows, err := t.exec.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := t.mapper.FromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.name, err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}

// Count implements pagination.Counter.
func (t *Table[T]) Count(ctx context.Context, filter pagination.Predicate) (int64, error) {
	stmt, err := BuildCount(t.dialect, t.name, t.columns, filter)
	if err != nil {
		return 0, err
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	var count int64
	if err := t.exec.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.name, err)
	}
	return count, nil
}

// Stream implements pagination.Streamer with one bounded keyset query per
// batch, so no transaction or connection is held between batches.
func (t *Table[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	if _, err := (&builder{dialect: t.dialect, columns: t.columns}).column(q.Sort.Field); err != nil {
		return nil, err
	}
	return pagination.FindCursor[T](t, q, func(item T) (any, bool) {
		return t.mapper.Field(&item, q.Sort.Field)
	}), nil
}

func (t *Table[T]) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}
