package repository

import (
	"database/sql"
	"errors"
	"fmt"
)

// DocumentMapper scans rows into map documents keyed by public field
// name. Byte slices from text columns are returned as strings.
type DocumentMapper struct {
	fields  []string
	columns []string
}

var _ RowMapper[map[string]any] = (*DocumentMapper)(nil)

// NewDocumentMapper selects fields, reading each from its column in
// fieldColumns or from the column of the same name.
func NewDocumentMapper(fields []string, fieldColumns map[string]string) (*DocumentMapper, error) {
	if len(fields) == 0 {
		return nil, errors.New("at least one field is required")
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		col := f
		if c, ok := fieldColumns[f]; ok {
			col = c
		}
		if !identifierPattern.MatchString(col) {
			return nil, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, col)
		}
		columns[i] = col
	}
	return &DocumentMapper{fields: fields, columns: columns}, nil
}

// Columns implements RowMapper.
func (m *DocumentMapper) Columns() []string {
	return m.columns
}

// FromRow implements RowMapper.
func (m *DocumentMapper) FromRow(rows *sql.Rows) (*map[string]any, error) {
	values := make([]any, len(m.columns))
	dest := make([]any, len(m.columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(m.fields))
	for i, f := range m.fields {
		if b, ok := values[i].([]byte); ok {
			doc[f] = string(b)
			continue
		}
		doc[f] = values[i]
	}
	return &doc, nil
}

// Field implements RowMapper.
func (m *DocumentMapper) Field(item *map[string]any, name string) (any, bool) {
	v, ok := (*item)[name]
	return v, ok
}
