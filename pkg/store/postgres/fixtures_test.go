package postgres

import "database/sql"

type row struct {
	ID    int64
	Score int64
	Name  string
}

type rowMapper struct{}

func (rowMapper) Columns() []string { return []string{"id", "score", "name"} }

func (rowMapper) FromRow(rows *sql.Rows) (*row, error) {
	r := &row{}
	if err := rows.Scan(&r.ID, &r.Score, &r.Name); err != nil {
		return nil, err
	}
	return r, nil
}

func (rowMapper) Field(r *row, name string) (any, bool) {
	switch name {
	case "_id":
		return r.ID, true
	case "score":
		return r.Score, true
	case "name":
		return r.Name, true
	}
	return nil, false
}
