package opensearch

import (
	"fmt"
	"reflect"
	"time"

	"github.com/heartline/keyset/pkg/pagination"
)

var rangeOperators = map[pagination.Op]string{
	pagination.OpGt:  "gt",
	pagination.OpGte: "gte",
	pagination.OpLt:  "lt",
	pagination.OpLte: "lte",
}

// ToQuery translates a predicate tree into query DSL. Comparisons become
// term, terms and range clauses inside bool filters; a nil predicate
// matches every document.
func ToQuery(p pagination.Predicate, fields map[string]string) (map[string]any, error) {
	switch x := p.(type) {
	case nil:
		return map[string]any{"match_all": map[string]any{}}, nil
	case pagination.Cond:
		return condQuery(x, fieldName(fields, x.Field))
	case pagination.And:
		clauses, err := toQueries(x, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bool": map[string]any{"filter": clauses}}, nil
	case pagination.Or:
		clauses, err := toQueries(x, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bool": map[string]any{"should": clauses, "minimum_should_match": 1}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported predicate node %T", pagination.ErrUntranslatable, p)
	}
}

func toQueries(preds []pagination.Predicate, fields map[string]string) ([]any, error) {
	out := make([]any, 0, len(preds))
	for _, p := range preds {
		q, err := ToQuery(p, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func condQuery(c pagination.Cond, field string) (map[string]any, error) {
	switch c.Op {
	case pagination.OpEq, pagination.OpNe:
		clause := map[string]any{"term": map[string]any{field: searchValue(c.Value)}}
		if c.Value == nil {
			// null: eq means missing, ne means present
			clause = exists(field)
			if c.Op == pagination.OpNe {
				return clause, nil
			}
			return mustNot(clause), nil
		}
		if c.Op == pagination.OpNe {
			return mustNot(clause), nil
		}
		return clause, nil
	case pagination.OpIn:
		rv := reflect.ValueOf(c.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("%w: in operator on %q needs a slice, got %T", pagination.ErrUntranslatable, c.Field, c.Value)
		}
		values := make([]any, rv.Len())
		for i := range values {
			values[i] = searchValue(rv.Index(i).Interface())
		}
		return map[string]any{"terms": map[string]any{field: values}}, nil
	}
	op, ok := rangeOperators[c.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported operator %q", pagination.ErrUntranslatable, c.Op)
	}
	if c.Value == nil {
		return nil, fmt.Errorf("%w: cannot order %q against null", pagination.ErrUntranslatable, c.Field)
	}
	return map[string]any{"range": map[string]any{field: map[string]any{op: searchValue(c.Value)}}}, nil
}

func exists(field string) map[string]any {
	return map[string]any{"exists": map[string]any{"field": field}}
}

func mustNot(clause map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must_not": []any{clause}}}
}

func searchValue(v any) any {
	n := pagination.Normalize(v)
	if t, ok := n.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return n
}

func fieldName(fields map[string]string, name string) string {
	if f, ok := fields[name]; ok {
		return f
	}
	return name
}

// SortClauses renders keys as a sort array. Documents missing a nullable
// field sort as its smallest value: first ascending, last descending.
func SortClauses(keys []pagination.SortKey, fields map[string]string) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		clause := map[string]any{"order": k.Direction.String()}
		if !k.NotNull {
			clause["missing"] = "_first"
			if k.Direction == pagination.Desc {
				clause["missing"] = "_last"
			}
		}
		out[i] = map[string]any{fieldName(fields, k.Field): clause}
	}
	return out
}

// SearchBody builds a _search request for one keyset or offset query.
// Populate has no meaning for an index and is ignored.
func SearchBody(q pagination.Query, fields map[string]string) (map[string]any, error) {
	query, err := ToQuery(q.Filter, fields)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"query": query}
	if len(q.Sort) > 0 {
		body["sort"] = SortClauses(q.Sort, fields)
	}
	if q.Limit > 0 {
		body["size"] = q.Limit
	}
	if q.Skip > 0 {
		body["from"] = q.Skip
	}
	if len(q.Select) > 0 {
		source := make([]string, len(q.Select))
		for i, f := range q.Select {
			source[i] = fieldName(fields, f)
		}
		body["_source"] = source
	}
	return body, nil
}
