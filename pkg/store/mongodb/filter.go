package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/heartline/keyset/pkg/pagination"
)

var operators = map[pagination.Op]string{
	pagination.OpEq:  "$eq",
	pagination.OpNe:  "$ne",
	pagination.OpGt:  "$gt",
	pagination.OpGte: "$gte",
	pagination.OpLt:  "$lt",
	pagination.OpLte: "$lte",
	pagination.OpIn:  "$in",
}

// matchNothing is the filter for an empty disjunction.
var matchNothing = bson.D{{Key: "$nor", Value: bson.A{bson.D{}}}}

// ToFilter translates a predicate tree into a MongoDB query document. A nil
// predicate yields an empty document that matches everything.
//
// {f: {$eq: null}} also matches documents without f, which is how missing
// fields read through Path. Ordering operators never match null, so a range
// against nil is rejected instead of silently matching nothing.
func ToFilter(p pagination.Predicate) (bson.D, error) {
	switch node := p.(type) {
	case nil:
		return bson.D{}, nil
	case pagination.Cond:
		op, ok := operators[node.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported operator %q on field %q", pagination.ErrUntranslatable, node.Op, node.Field)
		}
		if node.Value == nil && node.Op != pagination.OpEq && node.Op != pagination.OpNe {
			return nil, fmt.Errorf("%w: cannot order %q against null", pagination.ErrUntranslatable, node.Field)
		}
		value := node.Value
		if node.Op == pagination.OpIn {
			values, _ := node.Value.([]any)
			value = bson.A(values)
		}
		return bson.D{{Key: node.Field, Value: bson.D{{Key: op, Value: value}}}}, nil
	case pagination.And:
		if len(node) == 0 {
			return bson.D{}, nil
		}
		children, err := toFilters(node)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$and", Value: children}}, nil
	case pagination.Or:
		if len(node) == 0 {
			return matchNothing, nil
		}
		children, err := toFilters(node)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$or", Value: children}}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported predicate %T", pagination.ErrUntranslatable, p)
	}
}

func toFilters(preds []pagination.Predicate) (bson.A, error) {
	out := make(bson.A, 0, len(preds))
	for _, p := range preds {
		f, err := ToFilter(p)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SortDocument renders sort keys as an ordered {field: 1|-1} document.
func SortDocument(keys []pagination.SortKey) bson.D {
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		dir := 1
		if k.Direction == pagination.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: k.Field, Value: dir})
	}
	return out
}

// Projection renders a field list as an inclusion projection, or nil for
// "all fields".
func Projection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	out := make(bson.D, 0, len(fields))
	for _, f := range fields {
		out = append(out, bson.E{Key: f, Value: 1})
	}
	return out
}
