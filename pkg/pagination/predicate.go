package pagination

import (
	"fmt"
	"reflect"
	"strings"
)

// Op is a comparison operator in a predicate tree.
type Op string

// Supported comparison operators.
const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Predicate is a store-neutral boolean expression over record fields. The
// concrete node types are Cond, And and Or; store adapters translate trees
// into their native query language.
type Predicate interface {
	predicate()
}

// Cond compares one field with a value. For OpIn the value is a slice.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// And is satisfied when every child is.
type And []Predicate

// Or is satisfied when any child is.
type Or []Predicate

func (Cond) predicate() {}
func (And) predicate()  {}
func (Or) predicate()   {}

// Eq builds field = value.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Ne builds field != value.
func Ne(field string, value any) Cond { return Cond{Field: field, Op: OpNe, Value: value} }

// Gt builds field > value.
func Gt(field string, value any) Cond { return Cond{Field: field, Op: OpGt, Value: value} }

// Gte builds field >= value.
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }

// Lt builds field < value.
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// Lte builds field <= value.
func Lte(field string, value any) Cond { return Cond{Field: field, Op: OpLte, Value: value} }

// In builds field IN values.
func In(field string, values ...any) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// AllOf joins predicates with AND, dropping nils. It returns nil when nothing
// is left and the single child when only one is.
func AllOf(preds ...Predicate) Predicate {
	out := compact(preds)
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And(out)
}

// AnyOf joins predicates with OR, dropping nils.
func AnyOf(preds ...Predicate) Predicate {
	out := compact(preds)
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return Or(out)
}

func compact(preds []Predicate) []Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if isNil(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isNil(p Predicate) bool {
	switch x := p.(type) {
	case nil:
		return true
	case And:
		return x == nil
	case Or:
		return x == nil
	}
	return false
}

// Resolver reads a named field from a record. ok is false when the field is absent.
type Resolver func(field string) (value any, ok bool)

// Match evaluates p against the record exposed by resolve. A nil predicate
// matches everything; absent fields compare as nil.
func Match(p Predicate, resolve Resolver) (bool, error) {
	switch x := p.(type) {
	case nil:
		return true, nil
	case Cond:
		v, _ := resolve(x.Field)
		return matchCond(x, v)
	case And:
		for _, child := range x {
			ok, err := Match(child, resolve)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range x {
			ok, err := Match(child, resolve)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported predicate node %T", p)
	}
}

func matchCond(c Cond, v any) (bool, error) {
	if c.Op == OpIn {
		rv := reflect.ValueOf(c.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false, fmt.Errorf("in operator on %q needs a slice, got %T", c.Field, c.Value)
		}
		for i := 0; i < rv.Len(); i++ {
			cmp, err := Compare(v, rv.Index(i).Interface())
			if err != nil {
				continue
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	cmp, err := Compare(v, c.Value)
	if err != nil {
		if c.Op == OpNe {
			return true, nil
		}
		if c.Op == OpEq {
			return false, nil
		}
		return false, fmt.Errorf("field %q: %w", c.Field, err)
	}
	switch c.Op {
	case OpEq:
		return cmp == 0, nil
	case OpNe:
		return cmp != 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", c.Op)
	}
}

// Walk visits every Cond in p depth first.
func Walk(p Predicate, visit func(Cond)) {
	switch x := p.(type) {
	case Cond:
		visit(x)
	case And:
		for _, child := range x {
			Walk(child, visit)
		}
	case Or:
		for _, child := range x {
			Walk(child, visit)
		}
	}
}

// FormatPredicate renders p for logs and test failures.
func FormatPredicate(p Predicate) string {
	switch x := p.(type) {
	case nil:
		return "true"
	case Cond:
		return fmt.Sprintf("%s %s %v", x.Field, x.Op, x.Value)
	case And:
		return "(" + joinPredicates(x, " AND ") + ")"
	case Or:
		return "(" + joinPredicates(x, " OR ") + ")"
	default:
		return fmt.Sprintf("%v", p)
	}
}

func joinPredicates(preds []Predicate, sep string) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = FormatPredicate(p)
	}
	return strings.Join(parts, sep)
}
