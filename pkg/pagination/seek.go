package pagination

import (
	"fmt"
)

// Seek builds the predicate selecting records strictly after pos in the
// order described by keys. For keys f0..fn-1 it produces n branches joined by
// OR; branch i holds f0..fi-1 equal to the cursor and fi strictly past it
// (greater for ascending fields, less for descending). A single key collapses
// to one comparison.
//
// nil sorts before every value, so it comes first on ascending fields and
// last on descending ones. Comparisons against nil are spelled as explicit
// null tests because stores differ on how they order and compare it.
//
// pos and keys must describe the same fields in the same order. Seek returns
// nil when pos does not cover every key.
func Seek(pos Position, keys []SortKey) Predicate {
	if len(keys) == 0 || len(pos) < len(keys) {
		return nil
	}

	branches := make([]Predicate, 0, len(keys))
	for i, key := range keys {
		past, ok := strictlyPast(key, nullable(pos[i].Value))
		if !ok {
			continue
		}
		conds := make([]Predicate, 0, i+1)
		for j := 0; j < i; j++ {
			conds = append(conds, Eq(keys[j].Field, nullable(pos[j].Value)))
		}
		conds = append(conds, past)
		branches = append(branches, AllOf(conds...))
	}
	if len(branches) == 0 {
		return Or{}
	}
	return AnyOf(branches...)
}

// nullable collapses typed nil pointers to a plain nil so adapters can test
// Cond.Value == nil.
func nullable(v any) any {
	if Normalize(v) == nil {
		return nil
	}
	return v
}

// strictlyPast returns the condition selecting values after value on one
// field. ok is false when nothing can follow: nil on a descending field.
func strictlyPast(key SortKey, value any) (Predicate, bool) {
	switch {
	case key.Direction == Desc && value == nil:
		return nil, false
	case key.Direction == Desc && key.NotNull:
		return Lt(key.Field, value), true
	case key.Direction == Desc:
		return Or{Lt(key.Field, value), Eq(key.Field, nil)}, true
	case value == nil:
		return Ne(key.Field, nil), true
	default:
		return Gt(key.Field, value), true
	}
}

// BuildSeekPredicate returns the predicate selecting the page after pos. A
// nil position means no cursor and yields a nil (unconstrained) predicate.
func BuildSeekPredicate[T any](pos Position, spec SortSpec[T]) (Predicate, error) {
	if spec.IsZero() {
		return nil, ErrEmptySortSpec
	}
	if pos == nil {
		return nil, nil
	}
	if err := checkPosition(pos, spec.Keys()); err != nil {
		return nil, err
	}
	return Seek(pos, spec.Keys()), nil
}

func checkPosition(pos Position, keys []SortKey) error {
	if len(pos) != len(keys) {
		return fmt.Errorf("%w: cursor has %d fields, sort has %d", ErrCursorMismatch, len(pos), len(keys))
	}
	for i, key := range keys {
		if pos[i].Field != key.Field {
			return fmt.Errorf("%w: cursor field %d is %q, sort expects %q", ErrCursorMismatch, i, pos[i].Field, key.Field)
		}
	}
	return nil
}
