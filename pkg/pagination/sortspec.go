package pagination

import (
	"fmt"
	"strings"
)

// Direction is the order applied to a single sort field.
type Direction int

const (
	// Asc orders values from smallest to largest.
	Asc Direction = iota
	// Desc orders values from largest to smallest.
	Desc
)

// String returns "asc" or "desc".
func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// ParseDirection accepts asc/desc (any case) and the numeric forms 1/-1.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending", "1", "":
		return Asc, nil
	case "desc", "descending", "-1":
		return Desc, nil
	default:
		return Asc, fmt.Errorf("%w: unknown sort direction %q", ErrInvalidSortSpec, s)
	}
}

// Accessor resolves the value of one sort field from a record.
type Accessor[T any] interface {
	Value(item T) (any, error)
}

// AccessorFunc adapts a plain function to Accessor.
type AccessorFunc[T any] func(item T) any

// Value implements Accessor.
func (f AccessorFunc[T]) Value(item T) (any, error) {
	return f(item), nil
}

type pathAccessor[M ~map[string]any] struct {
	path string
}

// Path returns an accessor that walks a dotted path (profile.age) through
// nested document maps. A missing segment resolves to nil.
func Path[M ~map[string]any](path string) Accessor[M] {
	return pathAccessor[M]{path: path}
}

func (p pathAccessor[M]) Value(item M) (any, error) {
	v, _ := LookupPath(map[string]any(item), p.path)
	return v, nil
}

// LookupPath reads a dotted path from a document. ok is false when a segment
// is missing or not a document.
func LookupPath(doc map[string]any, path string) (value any, ok bool) {
	segments := strings.Split(path, ".")
	var current any = doc
	for _, segment := range segments {
		m, isMap := current.(map[string]any)
		if !isMap {
			if m, isMap = asStringMap(current); !isMap {
				return nil, false
			}
		}
		if current, ok = m[segment]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SortField is one element of a SortSpec: a field name as the store knows it,
// a direction, and the accessor that reads the same value from a loaded record.
type SortField[T any] struct {
	Name      string
	Direction Direction
	Accessor  Accessor[T]
	unique    bool
	notNull   bool
}

// Field builds a SortField from an Accessor.
func Field[T any](name string, dir Direction, accessor Accessor[T]) SortField[T] {
	return SortField[T]{Name: name, Direction: dir, Accessor: accessor}
}

// By builds a SortField from a plain getter.
func By[T any](name string, dir Direction, get func(T) any) SortField[T] {
	return Field[T](name, dir, AccessorFunc[T](get))
}

// Unique marks the field as unique across the collection. The last field of a
// SortSpec must be unique so the order is total.
func (f SortField[T]) Unique() SortField[T] {
	f.unique = true
	return f
}

// IsUnique reports whether the field was marked unique.
func (f SortField[T]) IsUnique() bool {
	return f.unique
}

// NotNull marks the field as present and non-null on every record, such as
// a primary key. Seek predicates on it skip their null tests.
func (f SortField[T]) NotNull() SortField[T] {
	f.notNull = true
	return f
}

// WithDirection returns a copy of the field sorted in dir.
func (f SortField[T]) WithDirection(dir Direction) SortField[T] {
	f.Direction = dir
	return f
}

// Key returns the storage-neutral part of the field.
func (f SortField[T]) Key() SortKey {
	return SortKey{Field: f.Name, Direction: f.Direction, NotNull: f.notNull}
}

// SortKey is the store-facing view of a sort field.
type SortKey struct {
	Field     string
	Direction Direction
	// NotNull is set for fields that never hold nil.
	NotNull   bool
}

// SortSpec is a validated, non-empty ordered list of sort fields ending in a
// unique tiebreaker.
type SortSpec[T any] struct {
	fields []SortField[T]
}

// NewSortSpec validates fields and returns a SortSpec.
func NewSortSpec[T any](fields ...SortField[T]) (SortSpec[T], error) {
	if len(fields) == 0 {
		return SortSpec[T]{}, ErrEmptySortSpec
	}

	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if err := validateFieldName(f.Name); err != nil {
			return SortSpec[T]{}, err
		}
		if _, dup := seen[f.Name]; dup {
			return SortSpec[T]{}, fmt.Errorf("%w: field %q appears more than once", ErrInvalidSortSpec, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Accessor == nil {
			return SortSpec[T]{}, fmt.Errorf("%w: field %q has no accessor", ErrInvalidSortSpec, f.Name)
		}
		if f.Direction != Asc && f.Direction != Desc {
			return SortSpec[T]{}, fmt.Errorf("%w: field %q has invalid direction %d", ErrInvalidSortSpec, f.Name, f.Direction)
		}
		if i == len(fields)-1 && !f.unique {
			return SortSpec[T]{}, fmt.Errorf("%w: last field %q must be a unique tiebreaker", ErrInvalidSortSpec, f.Name)
		}
	}

	out := make([]SortField[T], len(fields))
	copy(out, fields)
	return SortSpec[T]{fields: out}, nil
}

// MustSortSpec is NewSortSpec for package-level declarations; it panics on error.
func MustSortSpec[T any](fields ...SortField[T]) SortSpec[T] {
	spec, err := NewSortSpec(fields...)
	if err != nil {
		panic(err)
	}
	return spec
}

// Len returns the number of fields.
func (s SortSpec[T]) Len() int {
	return len(s.fields)
}

// IsZero reports whether the spec was never constructed.
func (s SortSpec[T]) IsZero() bool {
	return len(s.fields) == 0
}

// Fields returns a copy of the fields.
func (s SortSpec[T]) Fields() []SortField[T] {
	out := make([]SortField[T], len(s.fields))
	copy(out, s.fields)
	return out
}

// Keys returns the store-facing sort keys in order.
func (s SortSpec[T]) Keys() []SortKey {
	keys := make([]SortKey, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Key()
	}
	return keys
}

// Names returns the field names in order.
func (s SortSpec[T]) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// PositionOf projects item onto the spec's fields.
func (s SortSpec[T]) PositionOf(item T) (Position, error) {
	if s.IsZero() {
		return nil, ErrEmptySortSpec
	}
	pos := make(Position, len(s.fields))
	for i, f := range s.fields {
		v, err := f.Accessor.Value(item)
		if err != nil {
			return nil, fmt.Errorf("failed to read sort field %q: %w", f.Name, err)
		}
		pos[i] = KeyValue{Field: f.Name, Value: v}
	}
	return pos, nil
}

// Validate checks that every accessor resolves against sample. It is meant to
// be called once at startup with a representative record.
func (s SortSpec[T]) Validate(sample T) error {
	if s.IsZero() {
		return ErrEmptySortSpec
	}
	for _, f := range s.fields {
		if _, err := f.Accessor.Value(sample); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidSortSpec, f.Name, err)
		}
	}
	return nil
}

// String renders the spec as "score:desc,_id:asc".
func (s SortSpec[T]) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Direction.String()
	}
	return strings.Join(parts, ",")
}

func validateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidSortSpec)
	}
	for _, segment := range strings.Split(name, ".") {
		if segment == "" {
			return fmt.Errorf("%w: malformed field path %q", ErrInvalidSortSpec, name)
		}
	}
	return nil
}
