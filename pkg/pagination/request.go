package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Default page-size limits.
const (
	DefaultLimit    = 20
	DefaultMaxLimit = 100
)

// Limits bounds page sizes. It is passed by value to every component that
// needs it; there is no process-wide default.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns 20 items per page, at most 100.
func DefaultLimits() Limits {
	return Limits{Default: DefaultLimit, Max: DefaultMaxLimit}
}

func (l Limits) normalized() Limits {
	if l.Max <= 0 {
		l.Max = DefaultMaxLimit
	}
	if l.Default <= 0 {
		l.Default = DefaultLimit
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

// Normalize returns the page size to use for a requested limit: the default
// for non-positive values and Max for anything larger.
func (l Limits) Normalize(limit int) int {
	l = l.normalized()
	switch {
	case limit <= 0:
		return l.Default
	case limit > l.Max:
		return l.Max
	default:
		return limit
	}
}

// Parse normalises a raw query-string limit; non-numeric input yields the default.
func (l Limits) Parse(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return l.normalized().Default
	}
	return l.Normalize(n)
}

// KeysetRequest holds the public query parameters of a keyset listing.
type KeysetRequest struct {
	Cursor    string
	Limit     int
	SortBy    []string
	SortOrder []string
	Select    []string
	Populate  []string
	Prefetch  bool
}

// OffsetQuery holds the public query parameters of an offset listing.
type OffsetQuery struct {
	Page      int
	Limit     int
	SortBy    []string
	SortOrder []string
}

// ParseKeysetRequest reads cursor, limit, sortBy, sortOrder, select,
// populate and prefetch from query parameters. List parameters accept either
// repeated keys or comma separated values.
func ParseKeysetRequest(values url.Values, limits Limits) KeysetRequest {
	prefetch, _ := strconv.ParseBool(values.Get("prefetch"))
	return KeysetRequest{
		Cursor:    values.Get("cursor"),
		Limit:     limits.Parse(values.Get("limit")),
		SortBy:    splitList(values["sortBy"]),
		SortOrder: splitList(values["sortOrder"]),
		Select:    splitList(values["select"]),
		Populate:  splitList(values["populate"]),
		Prefetch:  prefetch,
	}
}

// ParseOffsetQuery reads page, limit, sortBy and sortOrder. A missing or
// invalid page is 1.
func ParseOffsetQuery(values url.Values, limits Limits) OffsetQuery {
	page, err := strconv.Atoi(strings.TrimSpace(values.Get("page")))
	if err != nil || page < 1 {
		page = 1
	}
	return OffsetQuery{
		Page:      page,
		Limit:     limits.Parse(values.Get("limit")),
		SortBy:    splitList(values["sortBy"]),
		SortOrder: splitList(values["sortOrder"]),
	}
}

func splitList(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Catalog maps public sort names onto typed sort fields for one record type.
// Every resolved spec ends with the catalog's unique tiebreaker.
type Catalog[T any] struct {
	fields     map[string]SortField[T]
	tiebreaker SortField[T]
	defaults   []string
}

// NewCatalog builds a catalog. tiebreaker must be marked Unique; it is also
// selectable by name.
func NewCatalog[T any](tiebreaker SortField[T], fields ...SortField[T]) (*Catalog[T], error) {
	if !tiebreaker.IsUnique() {
		return nil, fmt.Errorf("%w: tiebreaker %q must be unique", ErrInvalidSortSpec, tiebreaker.Name)
	}
	if _, err := NewSortSpec(tiebreaker); err != nil {
		return nil, err
	}
	c := &Catalog[T]{
		fields:     map[string]SortField[T]{tiebreaker.Name: tiebreaker},
		tiebreaker: tiebreaker,
	}
	for _, f := range fields {
		if err := validateFieldName(f.Name); err != nil {
			return nil, err
		}
		if f.Accessor == nil {
			return nil, fmt.Errorf("%w: field %q has no accessor", ErrInvalidSortSpec, f.Name)
		}
		c.fields[f.Name] = f
	}
	return c, nil
}

// WithDefault sets the sort used when a request names none. Names must exist
// in the catalog.
func (c *Catalog[T]) WithDefault(names ...string) (*Catalog[T], error) {
	for _, n := range names {
		if _, ok := c.fields[n]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSortField, n)
		}
	}
	c.defaults = append([]string(nil), names...)
	return c, nil
}

// Resolve turns public sortBy/sortOrder lists into a validated SortSpec.
// Missing directions fall back to each field's catalog direction.
func (c *Catalog[T]) Resolve(sortBy, sortOrder []string) (SortSpec[T], error) {
	if len(sortBy) == 0 {
		sortBy = c.defaults
	}

	fields := make([]SortField[T], 0, len(sortBy)+1)
	hasTiebreaker := false
	for i, name := range sortBy {
		f, ok := c.fields[name]
		if !ok {
			return SortSpec[T]{}, fmt.Errorf("%w: %q", ErrUnknownSortField, name)
		}
		if i < len(sortOrder) {
			dir, err := ParseDirection(sortOrder[i])
			if err != nil {
				return SortSpec[T]{}, err
			}
			f = f.WithDirection(dir)
		}
		if name == c.tiebreaker.Name {
			hasTiebreaker = true
			f = f.Unique()
		}
		fields = append(fields, f)
	}

	if hasTiebreaker && fields[len(fields)-1].Name != c.tiebreaker.Name {
		return SortSpec[T]{}, fmt.Errorf("%w: %q must be the last sort field", ErrInvalidSortSpec, c.tiebreaker.Name)
	}
	if !hasTiebreaker {
		fields = append(fields, c.tiebreaker)
	}
	return NewSortSpec(fields...)
}

// Names returns the public sort names the catalog accepts.
func (c *Catalog[T]) Names() []string {
	names := make([]string, 0, len(c.fields))
	for n := range c.fields {
		names = append(names, n)
	}
	return names
}
