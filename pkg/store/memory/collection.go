// Package memory provides an in-process collection implementing the
// pagination store contracts. It backs tests, local demos and the
// "memory" database type.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/heartline/keyset/pkg/pagination"
)

// FieldFunc reads a named field from a record.
type FieldFunc[T any] func(item T, field string) (value any, ok bool)

// Documents is the FieldFunc for map-shaped records, resolving dotted paths.
func Documents[M ~map[string]any]() FieldFunc[M] {
	return func(item M, field string) (any, bool) {
		return pagination.LookupPath(map[string]any(item), field)
	}
}

// Collection is a concurrency-safe slice of records queried with the same
// predicate trees and sort keys the real adapters receive.
type Collection[T any] struct {
	mu     sync.RWMutex
	name   string
	items  []T
	field  FieldFunc[T]
	closed bool
}

// NewCollection builds a collection holding items.
func NewCollection[T any](name string, field FieldFunc[T], items ...T) *Collection[T] {
	return &Collection[T]{
		name:  name,
		field: field,
		items: slices.Clone(items),
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Insert appends records.
func (c *Collection[T]) Insert(items ...T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, items...)
}

// Delete removes every record matching filter and returns how many went.
func (c *Collection[T]) Delete(filter pagination.Predicate) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]T, 0, len(c.items))
	removed := 0
	for _, item := range c.items {
		ok, err := pagination.Match(filter, c.resolver(item))
		if err != nil {
			return 0, err
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	c.items = kept
	return removed, nil
}

// Len returns the number of stored records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Find implements pagination.Finder.
func (c *Collection[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched, err := c.filter(q.Filter)
	if err != nil {
		return nil, err
	}
	if err := c.sort(matched, q.Sort); err != nil {
		return nil, err
	}

	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			return []T{}, nil
		}
		matched = matched[q.Skip:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count implements pagination.Counter.
func (c *Collection[T]) Count(ctx context.Context, filter pagination.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	matched, err := c.filter(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Stream implements pagination.Streamer. The cursor re-queries the
// collection one batch at a time past the last key it returned, so records
// inserted during the scan are seen when they sort after the cursor.
func (c *Collection[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pagination.FindCursor[T](c, q, func(item T) (any, bool) {
		return c.field(item, q.Sort.Field)
	}), nil
}

// HealthCheck reports whether the collection is open.
func (c *Collection[T]) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("memory collection is closed")
	}
	return ctx.Err()
}

// Close marks the collection closed.
func (c *Collection[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Collection[T]) resolver(item T) pagination.Resolver {
	return func(field string) (any, bool) {
		return c.field(item, field)
	}
}

func (c *Collection[T]) filter(p pagination.Predicate) ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		ok, err := pagination.Match(p, c.resolver(item))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *Collection[T]) sort(items []T, keys []pagination.SortKey) error {
	if len(keys) == 0 {
		return nil
	}
	var sortErr error
	slices.SortStableFunc(items, func(a, b T) int {
		for _, key := range keys {
			va, _ := c.field(a, key.Field)
			vb, _ := c.field(b, key.Field)
			cmp, err := pagination.Compare(va, vb)
			if err != nil {
				if sortErr == nil {
					sortErr = err
				}
				return 0
			}
			if cmp == 0 {
				continue
			}
			if key.Direction == pagination.Desc {
				return -cmp
			}
			return cmp
		}
		return 0
	})
	return sortErr
}
