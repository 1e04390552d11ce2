package pagination

import (
	"context"
	"fmt"
)

// KeyFunc reads the stream key of a record.
type KeyFunc[T any] func(item T) (value any, ok bool)

// FindCursor adapts a Finder into a RecordCursor for stores without native
// server-side cursors. Each batch is a fresh keyset query strictly past the
// last key returned, so BatchSize bounds every round trip.
func FindCursor[T any](store Finder[T], q StreamQuery, key KeyFunc[T]) RecordCursor[T] {
	if q.BatchSize <= 0 {
		q.BatchSize = DefaultBatchSize
	}
	return &findCursor[T]{store: store, query: q, key: key}
}

type findCursor[T any] struct {
	store   Finder[T]
	query   StreamQuery
	key     KeyFunc[T]
	batch   []T
	pos     int
	current T
	lastKey any
	started bool
	done    bool
	err     error
	closed  bool
}

func (c *findCursor[T]) Next(ctx context.Context) bool {
	if c.closed || c.done || c.err != nil {
		return false
	}
	if c.pos >= len(c.batch) {
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if !c.load(ctx) {
			return false
		}
	}
	c.current = c.batch[c.pos]
	c.pos++
	key, ok := c.key(c.current)
	if !ok {
		c.err = fmt.Errorf("record has no %q value", c.query.Sort.Field)
		return false
	}
	c.lastKey = key
	return true
}

func (c *findCursor[T]) load(ctx context.Context) bool {
	filter := c.query.Filter
	if c.started {
		filter = AllOf(filter, Seek(Position{{Field: c.query.Sort.Field, Value: c.lastKey}}, []SortKey{c.query.Sort}))
	}
	batch, err := c.store.Find(ctx, Query{
		Filter: filter,
		Sort:   []SortKey{c.query.Sort},
		Limit:  c.query.BatchSize,
		Select: c.query.Select,
	})
	if err != nil {
		c.err = err
		return false
	}
	c.started = true
	c.batch, c.pos = batch, 0
	if len(batch) == 0 {
		c.done = true
		return false
	}
	return true
}

func (c *findCursor[T]) Current() T {
	return c.current
}

func (c *findCursor[T]) Err() error {
	return c.err
}

func (c *findCursor[T]) Close(context.Context) error {
	c.closed = true
	c.batch = nil
	return nil
}
