package pagination

import (
	"context"
	"fmt"
)

// DefaultPrefetchCount is used when an Orchestrator is built with a
// non-positive prefetch count.
const DefaultPrefetchCount = 5

// IDFunc extracts the client-facing identifier of a record.
type IDFunc[T any] func(item T) string

// Orchestrator serves infinite-scroll feeds: each page also reports the IDs
// of the next few records so the client can warm media or profile caches
// before the user scrolls to them.
type Orchestrator[T any] struct {
	executor *Executor[T]
	prefetch int
	id       IDFunc[T]
}

// NewOrchestrator wraps an executor with prefetch hints.
func NewOrchestrator[T any](executor *Executor[T], prefetchCount int, id IDFunc[T]) (*Orchestrator[T], error) {
	if executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if id == nil {
		return nil, fmt.Errorf("id function cannot be nil")
	}
	if prefetchCount <= 0 {
		prefetchCount = DefaultPrefetchCount
	}
	return &Orchestrator[T]{executor: executor, prefetch: prefetchCount, id: id}, nil
}

// PrefetchCount returns the number of hinted records per page.
func (o *Orchestrator[T]) PrefetchCount() int {
	return o.prefetch
}

// Fetch asks the store for limit+prefetchCount records in one call. The first
// limit become the page, the rest are reported as PrefetchIDs, and the cursor
// is taken from the last visible item so hinted records reappear as real
// items on the next page.
func (o *Orchestrator[T]) Fetch(ctx context.Context, store Finder[T], spec SortSpec[T], req PageRequest) (*Page[T], error) {
	items, limit, err := o.executor.fetch(ctx, store, spec, req, o.prefetch, "prefetch")
	if err != nil {
		return nil, err
	}

	page := &Page[T]{Items: items, PrefetchIDs: []string{}}
	if len(items) <= limit {
		return page, nil
	}

	page.HasMore = true
	page.Items = items[:limit]
	for _, item := range items[limit:] {
		page.PrefetchIDs = append(page.PrefetchIDs, o.id(item))
	}
	page.NextCursor, err = Encode(o.executor.codec, page.Items[len(page.Items)-1], spec)
	if err != nil {
		return nil, err
	}
	return page, nil
}
