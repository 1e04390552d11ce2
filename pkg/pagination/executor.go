package pagination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

// Query is what the engine asks a store for. Select and Populate are passed
// through untouched; they never take part in the seek.
type Query struct {
	Filter   Predicate
	Sort     []SortKey
	Limit    int
	Skip     int
	Select   []string
	Populate []string
}

// Finder is the read side of a store: return at most q.Limit records matching
// q.Filter in q.Sort order after skipping q.Skip.
type Finder[T any] interface {
	Find(ctx context.Context, q Query) ([]T, error)
}

// Counter counts records matching a filter.
type Counter interface {
	Count(ctx context.Context, filter Predicate) (int64, error)
}

// PageRequest carries the caller's inputs for one keyset page.
type PageRequest struct {
	Filter   Predicate
	Cursor   string
	Limit    int
	Select   []string
	Populate []string
}

// Page is one keyset page. NextCursor is empty when HasMore is false.
type Page[T any] struct {
	Items       []T
	HasMore     bool
	NextCursor  string
	PrefetchIDs []string
}

// MarshalJSON renders the page in its wire shape, with a null nextCursor on
// the last page and prefetchIds omitted when unused.
func (p Page[T]) MarshalJSON() ([]byte, error) {
	w := pageWire[T]{Items: p.Items, HasMore: p.HasMore, PrefetchIDs: p.PrefetchIDs}
	if w.Items == nil {
		w.Items = []T{}
	}
	if p.NextCursor != "" {
		next := p.NextCursor
		w.NextCursor = &next
	}
	return json.Marshal(w)
}

type pageWire[T any] struct {
	Items       []T      `json:"items"`
	HasMore     bool     `json:"hasMore"`
	NextCursor  *string  `json:"nextCursor"`
	PrefetchIDs []string `json:"prefetchIds,omitempty"`
}

// Options configures an Executor.
type Options struct {
	// Name labels logs, metrics and spans (usually the collection name).
	Name   string
	Limits Limits
	Codec  *Codec
	Logger logger.Logger
}

// Executor runs bounded keyset page fetches against a store. It holds no
// per-request state and is safe for concurrent use.
type Executor[T any] struct {
	name   string
	limits Limits
	codec  *Codec
	log    logger.Logger
}

// NewExecutor builds an Executor, filling unset options with defaults.
func NewExecutor[T any](opts Options) *Executor[T] {
	if opts.Codec == nil {
		opts.Codec = NewCodec()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Executor[T]{
		name:   opts.Name,
		limits: opts.Limits.normalized(),
		codec:  opts.Codec,
		log:    opts.Logger.With("collection", opts.Name),
	}
}

// Limits returns the effective page-size limits.
func (e *Executor[T]) Limits() Limits {
	return e.limits
}

// Codec returns the cursor codec.
func (e *Executor[T]) Codec() *Codec {
	return e.codec
}

// FetchPage returns the page after req.Cursor. It asks the store for one
// record more than the page size to learn whether another page exists, and
// only mints a cursor when it does.
func (e *Executor[T]) FetchPage(ctx context.Context, store Finder[T], spec SortSpec[T], req PageRequest) (*Page[T], error) {
	items, limit, err := e.fetch(ctx, store, spec, req, 1, "keyset")
	if err != nil {
		return nil, err
	}

	page := &Page[T]{Items: items}
	if len(items) > limit {
		page.HasMore = true
		page.Items = items[:limit]
	}
	if page.HasMore {
		page.NextCursor, err = Encode(e.codec, page.Items[len(page.Items)-1], spec)
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

// fetch performs the single store call behind a page. extra is the number of
// records requested beyond the normalised limit.
func (e *Executor[T]) fetch(ctx context.Context, store Finder[T], spec SortSpec[T], req PageRequest, extra int, mode string) ([]T, int, error) {
	if spec.IsZero() {
		return nil, 0, ErrEmptySortSpec
	}
	limit := e.limits.Normalize(req.Limit)

	pos := e.decodeCursor(ctx, req.Cursor)
	seek, err := BuildSeekPredicate(pos, spec)
	if err != nil {
		return nil, 0, err
	}

	q := Query{
		Filter:   AllOf(req.Filter, seek),
		Sort:     spec.Keys(),
		Limit:    limit + extra,
		Select:   req.Select,
		Populate: req.Populate,
	}

	start := time.Now()
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationFind, tracing.WithCollection(e.name))
	defer span.End()

	items, err := store.Find(ctx, q)
	metrics.RecordPageFetch(e.name, mode, len(items), err, time.Since(start))
	if err != nil {
		tracing.RecordError(span, err)
		e.log.WithContext(ctx).Error("page fetch failed", "mode", mode, "error", err)
		return nil, 0, storeError("find", err)
	}
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	if items == nil {
		items = []T{}
	}
	return items, limit, nil
}

func (e *Executor[T]) decodeCursor(ctx context.Context, cursor string) Position {
	if cursor == "" {
		return nil
	}
	pos, ok := e.codec.Decode(cursor)
	if !ok {
		metrics.RecordCursorRejected(e.name)
		e.log.WithContext(ctx).Debug("ignoring malformed cursor, serving first page", "cursor_length", len(cursor))
		return nil
	}
	return pos
}
