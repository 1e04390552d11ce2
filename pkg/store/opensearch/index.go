package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/heartline/keyset/pkg/observability/tracing"
	"github.com/heartline/keyset/pkg/pagination"
)

// Searcher runs _search requests. The HTTP adapter and both SDK adapters
// implement it.
type Searcher interface {
	Search(ctx context.Context, index string, query any) (json.RawMessage, error)
}

// Indexer writes documents by id.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

var (
	_ Searcher = (*Adapter)(nil)
	_ Searcher = (*OpenSearchSDKAdapter)(nil)
	_ Searcher = (*ElasticsearchSDKAdapter)(nil)
	_ Indexer  = (*Adapter)(nil)
)

type hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

func decodeResponse(raw json.RawMessage) (*searchResponse, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var resp searchResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &resp, nil
}

// Index serves keyset pages from one search index, decoding each hit's
// _source into T. Sort fields must be keyword, numeric or date fields.
type Index[T any] struct {
	searcher Searcher
	name     string
	fields   map[string]string
}

// NewIndex binds an index to a searcher. fields maps public field names
// (such as "_id") to document fields.
func NewIndex[T any](searcher Searcher, name string, fields map[string]string) (*Index[T], error) {
	if searcher == nil {
		return nil, errors.New("searcher cannot be nil")
	}
	if name == "" {
		return nil, errors.New("index is required")
	}
	return &Index[T]{searcher: searcher, name: name, fields: fields}, nil
}

// Name returns the index name.
func (x *Index[T]) Name() string {
	return x.name
}

func (x *Index[T]) search(ctx context.Context, op tracing.SpanOperation, body map[string]any) (*searchResponse, error) {
	ctx, span := tracing.StartStoreSpan(ctx, op, tracing.WithCollection(x.name), tracing.WithSystem("opensearch"))
	defer span.End()
	raw, err := x.searcher.Search(ctx, x.name, body)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return decodeResponse(raw)
}

func (x *Index[T]) decodeHits(hits []hit) ([]T, error) {
	items := make([]T, 0, len(hits))
	for _, h := range hits {
		var item T
		if err := json.Unmarshal(h.Source, &item); err != nil {
			return nil, fmt.Errorf("failed to decode hit %s: %w", h.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Find implements pagination.Finder.
func (x *Index[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	body, err := SearchBody(q, x.fields)
	if err != nil {
		return nil, err
	}
	resp, err := x.search(ctx, tracing.SpanOperationFind, body)
	if err != nil {
		return nil, err
	}
	return x.decodeHits(resp.Hits.Hits)
}

// Count implements pagination.Counter with an exact total.
func (x *Index[T]) Count(ctx context.Context, filter pagination.Predicate) (int64, error) {
	query, err := ToQuery(filter, x.fields)
	if err != nil {
		return 0, err
	}
	resp, err := x.search(ctx, tracing.SpanOperationCount, map[string]any{
		"query":            query,
		"size":             0,
		"track_total_hits": true,
	})
	if err != nil {
		return 0, err
	}
	return resp.Hits.Total.Value, nil
}

// Stream implements pagination.Streamer with search_after, resuming each
// batch from the sort values of the previous batch's last hit.
func (x *Index[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	body, err := SearchBody(pagination.Query{
		Filter: q.Filter,
		Sort:   []pagination.SortKey{q.Sort},
		Select: q.Select,
	}, x.fields)
	if err != nil {
		return nil, err
	}
	size := q.BatchSize
	if size <= 0 {
		size = pagination.DefaultBatchSize
	}
	body["size"] = size
	return &searchAfterCursor[T]{index: x, body: body, size: size}, nil
}

type searchAfterCursor[T any] struct {
	index   *Index[T]
	body    map[string]any
	size    int
	batch   []T
	pos     int
	current T
	done    bool
	closed  bool
	err     error
}

func (c *searchAfterCursor[T]) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	for c.pos >= len(c.batch) {
		if c.done {
			return false
		}
		resp, err := c.index.search(ctx, tracing.SpanOperationStream, c.body)
		if err != nil {
			c.err = err
			return false
		}
		hits := resp.Hits.Hits
		if len(hits) < c.size {
			c.done = true
		}
		if len(hits) > 0 {
			last := hits[len(hits)-1]
			if len(last.Sort) == 0 {
				c.err = fmt.Errorf("hit %s carries no sort values", last.ID)
				return false
			}
			c.body["search_after"] = last.Sort
		}
		if c.batch, err = c.index.decodeHits(hits); err != nil {
			c.err = err
			return false
		}
		c.pos = 0
	}
	c.current = c.batch[c.pos]
	c.pos++
	return true
}

func (c *searchAfterCursor[T]) Current() T {
	return c.current
}

func (c *searchAfterCursor[T]) Err() error {
	return c.err
}

func (c *searchAfterCursor[T]) Close(context.Context) error {
	c.closed = true
	c.batch = nil
	return nil
}
