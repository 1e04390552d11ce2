package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/heartline/keyset/pkg/observability/tracing"
	"github.com/heartline/keyset/pkg/pagination"
)

// QueryAPI is the slice of the DynamoDB client used by collections.
type QueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// TableConfig describes one partition-scoped keyset collection.
type TableConfig struct {
	Table string
	// Index optionally names a secondary index whose keys are used instead.
	Index        string
	PartitionKey string
	SortKey      string
	// FieldAttributes maps public field names (such as "_id") to attributes.
	FieldAttributes map[string]string
	ConsistentRead  bool
}

// DecodeFunc turns an item, converted to plain values, into a record.
type DecodeFunc[T any] func(doc map[string]any) (T, error)

// Collection pages one partition of a table ordered by its sort key. Every
// query must pin the partition key with an equality; the only sort order
// available is the sort key, ascending or descending.
type Collection[T any] struct {
	api    QueryAPI
	cfg    TableConfig
	decode DecodeFunc[T]
}

// NewCollection validates cfg and binds it to api.
func NewCollection[T any](api QueryAPI, cfg TableConfig, decode DecodeFunc[T]) (*Collection[T], error) {
	if api == nil {
		return nil, errors.New("dynamodb query api cannot be nil")
	}
	if decode == nil {
		return nil, errors.New("decode function cannot be nil")
	}
	if cfg.Table == "" {
		return nil, errors.New("table name is required")
	}
	if cfg.PartitionKey == "" || cfg.SortKey == "" {
		return nil, errors.New("partition key and sort key are required")
	}
	return &Collection[T]{api: api, cfg: cfg, decode: decode}, nil
}

// NewTableCollection is NewCollection over the adapter's client, after
// checking the table's key schema against cfg.
func NewTableCollection[T any](a *Adapter, cfg TableConfig, decode DecodeFunc[T]) (*Collection[T], error) {
	coll, err := NewCollection[T](a.Client(), cfg, decode)
	if err != nil {
		return nil, err
	}
	if err := a.CheckKeys(context.Background(), cfg.Table, cfg.Index, cfg.PartitionKey, cfg.SortKey); err != nil {
		return nil, err
	}
	return coll, nil
}

// Name returns the table name.
func (c *Collection[T]) Name() string {
	return c.cfg.Table
}

// queryInput marks every rendering failure untranslatable: no retry or
// other replica can run a query DynamoDB cannot express.
func (c *Collection[T]) queryInput(filter pagination.Predicate, sort []pagination.SortKey, fields []string) (*dynamodb.QueryInput, error) {
	in, err := c.buildQueryInput(filter, sort, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pagination.ErrUntranslatable, err)
	}
	return in, nil
}

func (c *Collection[T]) buildQueryInput(filter pagination.Predicate, sort []pagination.SortKey, fields []string) (*dynamodb.QueryInput, error) {
	expr := newExpression(c.cfg.FieldAttributes)
	if len(sort) != 1 || expr.attribute(sort[0].Field) != c.cfg.SortKey {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSort, c.cfg.SortKey)
	}

	key, rest, err := expr.splitKeyCondition(filter, c.cfg.PartitionKey, c.cfg.SortKey)
	if err != nil {
		return nil, err
	}
	keyParts := make([]string, len(key))
	for i, k := range key {
		if keyParts[i], err = expr.cond(k); err != nil {
			return nil, err
		}
	}
	filterExpr, err := expr.join(rest, " AND ")
	if err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.cfg.Table),
		KeyConditionExpression:    aws.String(strings.Join(keyParts, " AND ")),
		ScanIndexForward:          aws.Bool(sort[0].Direction == pagination.Asc),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
	}
	if c.cfg.Index != "" {
		in.IndexName = aws.String(c.cfg.Index)
	}
	if c.cfg.ConsistentRead {
		in.ConsistentRead = aws.Bool(true)
	}
	if filterExpr != "" {
		in.FilterExpression = aws.String(filterExpr)
	}
	if p := expr.projection(fields); p != "" {
		in.ProjectionExpression = aws.String(p)
	}
	return in, nil
}

// Find implements pagination.Finder. Query.Limit caps items evaluated per
// request before filtering, so pages are followed through LastEvaluatedKey
// until enough matches are collected. Query.Populate is ignored.
func (c *Collection[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	in, err := c.queryInput(q.Filter, q.Sort, q.Select)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 {
		in.Limit = aws.Int32(int32(q.Limit + q.Skip))
	}
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationFind,
		tracing.WithCollection(c.cfg.Table), tracing.WithSystem("dynamodb"), tracing.WithLimit(q.Limit))
	defer span.End()

	items := []T{}
	skipped := 0
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, c.queryError(err)
		}
		for _, raw := range out.Items {
			if skipped < q.Skip {
				skipped++
				continue
			}
			item, err := c.decode(Document(raw))
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s item: %w", c.cfg.Table, err)
			}
			items = append(items, item)
			if q.Limit > 0 && len(items) == q.Limit {
				return items, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Count implements pagination.Counter for filters that pin a partition.
func (c *Collection[T]) Count(ctx context.Context, filter pagination.Predicate) (int64, error) {
	in, err := c.queryInput(filter, []pagination.SortKey{{Field: c.cfg.SortKey}}, nil)
	if err != nil {
		return 0, err
	}
	in.Select = types.SelectCount
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationCount,
		tracing.WithCollection(c.cfg.Table), tracing.WithSystem("dynamodb"))
	defer span.End()

	var total int64
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			tracing.RecordError(span, err)
			return 0, c.queryError(err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Stream implements pagination.Streamer using DynamoDB's own continuation
// keys, one request of BatchSize evaluated items per round trip.
func (c *Collection[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	in, err := c.queryInput(q.Filter, []pagination.SortKey{q.Sort}, q.Select)
	if err != nil {
		return nil, err
	}
	batch := q.BatchSize
	if batch <= 0 {
		batch = pagination.DefaultBatchSize
	}
	in.Limit = aws.Int32(int32(batch))
	return &recordCursor[T]{coll: c, in: in}, nil
}

func (c *Collection[T]) queryError(err error) error {
	if IsThrottlingError(err) {
		return fmt.Errorf("dynamodb throttled query on %s: %w", c.cfg.Table, err)
	}
	return fmt.Errorf("failed to query %s: %w", c.cfg.Table, err)
}

type recordCursor[T any] struct {
	coll    *Collection[T]
	in      *dynamodb.QueryInput
	page    []map[string]types.AttributeValue
	pos     int
	current T
	done    bool
	closed  bool
	err     error
}

func (r *recordCursor[T]) Next(ctx context.Context) bool {
	if r.closed || r.err != nil {
		return false
	}
	for r.pos >= len(r.page) {
		if r.done {
			return false
		}
		out, err := r.coll.api.Query(ctx, r.in)
		if err != nil {
			r.err = r.coll.queryError(err)
			return false
		}
		r.page, r.pos = out.Items, 0
		if len(out.LastEvaluatedKey) == 0 {
			r.done = true
		} else {
			r.in.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}
	item, err := r.coll.decode(Document(r.page[r.pos]))
	if err != nil {
		r.err = fmt.Errorf("failed to decode %s item: %w", r.coll.cfg.Table, err)
		return false
	}
	r.pos++
	r.current = item
	return true
}

func (r *recordCursor[T]) Current() T {
	return r.current
}

func (r *recordCursor[T]) Err() error {
	return r.err
}

func (r *recordCursor[T]) Close(context.Context) error {
	r.closed = true
	r.page = nil
	return nil
}
