package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/heartline/keyset/pkg/observability/tracing"
	"github.com/heartline/keyset/pkg/pagination"
)

// Lookup describes a reference that Query.Populate may expand with $lookup.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	// As is both the populate name and the output field.
	As string
}

// Collection serves keyset pages, counts and batch streams from one MongoDB
// collection, decoding documents into T.
type Collection[T any] struct {
	adapter *Adapter
	coll    *mongo.Collection
	name    string
	lookups map[string]Lookup
}

// NewCollection binds a typed collection to the adapter's database.
func NewCollection[T any](a *Adapter, name string, lookups ...Lookup) *Collection[T] {
	return &Collection[T]{
		adapter: a,
		coll:    a.Collection(name),
		name:    name,
		lookups: indexLookups(lookups),
	}
}

func indexLookups(lookups []Lookup) map[string]Lookup {
	out := make(map[string]Lookup, len(lookups))
	for _, l := range lookups {
		out[l.As] = l
	}
	return out
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// HealthCheck pings the underlying deployment.
func (c *Collection[T]) HealthCheck(ctx context.Context) error {
	return c.adapter.HealthCheck(ctx)
}

// Find implements pagination.Finder. Queries with Populate run as an
// aggregation so referenced documents can be joined.
func (c *Collection[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	filter, err := ToFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()

	var cur *mongo.Cursor
	if len(q.Populate) > 0 {
		pipeline, perr := buildPipeline(filter, q, c.lookups)
		if perr != nil {
			return nil, perr
		}
		cur, err = c.coll.Aggregate(opCtx, pipeline)
	} else {
		cur, err = c.coll.Find(opCtx, filter, findOptions(q))
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find on %s: %w", c.name, err)
	}

	out := make([]T, 0, q.Limit)
	if err := cur.All(opCtx, &out); err != nil {
		return nil, fmt.Errorf("mongodb decode on %s: %w", c.name, err)
	}
	return out, nil
}

// Count implements pagination.Counter.
func (c *Collection[T]) Count(ctx context.Context, p pagination.Predicate) (int64, error) {
	filter, err := ToFilter(p)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := c.adapter.withOperationTimeout(ctx)
	defer cancel()
	n, err := c.coll.CountDocuments(opCtx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodb count on %s: %w", c.name, err)
	}
	return n, nil
}

// Stream implements pagination.Streamer with a server-side cursor that
// fetches BatchSize documents per getMore. No operation timeout applies;
// the caller's context bounds the scan.
func (c *Collection[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	filter, err := ToFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStream,
		tracing.WithCollection(c.name), tracing.WithSystem("mongodb"), tracing.WithLimit(q.BatchSize))
	defer span.End()

	cur, err := c.coll.Find(ctx, filter, streamOptions(q))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("mongodb stream on %s: %w", c.name, err)
	}
	return &recordCursor[T]{cur: cur}, nil
}

func findOptions(q pagination.Query) *options.FindOptions {
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(SortDocument(q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	if q.Skip > 0 {
		opts.SetSkip(int64(q.Skip))
	}
	if proj := Projection(q.Select); proj != nil {
		opts.SetProjection(proj)
	}
	return opts
}

func streamOptions(q pagination.StreamQuery) *options.FindOptions {
	opts := options.Find().SetSort(SortDocument([]pagination.SortKey{q.Sort}))
	if q.BatchSize > 0 {
		opts.SetBatchSize(int32(q.BatchSize))
	}
	if proj := Projection(q.Select); proj != nil {
		opts.SetProjection(proj)
	}
	return opts
}

// buildPipeline renders a populated query. Paging stages run before the
// joins so only the page's documents are looked up.
func buildPipeline(filter bson.D, q pagination.Query, lookups map[string]Lookup) (mongo.Pipeline, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: filter}}}
	if len(q.Sort) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: SortDocument(q.Sort)}})
	}
	if q.Skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(q.Skip)}})
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}
	for _, name := range q.Populate {
		l, ok := lookups[name]
		if !ok {
			return nil, fmt.Errorf("unknown populate path %q", name)
		}
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: l.From},
			{Key: "localField", Value: l.LocalField},
			{Key: "foreignField", Value: l.ForeignField},
			{Key: "as", Value: l.As},
		}}})
	}
	if proj := Projection(q.Select); proj != nil {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: proj}})
	}
	return pipeline, nil
}

type recordCursor[T any] struct {
	cur     *mongo.Cursor
	current T
	err     error
}

func (r *recordCursor[T]) Next(ctx context.Context) bool {
	if r.err != nil || !r.cur.Next(ctx) {
		return false
	}
	var item T
	if err := r.cur.Decode(&item); err != nil {
		r.err = err
		return false
	}
	r.current = item
	return true
}

func (r *recordCursor[T]) Current() T {
	return r.current
}

func (r *recordCursor[T]) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.cur.Err()
}

func (r *recordCursor[T]) Close(ctx context.Context) error {
	return r.cur.Close(ctx)
}
