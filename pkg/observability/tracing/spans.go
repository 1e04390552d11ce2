// Package tracing wires OpenTelemetry tracing for store, cache, messaging and
// object storage calls made while serving pages and running exports.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation names a traced operation.
type SpanOperation string

const (
	// SpanOperationFind is a bounded page read.
	SpanOperationFind SpanOperation = "store.find"
	// SpanOperationCount is a total-count query.
	SpanOperationCount SpanOperation = "store.count"
	// SpanOperationStream is a server-side cursor batch read.
	SpanOperationStream SpanOperation = "store.stream"

	// SpanOperationCacheGet is a cache read.
	SpanOperationCacheGet SpanOperation = "cache.get"
	// SpanOperationCacheSet is a cache write.
	SpanOperationCacheSet SpanOperation = "cache.set"

	// SpanOperationPublish is a message broker publish.
	SpanOperationPublish SpanOperation = "messaging.publish"

	// SpanOperationObjectPut is an object storage upload.
	SpanOperationObjectPut SpanOperation = "objectstore.put"
)

// SpanOption adds attributes to a span.
type SpanOption func(*spanOptions)

type spanOptions struct {
	target     string
	attributes []attribute.KeyValue
}

// WithCollection names the collection, table or index being read.
func WithCollection(name string) SpanOption {
	return func(o *spanOptions) {
		o.target = name
		o.attributes = append(o.attributes, attribute.String("db.collection", name))
	}
}

// WithSystem sets the backend system (mongodb, postgresql, redis, kafka, s3).
func WithSystem(system string) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attribute.String("db.system", system))
	}
}

// WithStatement records the rendered query.
func WithStatement(statement string) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attribute.String("db.statement", statement))
	}
}

// WithDestination names a topic, bucket or cache key.
func WithDestination(destination string) SpanOption {
	return func(o *spanOptions) {
		o.target = destination
		o.attributes = append(o.attributes, attribute.String("destination", destination))
	}
}

// WithLimit records the number of records requested.
func WithLimit(limit int) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, attribute.Int("pagination.limit", limit))
	}
}

// StartStoreSpan starts a client span for a store call.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return start(ctx, "store", "DB", operation, trace.SpanKindClient, opts)
}

// StartCacheSpan starts a client span for a cache call.
func StartCacheSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return start(ctx, "cache", "CACHE", operation, trace.SpanKindClient, opts)
}

// StartMessagingSpan starts a producer span for a broker publish.
func StartMessagingSpan(ctx context.Context, operation SpanOperation, opts ...SpanOption) (context.Context, trace.Span) {
	return start(ctx, "messaging", "MSG", operation, trace.SpanKindProducer, opts)
}

func start(ctx context.Context, scope, prefix string, operation SpanOperation, kind trace.SpanKind, opts []SpanOption) (context.Context, trace.Span) {
	o := &spanOptions{attributes: []attribute.KeyValue{attribute.String("operation", string(operation))}}
	for _, opt := range opts {
		opt(o)
	}

	name := fmt.Sprintf("%s %s", prefix, operation)
	if o.target != "" {
		name = fmt.Sprintf("%s %s %s", prefix, operation, o.target)
	}

	ctx, span := otel.Tracer(scope).Start(ctx, name, trace.WithSpanKind(kind))
	span.SetAttributes(o.attributes...)
	return ctx, span
}

// RecordError marks the span failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks the span successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
