// Package tracing starts an OpenTelemetry server span per API request.
package tracing

import (
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/server/router"
)

// Config holds configuration for the tracing middleware.
type Config struct {
	// TracerName defaults to "http-server".
	TracerName string
	// ExcludedPathPrefixes disables tracing for matching paths.
	ExcludedPathPrefixes []string
}

// Tracing extracts the incoming trace context and starts a span named after
// the method and route pattern. Listing requests also record the collection
// and whether the caller sent a cursor, so first pages and continuation pages
// can be told apart.
func Tracing(cfg Config) router.MiddlewareFunc {
	if cfg.TracerName == "" {
		cfg.TracerName = "http-server"
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if excluded(cfg.ExcludedPathPrefixes, req.URL.Path) {
				return next(c)
			}
			tracer := otel.Tracer(cfg.TracerName)

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			route := router.Route(c)
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := tracer.Start(ctx, req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", req.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", req.URL.Path),
				attribute.String("user_agent.original", req.UserAgent()),
			}
			if collection := c.Param("collection"); collection != "" {
				q := c.QueryValues()
				attrs = append(attrs,
					attribute.String("keyset.collection", collection),
					attribute.Bool("keyset.has_cursor", q.Get("cursor") != ""),
				)
				if limit := q.Get("limit"); limit != "" {
					attrs = append(attrs, attribute.String("keyset.limit", limit))
				}
			}
			if id := requestid.GetRequestID(req.Context()); id != "" {
				attrs = append(attrs, attribute.String("request.id", id))
			}
			span.SetAttributes(attrs...)

			c.SetRequest(req.WithContext(ctx))
			err := next(c)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			status := c.Response().Status()
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			}
			return nil
		}
	}
}

func excluded(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
