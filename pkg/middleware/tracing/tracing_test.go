package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(t.Context())
	})
	return recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_ListingSpan(t *testing.T) {
	recorder := setupRecorder(t)
	r := nethttp.NewRouter()
	r.Use(requestid.RequestID(), Tracing(Config{}))

	var handlerSpan trace.SpanContext
	r.GET("/v1/:collection", func(c router.Context) error {
		handlerSpan = trace.SpanContextFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/profiles?cursor=abc&limit=5", nil)
	req.Header.Set(requestid.RequestIDHeader, "req-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /v1/:collection" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v", span.SpanKind())
	}
	a := attrs(span)
	if a["keyset.collection"].AsString() != "profiles" || !a["keyset.has_cursor"].AsBool() {
		t.Errorf("keyset attributes = %v", a)
	}
	if a["keyset.limit"].AsString() != "5" || a["request.id"].AsString() != "req-7" {
		t.Errorf("limit/request id attributes = %v", a)
	}
	if a["http.response.status_code"].AsInt64() != http.StatusOK {
		t.Errorf("status attribute = %v", a["http.response.status_code"])
	}
	if handlerSpan.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context should carry the request span")
	}
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	recorder := setupRecorder(t)
	r := nethttp.NewRouter()
	r.Use(Tracing(Config{}))
	r.GET("/v1/:collection", func(c router.Context) error { return c.String(http.StatusOK, "") })

	req := httptest.NewRequest(http.MethodGet, "/v1/feed", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	span := recorder.Ended()[0]
	if got := span.SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id = %s, want the incoming one", got)
	}
	if got := span.Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span = %s", got)
	}
}

func TestTracing_ErrorStatus(t *testing.T) {
	recorder := setupRecorder(t)
	r := nethttp.NewRouter()
	r.Use(Tracing(Config{}))
	r.GET("/err", func(router.Context) error { return errors.New("store down") })
	r.GET("/unavailable", func(c router.Context) error { return c.String(http.StatusServiceUnavailable, "") })
	r.GET("/bad", func(c router.Context) error { return c.String(http.StatusBadRequest, "") })

	for _, p := range []string{"/err", "/unavailable", "/bad"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	want := []codes.Code{codes.Error, codes.Error, codes.Unset}
	for i, s := range spans {
		if s.Status().Code != want[i] {
			t.Errorf("span %s status = %v, want %v", s.Name(), s.Status().Code, want[i])
		}
	}
	if len(spans[0].Events()) == 0 {
		t.Error("returned errors should be recorded as span events")
	}
}

func TestTracing_ExcludedPaths(t *testing.T) {
	recorder := setupRecorder(t)
	r := nethttp.NewRouter()
	r.Use(Tracing(Config{ExcludedPathPrefixes: []string{"/healthz"}}))
	r.GET("/healthz", func(c router.Context) error { return c.String(http.StatusOK, "") })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("excluded path produced %d spans", n)
	}
}
