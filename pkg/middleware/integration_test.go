package middleware_test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/middleware/compression"
	"github.com/heartline/keyset/pkg/middleware/cors"
	"github.com/heartline/keyset/pkg/middleware/logging"
	"github.com/heartline/keyset/pkg/middleware/metrics"
	"github.com/heartline/keyset/pkg/middleware/openapivalidation"
	"github.com/heartline/keyset/pkg/middleware/ratelimit"
	"github.com/heartline/keyset/pkg/middleware/recovery"
	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/middleware/testutil"
	"github.com/heartline/keyset/pkg/middleware/timeout"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

// newChain wires the public API middleware in serving order.
func newChain(t *testing.T, log *testutil.MockLogger, burst int) *nethttp.NetHTTPRouter {
	t.Helper()
	validate, err := openapivalidation.NewRequestValidationMiddleware(openapivalidation.Config{}, log)
	if err != nil {
		t.Fatalf("openapi middleware: %v", err)
	}

	r := nethttp.NewRouter()
	r.Use(
		requestid.RequestID(),
		logging.Logging(log),
		recovery.Recovery(log),
		metrics.Metrics(),
		cors.Middleware(cors.DefaultConfig("https://app.example.com")),
		ratelimit.RateLimit(ratelimit.NewTokenBucketLimiter(1, burst), ratelimit.Config{}),
		timeout.Middleware(timeout.Config{Timeout: time.Second}),
		compression.Middleware(compression.DefaultConfig()),
		validate,
	)
	r.GET("/v1/:collection", func(c router.Context) error {
		if c.Param("collection") == "crash" {
			panic("nil document")
		}
		items := make([]map[string]any, 50)
		for i := range items {
			items[i] = map[string]any{"id": i + 1, "city": "Rome"}
		}
		return controller.Page(c, map[string]any{"items": items, "hasMore": false, "nextCursor": nil})
	})
	return r
}

func do(r http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "203.0.113.7:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChain_CompressedPage(t *testing.T) {
	log := &testutil.MockLogger{}
	r := newChain(t, log, 10)

	rec := do(r, "/v1/profiles?limit=50", map[string]string{
		"Accept-Encoding": "gzip",
		"Origin":          "https://app.example.com",
		"X-Request-ID":    "req-42",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q", got)
	}
	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(gz)
	var page struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &page); err != nil || len(page.Items) != 50 {
		t.Fatalf("page = %d items, err %v", len(page.Items), err)
	}

	entry, ok := log.Find("request completed")
	if !ok {
		t.Fatal("expected a completion log entry")
	}
	if entry.Fields["request_id"] != "req-42" || entry.Fields["status"] != http.StatusOK {
		t.Errorf("log fields = %v", entry.Fields)
	}
}

func TestChain_InvalidRequestCarriesRequestID(t *testing.T) {
	r := newChain(t, &testutil.MockLogger{}, 10)

	rec := do(r, "/v1/profiles?limit=zero", map[string]string{"X-Request-ID": "req-7"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body controller.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != "req-7" || body.Details["parameter"] != "limit" {
		t.Errorf("body = %+v", body)
	}
}

func TestChain_PanicIsRecovered(t *testing.T) {
	log := &testutil.MockLogger{}
	r := newChain(t, log, 10)

	rec := do(r, "/v1/crash", map[string]string{"Accept-Encoding": "gzip"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("the recovery response should not be encoded")
	}
	if !strings.Contains(rec.Body.String(), `"request_id"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if _, ok := log.Find("panic recovered"); !ok {
		t.Error("expected the panic to be logged")
	}
}

func TestChain_RateLimited(t *testing.T) {
	r := newChain(t, &testutil.MockLogger{}, 1)

	if rec := do(r, "/v1/profiles", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := do(r, "/v1/profiles", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("rejected requests still carry a request ID")
	}
}
