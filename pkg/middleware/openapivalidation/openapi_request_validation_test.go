package openapivalidation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/routers"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/middleware/testutil"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

func newRouter(t *testing.T, mode string, log *testutil.MockLogger) (*nethttp.NetHTTPRouter, *int) {
	t.Helper()
	mw, err := NewRequestValidationMiddleware(Config{Mode: mode}, log)
	if err != nil {
		t.Fatalf("create middleware: %v", err)
	}
	calls := 0
	handler := func(c router.Context) error {
		calls++
		return c.String(http.StatusOK, "ok")
	}
	r := nethttp.NewRouter()
	r.Use(mw)
	r.GET("/v1/:collection", handler)
	r.GET("/v1/:collection/pages", handler)
	r.GET("/healthz", handler)
	return r, &calls
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEmbeddedDocumentIsValid(t *testing.T) {
	if len(Document) == 0 {
		t.Fatal("embedded document is empty")
	}
	if _, err := NewRequestValidationMiddleware(Config{}, nil); err != nil {
		t.Fatalf("embedded document rejected: %v", err)
	}
}

func TestStrictMode(t *testing.T) {
	r, calls := newRouter(t, ValidationModeStrict, &testutil.MockLogger{})

	valid := []string{
		"/v1/profiles",
		"/v1/profiles?limit=10&sortBy=score,id&sortOrder=desc&cursor=abc",
		"/v1/profiles?select=id&select=score&prefetch=true&city=Rome",
		"/v1/profiles/pages?page=3&limit=50",
		"/healthz",
	}
	for _, target := range valid {
		if rec := get(r, target); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200: %s", target, rec.Code, rec.Body.String())
		}
	}
	if *calls != len(valid) {
		t.Fatalf("handler ran %d times, want %d", *calls, len(valid))
	}

	invalid := map[string]string{
		"/v1/profiles?limit=abc":      "limit",
		"/v1/profiles?limit=0":        "limit",
		"/v1/profiles?prefetch=maybe": "prefetch",
		"/v1/profiles/pages?page=0":   "page",
		"/v1/Profiles?limit=10":       "collection",
	}
	for target, param := range invalid {
		rec := get(r, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", target, rec.Code)
			continue
		}
		var body controller.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Code != "validation.failed" || body.Details["parameter"] != param {
			t.Errorf("GET %s body = %+v, want parameter %s", target, body, param)
		}
	}
	if *calls != len(valid) {
		t.Errorf("invalid requests reached the handler")
	}
}

func TestWarnOnlyMode(t *testing.T) {
	log := &testutil.MockLogger{}
	r, calls := newRouter(t, ValidationModeWarnOnly, log)

	if rec := get(r, "/v1/profiles?limit=abc"); rec.Code != http.StatusOK {
		t.Fatalf("warn-only status = %d, want 200", rec.Code)
	}
	if *calls != 1 {
		t.Fatal("next should be called in warn-only mode")
	}
	entry, ok := log.Find("openapi request validation failed (warn-only)")
	if !ok {
		t.Fatal("expected a warning")
	}
	if entry.Level != "warn" {
		t.Errorf("level = %q, want warn", entry.Level)
	}
}

func TestNewRequestValidationMiddleware_Errors(t *testing.T) {
	if _, err := NewRequestValidationMiddleware(Config{Mode: "loose"}, nil); err == nil ||
		!strings.Contains(err.Error(), "unsupported openapi validation mode") {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewRequestValidationMiddleware(Config{Document: []byte("openapi: [")}, nil); err == nil {
		t.Error("malformed document should fail")
	}
}

func TestToAppError_MethodNotAllowed(t *testing.T) {
	appErr := toAppError(&routers.RouteError{Reason: routers.ErrMethodNotAllowed.Error()})
	if appErr.HTTPStatus != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", appErr.HTTPStatus)
	}
}
