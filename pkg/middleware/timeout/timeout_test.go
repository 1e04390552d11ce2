package timeout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

func perform(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddleware_DeadlineExceededReturns504(t *testing.T) {
	r := nethttp.NewRouter()
	r.Use(Middleware(Config{Timeout: 5 * time.Millisecond}))
	r.GET("/v1/profiles", func(c router.Context) error {
		<-c.Request().Context().Done()
		return &pagination.StoreError{Op: "find", Err: c.Request().Context().Err()}
	})

	rec := perform(r, "/v1/profiles")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status %d, got %d", http.StatusGatewayTimeout, rec.Code)
	}
	var body controller.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "request.timeout" {
		t.Errorf("code = %q, want request.timeout", body.Code)
	}
}

func TestMiddleware_WrittenResponseIsKept(t *testing.T) {
	r := nethttp.NewRouter()
	r.Use(Middleware(Config{Timeout: 5 * time.Millisecond}))
	r.GET("/v1/profiles", func(c router.Context) error {
		<-c.Request().Context().Done()
		if err := controller.Error(c, c.Request().Context().Err()); err != nil {
			return err
		}
		return context.DeadlineExceeded
	})

	rec := perform(r, "/v1/profiles")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
	var body controller.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body should hold a single envelope: %v", err)
	}
}

func TestMiddleware_ExcludedPathBypassesTimeout(t *testing.T) {
	r := nethttp.NewRouter()
	r.Use(Middleware(Config{
		Timeout:              time.Millisecond,
		ExcludedPathPrefixes: []string{"/v1/export"},
	}))
	r.GET("/v1/export/profiles", func(c router.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("excluded path should carry no deadline")
		}
		return c.String(http.StatusOK, "ok")
	})

	if rec := perform(r, "/v1/export/profiles"); rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestMiddleware_ZeroTimeoutDisables(t *testing.T) {
	r := nethttp.NewRouter()
	r.Use(Middleware(Config{}))
	r.GET("/v1/profiles", func(c router.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("zero timeout should set no deadline")
		}
		return c.String(http.StatusOK, "ok")
	})
	if rec := perform(r, "/v1/profiles"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddleware_PassesHandlerErrorsWhenNotTimeout(t *testing.T) {
	r := nethttp.NewRouter()
	r.Use(Middleware(Config{Timeout: time.Second}))
	r.GET("/v1/profiles", func(c router.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("handler should see a deadline")
		}
		return errors.New("boom")
	})

	if rec := perform(r, "/v1/profiles"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}
