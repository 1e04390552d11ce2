package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/heartline/keyset/pkg/server/router"
	ginadapter "github.com/heartline/keyset/pkg/server/router/gin"
	gorillaadapter "github.com/heartline/keyset/pkg/server/router/gorilla"
	nethttpadapter "github.com/heartline/keyset/pkg/server/router/nethttp"
)

func TestRouterImplementations_ConformToInterface(t *testing.T) {
	var _ router.Router = nethttpadapter.NewRouter()
	var _ router.Router = ginadapter.NewRouter()
	var _ router.Router = gorillaadapter.NewRouter()
}

func TestNewResponseWriter_TracksStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := router.NewResponseWriter(rec)
	if rw.Status() != http.StatusOK || rw.Written() {
		t.Fatalf("fresh writer: status=%d written=%v", rw.Status(), rw.Written())
	}
	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK)
	if rw.Status() != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d (recorder %d), want the first header to win", rw.Status(), rec.Code)
	}
	if router.NewResponseWriter(rw) != rw {
		t.Error("wrapping twice should return the same writer")
	}
}

func TestNewContext_QueryFollowsSetRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/profiles?limit=5", nil)
	c := router.NewContext(httptest.NewRecorder(), req, nil)
	if c.Query("limit") != "5" {
		t.Fatalf("Query(limit) = %q", c.Query("limit"))
	}
	c.SetRequest(httptest.NewRequest(http.MethodGet, "/v1/profiles?limit=9", nil))
	if c.Query("limit") != "9" {
		t.Errorf("Query after SetRequest = %q, want 9", c.Query("limit"))
	}
	if c.Param("collection") != "" {
		t.Error("nil param func should yield empty params")
	}
}

func TestChain_RunsOutermostFirst(t *testing.T) {
	var got string
	mw := func(tag string) router.MiddlewareFunc {
		return func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				got += tag
				return next(c)
			}
		}
	}
	h := router.Chain(func(router.Context) error { got += "h"; return nil }, mw("a"), mw("b"))
	if err := h(router.NewContext(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)); err != nil {
		t.Fatal(err)
	}
	if got != "abh" {
		t.Errorf("order = %q, want abh", got)
	}
}
