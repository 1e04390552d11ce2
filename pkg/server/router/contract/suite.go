// Package contract holds the conformance suite every router adapter runs.
package contract

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/heartline/keyset/pkg/server/router"
)

// TestRouterContract runs the shared router conformance suite.
func TestRouterContract(t *testing.T, createRouter func() router.Router) {
	t.Helper()

	t.Run("routes", func(t *testing.T) {
		r := createRouter()
		r.GET("/v1/:collection", func(c router.Context) error {
			return c.String(http.StatusOK, c.Param("collection"))
		})
		r.GET("/v1/:collection/pages", func(c router.Context) error {
			return c.String(http.StatusOK, "pages:"+c.Param("collection"))
		})

		if res := perform(r, http.MethodGet, "/v1/profiles"); res.Code != http.StatusOK || res.Body.String() != "profiles" {
			t.Fatalf("GET /v1/profiles = %d %q", res.Code, res.Body.String())
		}
		if res := perform(r, http.MethodGet, "/v1/feed/pages"); res.Body.String() != "pages:feed" {
			t.Fatalf("GET /v1/feed/pages = %q", res.Body.String())
		}
		if res := perform(r, http.MethodGet, "/not-registered"); res.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unregistered route, got %d", res.Code)
		}
	})

	t.Run("query_values", func(t *testing.T) {
		r := createRouter()
		r.GET("/q", func(c router.Context) error {
			return c.JSON(http.StatusOK, map[string]any{
				"first": c.Query("city"),
				"all":   c.QueryValues()["city"],
			})
		})

		res := perform(r, http.MethodGet, "/q?city=Oslo&city=Rome")
		want := `{"all":["Oslo","Rome"],"first":"Oslo"}`
		if got := strings.TrimSpace(res.Body.String()); got != want {
			t.Fatalf("body = %s, want %s", got, want)
		}
		if !strings.Contains(res.Header().Get("Content-Type"), "application/json") {
			t.Fatalf("expected json content-type, got %q", res.Header().Get("Content-Type"))
		}
	})

	t.Run("groups", func(t *testing.T) {
		r := createRouter()
		api := r.Group("/v1", func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				c.Set("group", "v1")
				return next(c)
			}
		})
		api.GET("/:collection", func(c router.Context) error {
			return c.String(http.StatusOK, c.Get("group").(string)+"/"+c.Param("collection")+" "+router.Route(c))
		})

		if res := perform(r, http.MethodGet, "/v1/profiles"); res.Body.String() != "v1/profiles /v1/:collection" {
			t.Fatalf("group route = %d %q", res.Code, res.Body.String())
		}
	})

	t.Run("middleware_order", func(t *testing.T) {
		r := createRouter()
		var order []string
		step := func(name string) router.MiddlewareFunc {
			return func(next router.HandlerFunc) router.HandlerFunc {
				return func(c router.Context) error {
					order = append(order, name)
					return next(c)
				}
			}
		}
		r.Use(step("first"), step("second"))
		r.GET("/m", func(c router.Context) error {
			order = append(order, "handler")
			return c.String(http.StatusOK, "ok")
		}, step("route"))

		perform(r, http.MethodGet, "/m")
		if want := []string{"first", "second", "route", "handler"}; !reflect.DeepEqual(order, want) {
			t.Fatalf("order = %v, want %v", order, want)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		r := createRouter()
		r.Use(func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				c.Response().Header().Set("X-Global", "yes")
				return next(c)
			}
		})
		r.GET("/v1/:collection", func(c router.Context) error { return c.String(http.StatusOK, "ok") })

		res := perform(r, http.MethodOptions, "/v1/profiles")
		if res.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS = %d, want 204", res.Code)
		}
		if res.Header().Get("X-Global") != "yes" {
			t.Fatal("global middleware should run on preflight requests")
		}
	})

	t.Run("errors", func(t *testing.T) {
		r := createRouter()
		called := false
		r.GET("/stop", func(c router.Context) error {
			called = true
			return nil
		}, func(router.HandlerFunc) router.HandlerFunc {
			return func(router.Context) error { return errors.New("stop") }
		})
		r.GET("/written", func(c router.Context) error {
			if err := c.String(http.StatusBadRequest, "bad"); err != nil {
				return err
			}
			return errors.New("ignored")
		})

		if res := perform(r, http.MethodGet, "/stop"); res.Code != http.StatusInternalServerError || called {
			t.Fatalf("middleware error = %d, handler called %v", res.Code, called)
		}
		if res := perform(r, http.MethodGet, "/written"); res.Code != http.StatusBadRequest || res.Body.String() != "bad" {
			t.Fatalf("written response = %d %q", res.Code, res.Body.String())
		}
	})

	t.Run("response_writer", func(t *testing.T) {
		r := createRouter()
		r.GET("/rw", func(c router.Context) error {
			rw := c.Response()
			if rw.Written() {
				t.Error("Written must be false before writes")
			}
			rw.WriteHeader(http.StatusAccepted)
			if !rw.Written() || rw.Status() != http.StatusAccepted {
				t.Errorf("after WriteHeader: written=%v status=%d", rw.Written(), rw.Status())
			}
			return nil
		})
		if res := perform(r, http.MethodGet, "/rw"); res.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", res.Code)
		}
	})
}

func perform(r router.Router, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
