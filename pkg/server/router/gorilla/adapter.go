// Package gorilla runs the listing API on gorilla/mux.
package gorilla

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/heartline/keyset/pkg/server/router"
)

// GorillaRouter implements router.Router on a mux.Router.
type GorillaRouter struct {
	router     *mux.Router
	prefix     string
	middleware []router.MiddlewareFunc
	mu         *sync.RWMutex
	preflight  map[*mux.Router]map[string]struct{}
}

// NewRouter creates a GorillaRouter.
func NewRouter() *GorillaRouter {
	return &GorillaRouter{
		router:    mux.NewRouter(),
		mu:        &sync.RWMutex{},
		preflight: make(map[*mux.Router]map[string]struct{}),
	}
}

// GET registers a handler for GET requests at path. Path parameters use the
// :name form and are translated to mux variables.
func (r *GorillaRouter) GET(path string, handler router.HandlerFunc, middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	muxPath := toMuxPath(path)
	chain := append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...)
	full := r.prefix + path
	r.router.HandleFunc(muxPath, adapt(router.Chain(handler, chain...), full)).Methods(http.MethodGet)

	seen := r.preflight[r.router]
	if seen == nil {
		seen = make(map[string]struct{})
		r.preflight[r.router] = seen
	}
	if _, ok := seen[muxPath]; ok {
		return
	}
	seen[muxPath] = struct{}{}
	r.router.HandleFunc(muxPath, adapt(router.Chain(router.Preflight, r.middleware...), full)).Methods(http.MethodOptions)
}

// Group creates a route group with a common prefix and middleware.
func (r *GorillaRouter) Group(prefix string, middleware ...router.MiddlewareFunc) router.Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	combined := append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...)

	return &GorillaRouter{
		router:     r.router.PathPrefix(prefix).Subrouter(),
		prefix:     r.prefix + prefix,
		middleware: combined,
		mu:         r.mu,
		preflight:  r.preflight,
	}
}

// Use applies middleware to routes registered afterwards.
func (r *GorillaRouter) Use(middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// ServeHTTP implements http.Handler.
func (r *GorillaRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func adapt(h router.HandlerFunc, pattern string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		router.Serve(h, router.NewContext(w, req, func(name string) string { return vars[name] }), pattern)
	}
}

func toMuxPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}
