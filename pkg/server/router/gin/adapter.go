// Package gin runs the listing API on gin-gonic/gin.
package gin

import (
	"net/http"
	"strings"
	"sync"

	ginpkg "github.com/gin-gonic/gin"

	"github.com/heartline/keyset/pkg/server/router"
)

// GinRouter implements router.Router on a gin engine.
type GinRouter struct {
	engine     *ginpkg.Engine
	group      *ginpkg.RouterGroup
	middleware []router.MiddlewareFunc
	mu         *sync.RWMutex
	preflight  map[string]struct{}
}

// NewRouter creates a GinRouter in release mode.
func NewRouter() *GinRouter {
	ginpkg.SetMode(ginpkg.ReleaseMode)
	return &GinRouter{
		engine:    ginpkg.New(),
		mu:        &sync.RWMutex{},
		preflight: make(map[string]struct{}),
	}
}

// GET registers a handler for GET requests at path.
func (r *GinRouter) GET(path string, handler router.HandlerFunc, middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...)
	full := joinPath(r.routes().BasePath(), path)
	r.routes().Handle(http.MethodGet, path, adapt(router.Chain(handler, chain...), full))

	if _, ok := r.preflight[full]; ok {
		return
	}
	r.preflight[full] = struct{}{}
	r.routes().Handle(http.MethodOptions, path, adapt(router.Chain(router.Preflight, r.middleware...), full))
}

// Group creates a route group with a common prefix and middleware.
func (r *GinRouter) Group(prefix string, middleware ...router.MiddlewareFunc) router.Router {
	r.mu.RLock()
	combined := append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...)
	r.mu.RUnlock()

	return &GinRouter{
		engine:     r.engine,
		group:      r.routes().Group(prefix),
		middleware: combined,
		mu:         r.mu,
		preflight:  r.preflight,
	}
}

// Use applies middleware to routes registered afterwards.
func (r *GinRouter) Use(middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// ServeHTTP implements http.Handler.
func (r *GinRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

func (r *GinRouter) routes() *ginpkg.RouterGroup {
	if r.group != nil {
		return r.group
	}
	return &r.engine.RouterGroup
}

func adapt(h router.HandlerFunc, pattern string) ginpkg.HandlerFunc {
	return func(gc *ginpkg.Context) {
		router.Serve(h, router.NewContext(gc.Writer, gc.Request, gc.Param), pattern)
	}
}

func joinPath(base, path string) string {
	if base == "/" || base == "" {
		return path
	}
	return strings.TrimSuffix(base, "/") + path
}
