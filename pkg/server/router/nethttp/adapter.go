// Package nethttp runs the listing API on net/http with a small segment
// matcher.
package nethttp

import (
	"net/http"
	"strings"
	"sync"

	"github.com/heartline/keyset/pkg/server/router"
)

// NetHTTPRouter implements router.Router without third-party routing.
type NetHTTPRouter struct {
	table      *table
	middleware []router.MiddlewareFunc
	prefix     string
}

type table struct {
	mu        sync.RWMutex
	routes    []route
	preflight map[string]struct{}
}

type route struct {
	method  string
	path    string
	pattern []string
	handler router.HandlerFunc
}

// NewRouter creates a NetHTTPRouter.
func NewRouter() *NetHTTPRouter {
	return &NetHTTPRouter{table: &table{preflight: make(map[string]struct{})}}
}

// GET registers a handler for GET requests at path.
func (r *NetHTTPRouter) GET(path string, handler router.HandlerFunc, middleware ...router.MiddlewareFunc) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	full := r.prefix + path
	pattern := split(full)
	chain := append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...)
	r.table.routes = append(r.table.routes, route{
		method:  http.MethodGet,
		path:    full,
		pattern: pattern,
		handler: router.Chain(handler, chain...),
	})

	if _, ok := r.table.preflight[full]; ok {
		return
	}
	r.table.preflight[full] = struct{}{}
	r.table.routes = append(r.table.routes, route{
		method:  http.MethodOptions,
		path:    full,
		pattern: pattern,
		handler: router.Chain(router.Preflight, r.middleware...),
	})
}

// Group creates a route group with a common prefix and middleware.
func (r *NetHTTPRouter) Group(prefix string, middleware ...router.MiddlewareFunc) router.Router {
	r.table.mu.RLock()
	defer r.table.mu.RUnlock()
	return &NetHTTPRouter{
		table:      r.table,
		middleware: append(append([]router.MiddlewareFunc{}, r.middleware...), middleware...),
		prefix:     r.prefix + prefix,
	}
}

// Use applies middleware to routes registered afterwards.
func (r *NetHTTPRouter) Use(middleware ...router.MiddlewareFunc) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// ServeHTTP dispatches to the first route whose method and pattern match.
func (r *NetHTTPRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.table.mu.RLock()
	routes := r.table.routes
	r.table.mu.RUnlock()

	path := split(req.URL.Path)
	for _, rt := range routes {
		if rt.method != req.Method {
			continue
		}
		params, ok := match(rt.pattern, path)
		if !ok {
			continue
		}
		router.Serve(rt.handler, router.NewContext(w, req, func(name string) string { return params[name] }), rt.path)
		return
	}
	http.NotFound(w, req)
}

func split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// match compares segments; :name segments capture a parameter.
func match(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, part := range pattern {
		if name, ok := strings.CutPrefix(part, ":"); ok {
			if path[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[name] = path[i]
			continue
		}
		if part != path[i] {
			return nil, false
		}
	}
	return params, true
}
