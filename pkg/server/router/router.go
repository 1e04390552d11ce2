// Package router abstracts the HTTP router behind the read-only listing API
// so the server can run on gin, gorilla/mux or plain net/http.
package router

import (
	"net/http"
	"net/url"
)

// Router registers read routes. Every route also answers OPTIONS with 204 so
// CORS preflights reach the global middleware.
type Router interface {
	GET(path string, handler HandlerFunc, middleware ...MiddlewareFunc)

	// Group creates a route group with a common prefix and middleware.
	Group(prefix string, middleware ...MiddlewareFunc) Router

	// Use applies middleware to routes registered after the call.
	Use(middleware ...MiddlewareFunc)

	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// HandlerFunc handles one request.
type HandlerFunc func(Context) error

// MiddlewareFunc wraps a HandlerFunc.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// Context gives handlers router-agnostic access to the request and response.
type Context interface {
	Request() *http.Request
	SetRequest(r *http.Request)
	Response() ResponseWriter
	SetResponse(w ResponseWriter)

	// Param returns a path parameter, e.g. collection in /v1/:collection.
	Param(name string) string
	// Query returns the first value of a query parameter.
	Query(name string) string
	// QueryValues returns every query parameter.
	QueryValues() url.Values

	JSON(code int, v any) error
	String(code int, s string) error

	Get(key string) any
	Set(key string, value any)
}

// ResponseWriter tracks the status written to the client.
type ResponseWriter interface {
	http.ResponseWriter

	// Status returns the written status code, or 200 before anything was written.
	Status() int
	Written() bool
}

// Chain wraps h with middleware so the first middleware runs outermost.
func Chain(h HandlerFunc, middleware ...MiddlewareFunc) HandlerFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// Preflight answers OPTIONS requests that no middleware answered.
func Preflight(c Context) error {
	if !c.Response().Written() {
		c.Response().WriteHeader(http.StatusNoContent)
	}
	return nil
}

// RouteKey holds the matched route pattern, e.g. /v1/:collection.
const RouteKey = "route"

// Route returns the pattern of the route serving c.
func Route(c Context) string {
	route, _ := c.Get(RouteKey).(string)
	return route
}

// Serve records the route pattern, runs h and turns an unhandled error into
// a 500.
func Serve(h HandlerFunc, c Context, pattern string) {
	c.Set(RouteKey, pattern)
	if err := h(c); err != nil && !c.Response().Written() {
		http.Error(c.Response(), err.Error(), http.StatusInternalServerError)
	}
}
