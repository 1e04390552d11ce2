package router

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
)

// ParamFunc looks up a path parameter in the underlying router.
type ParamFunc func(name string) string

type requestContext struct {
	request  *http.Request
	response ResponseWriter
	param    ParamFunc
	query    url.Values

	mu    sync.RWMutex
	store map[string]any
}

// NewContext builds the Context shared by the router adapters.
func NewContext(w http.ResponseWriter, r *http.Request, param ParamFunc) Context {
	if param == nil {
		param = func(string) string { return "" }
	}
	return &requestContext{
		request:  r,
		response: NewResponseWriter(w),
		param:    param,
		store:    make(map[string]any),
	}
}

func (c *requestContext) Request() *http.Request       { return c.request }
func (c *requestContext) Response() ResponseWriter     { return c.response }
func (c *requestContext) SetResponse(w ResponseWriter) { c.response = w }
func (c *requestContext) Param(name string) string     { return c.param(name) }

func (c *requestContext) SetRequest(r *http.Request) {
	c.request = r
	c.query = nil
}

func (c *requestContext) QueryValues() url.Values {
	if c.query == nil {
		c.query = c.request.URL.Query()
	}
	return c.query
}

func (c *requestContext) Query(name string) string {
	return c.QueryValues().Get(name)
}

func (c *requestContext) JSON(code int, v any) error {
	c.response.Header().Set("Content-Type", "application/json; charset=utf-8")
	c.response.WriteHeader(code)
	return json.NewEncoder(c.response).Encode(v)
}

func (c *requestContext) String(code int, s string) error {
	c.response.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.response.WriteHeader(code)
	_, err := io.WriteString(c.response, s)
	return err
}

func (c *requestContext) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store[key]
}

func (c *requestContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
}

type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// NewResponseWriter wraps w to track the written status.
func NewResponseWriter(w http.ResponseWriter) ResponseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseWriter) Written() bool { return w.written }

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
