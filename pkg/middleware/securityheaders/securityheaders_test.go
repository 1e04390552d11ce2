package securityheaders

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/nethttp"
)

func serve(cfg Config, req *http.Request) *httptest.ResponseRecorder {
	r := nethttp.NewRouter()
	r.Use(Middleware(cfg))
	r.GET("/v1/profiles", func(c router.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"items": []any{}})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_AppliesDefaultHeaders(t *testing.T) {
	w := serve(DefaultConfig(), httptest.NewRequest(http.MethodGet, "http://example.com/v1/profiles", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
	}
	for name, value := range want {
		if got := w.Header().Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS on insecure request, got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "" {
		t.Errorf("Cache-Control = %q, want none by default", got)
	}
}

func TestMiddleware_HSTS(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*http.Request)
		want    string
	}{
		{"tls", func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, "max-age=31536000; includeSubDomains"},
		{"trusted proxy header", func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") }, "max-age=31536000; includeSubDomains"},
		{"plain http", func(*http.Request) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/v1/profiles", nil)
			tt.prepare(req)
			w := serve(DefaultConfig(), req)
			if got := w.Header().Get("Strict-Transport-Security"); got != tt.want {
				t.Errorf("HSTS = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware_NoStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoStore = true
	cfg.HSTSMaxAge = time.Hour
	req := httptest.NewRequest(http.MethodGet, "https://example.com/v1/profiles", nil)
	req.TLS = &tls.ConnectionState{}

	w := serve(cfg, req)
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestMiddleware_AllowedHosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedHosts = []string{"API.example.com"}

	tests := []struct {
		host string
		want int
	}{
		{"api.example.com", http.StatusOK},
		{"api.example.com:8080", http.StatusOK},
		{"evil.example.com", http.StatusMisdirectedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://"+tt.host+"/v1/profiles", nil)
			req.Host = tt.host
			if w := serve(cfg, req); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
