// Package securityheaders hardens the responses of the JSON listing API.
package securityheaders

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/server/router"
)

// Config selects the headers sent with every response.
type Config struct {
	// AllowedHosts restricts the Host header. Empty allows any host.
	AllowedHosts []string
	// HSTSMaxAge is sent as Strict-Transport-Security on secure requests.
	// Zero omits the header.
	HSTSMaxAge time.Duration
	// ProxyHeaders mark a request as secure when a TLS terminating proxy
	// sets one of them to the given value.
	ProxyHeaders map[string]string
	// NoStore adds Cache-Control: no-store so intermediaries never keep
	// pages or cursors.
	NoStore bool
}

// DefaultConfig returns the defaults for a read-only JSON API.
func DefaultConfig() Config {
	return Config{
		HSTSMaxAge:   365 * 24 * time.Hour,
		ProxyHeaders: map[string]string{"X-Forwarded-Proto": "https"},
	}
}

// The API serves JSON only, so nothing may be framed, executed or embedded.
var staticHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":              "no-referrer",
	"Cross-Origin-Resource-Policy": "same-site",
}

// Middleware rejects unknown hosts with 421 and sets the security headers
// before the handler runs.
func Middleware(cfg Config) router.MiddlewareFunc {
	hosts := make(map[string]bool, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = true
		}
	}
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10) + "; includeSubDomains"
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if len(hosts) > 0 && !hosts[strings.ToLower(hostname(req))] {
				return c.JSON(http.StatusMisdirectedRequest, map[string]string{
					"error":   "misdirected_request",
					"message": "host not served here",
				})
			}

			h := c.Response().Header()
			for k, v := range staticHeaders {
				h.Set(k, v)
			}
			if cfg.NoStore {
				h.Set("Cache-Control", "no-store")
			}
			if hsts != "" && secure(req, cfg.ProxyHeaders) {
				h.Set("Strict-Transport-Security", hsts)
			}
			return next(c)
		}
	}
}

func hostname(req *http.Request) string {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func secure(req *http.Request, proxyHeaders map[string]string) bool {
	if req.TLS != nil || strings.EqualFold(req.URL.Scheme, "https") {
		return true
	}
	for name, want := range proxyHeaders {
		if strings.EqualFold(strings.TrimSpace(req.Header.Get(name)), want) {
			return true
		}
	}
	return false
}
