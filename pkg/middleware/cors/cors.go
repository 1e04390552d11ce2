package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/server/router"
)

// Config configures CORS for browser clients of the read-only listing API.
type Config struct {
	// AllowOrigins lists exact origins, single-"*" wildcard patterns such as
	// "https://*.example.com", or "*" for any origin. An empty list disables
	// the middleware.
	AllowOrigins  []string
	AllowHeaders  []string
	ExposeHeaders []string
	MaxAge        time.Duration
}

// DefaultConfig returns CORS defaults for the given origins.
func DefaultConfig(origins ...string) Config {
	return Config{
		AllowOrigins:  origins,
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
}

const allowMethods = "GET, OPTIONS"

// Middleware answers preflights and sets CORS headers on allowed origins.
// Requests from other origins pass through without CORS headers, except
// preflights which get 403.
func Middleware(cfg Config) router.MiddlewareFunc {
	origins := make([]string, 0, len(cfg.AllowOrigins))
	anyOrigin := false
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			anyOrigin = true
		}
		if o != "" {
			origins = append(origins, o)
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			origin := req.Header.Get("Origin")
			if len(origins) == 0 || origin == "" {
				return next(c)
			}

			h := c.Response().Header()
			if !allowed(origins, origin) {
				if preflight(req) {
					c.Response().WriteHeader(http.StatusForbidden)
					return nil
				}
				return next(c)
			}

			appendVary(h, "Origin")
			if anyOrigin {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if len(cfg.ExposeHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
			}

			if !preflight(req) {
				return next(c)
			}
			appendVary(h, "Access-Control-Request-Method")
			appendVary(h, "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			if len(cfg.AllowHeaders) > 0 {
				h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
			} else if requested := req.Header.Get("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge/time.Second)))
			}
			c.Response().WriteHeader(http.StatusNoContent)
			return nil
		}
	}
}

func preflight(req *http.Request) bool {
	return req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != ""
}

func allowed(origins []string, origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	for _, o := range origins {
		if o == "*" || strings.EqualFold(o, origin) || wildcardMatch(o, origin) {
			return true
		}
	}
	return false
}

// wildcardMatch accepts patterns with exactly one "*".
func wildcardMatch(pattern, value string) bool {
	if strings.Count(pattern, "*") != 1 {
		return false
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return len(value) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
}

func appendVary(h http.Header, value string) {
	current := h.Get("Vary")
	if current == "" {
		h.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	h.Set("Vary", current+", "+value)
}
