package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/server/router"
)

// RateLimiter decides whether one more request for key fits the limit.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// TokenBucketLimiter keeps one token bucket per key in process memory. Each
// replica limits on its own.
type TokenBucketLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewTokenBucketLimiter allows requestsPerSecond on average with bursts of
// up to burst requests per key.
func NewTokenBucketLimiter(requestsPerSecond int, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
	}
}

// Allow takes a token from the key's bucket.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) bool {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter).Allow()
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter).Allow()
}

// Config configures the rate limit middleware.
type Config struct {
	// KeyFunc extracts the client key. Defaults to the client IP.
	KeyFunc func(router.Context) string
	// ExcludedPathPrefixes bypass the limiter.
	ExcludedPathPrefixes []string
}

// RateLimit rejects requests over the limit with 429 and a Retry-After
// header.
func RateLimit(limiter RateLimiter, cfg Config) router.MiddlewareFunc {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c router.Context) string { return ExtractIPFromRequest(c.Request()) }
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range cfg.ExcludedPathPrefixes {
				if prefix != "" && strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			if !limiter.Allow(c.Request().Context(), keyFunc(c)) {
				c.Response().Header().Set("Retry-After", "1")
				return controller.Error(c, controller.NewRateLimitError("rate limit exceeded, retry later"))
			}
			return next(c)
		}
	}
}

// ExtractIPFromRequest returns the client IP, preferring the first
// X-Forwarded-For entry, then X-Real-IP, then RemoteAddr without its port.
func ExtractIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
