package timeout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/server/router"
)

// Config configures the request deadline.
type Config struct {
	// Timeout bounds the whole request, store calls included. Zero disables
	// the middleware.
	Timeout              time.Duration
	ExcludedPathPrefixes []string
}

// Middleware puts a deadline on the request context. A handler that runs out
// of time without writing gets a 504 error envelope.
func Middleware(cfg Config) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if cfg.Timeout <= 0 || excluded(c.Request().URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))
			err := next(c)
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			if c.Response().Written() {
				return nil
			}
			return controller.Error(c, context.DeadlineExceeded)
		}
	}
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
