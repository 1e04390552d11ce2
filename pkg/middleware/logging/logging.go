// Package logging logs each API request through the service logger.
package logging

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/middleware"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server/router"
)

// Mode sets how much is logged for matching paths.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeMinimal Mode = "minimal"
	ModeFull    Mode = "full"
)

// Log field names.
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldCollection = "collection"
	FieldQuery      = "query"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
)

// Config configures request logging.
type Config struct {
	Enabled bool
	// LogStart also logs when a request begins, in full mode.
	LogStart             bool
	ExcludedPathPrefixes []string
	// PathPolicies override the mode; the longest matching prefix wins.
	PathPolicies []PathPolicy
}

// PathPolicy sets the mode for a path prefix.
type PathPolicy struct {
	Prefix string
	Mode   Mode
}

// DefaultConfig logs every request in full mode without start events.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Logging creates middleware with DefaultConfig.
func Logging(log logger.Logger) router.MiddlewareFunc {
	return WithConfig(log, DefaultConfig())
}

// WithConfig creates request logging middleware. Responses with a 5xx status
// or a handler error log at error level, 4xx at warn.
func WithConfig(log logger.Logger, cfg Config) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			mode := cfg.modeForPath(c.Request().URL.Path)
			if mode == ModeOff {
				return next(c)
			}

			start := time.Now()
			if cfg.LogStart && mode == ModeFull {
				log.Info("request started", fields(c, mode)...)
			}

			err := next(c)
			status := c.Response().Status()
			args := append(fields(c, mode),
				FieldStatus, status,
				FieldDurationMS, time.Since(start).Milliseconds(),
			)

			switch {
			case err != nil:
				log.Error("request failed", append(args, FieldError, err)...)
			case status >= http.StatusInternalServerError:
				log.Error("request completed", args...)
			case status >= http.StatusBadRequest:
				log.Warn("request completed", args...)
			default:
				log.Info("request completed", args...)
			}
			return err
		}
	}
}

func fields(c router.Context, mode Mode) []any {
	req := c.Request()
	args := []any{
		FieldRequestID, requestID(req.Context()),
		FieldMethod, req.Method,
		FieldPath, req.URL.Path,
	}
	if mode != ModeFull {
		return args
	}
	if name := c.Param("collection"); name != "" {
		args = append(args, FieldCollection, name)
	}
	if req.URL.RawQuery != "" {
		args = append(args, FieldQuery, req.URL.RawQuery)
	}
	return append(args,
		FieldRemoteAddr, req.RemoteAddr,
		FieldUserAgent, req.UserAgent(),
	)
}

func (c Config) modeForPath(path string) Mode {
	if !c.Enabled {
		return ModeOff
	}
	for _, prefix := range c.ExcludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return ModeOff
		}
	}

	bestLen := -1
	bestMode := ModeFull
	for _, policy := range c.PathPolicies {
		if strings.TrimSpace(policy.Prefix) == "" {
			continue
		}
		if strings.HasPrefix(path, policy.Prefix) && len(policy.Prefix) > bestLen {
			bestLen = len(policy.Prefix)
			bestMode = parseMode(policy.Mode)
		}
	}
	return bestMode
}

func parseMode(mode Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case ModeOff:
		return ModeOff
	case ModeMinimal:
		return ModeMinimal
	default:
		return ModeFull
	}
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}
