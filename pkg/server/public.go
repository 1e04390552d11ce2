package server

import (
	"fmt"
	"time"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/controller"
	"github.com/heartline/keyset/pkg/middleware/compression"
	"github.com/heartline/keyset/pkg/middleware/cors"
	"github.com/heartline/keyset/pkg/middleware/logging"
	"github.com/heartline/keyset/pkg/middleware/metrics"
	"github.com/heartline/keyset/pkg/middleware/openapivalidation"
	"github.com/heartline/keyset/pkg/middleware/ratelimit"
	"github.com/heartline/keyset/pkg/middleware/recovery"
	"github.com/heartline/keyset/pkg/middleware/requestid"
	"github.com/heartline/keyset/pkg/middleware/securityheaders"
	"github.com/heartline/keyset/pkg/middleware/timeout"
	"github.com/heartline/keyset/pkg/middleware/tracing"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/store/redis"
)

// PublicOptions configures the public API server.
type PublicOptions struct {
	HTTP          config.HTTPConfig
	Observability config.ObservabilityConfig
	// Limiter rate limits requests per client IP. Nil disables rate limiting.
	Limiter ratelimit.RateLimiter
}

// PublicAPIServer serves the collection listings:
//
//	GET /v1                      registered collection names
//	GET /v1/{collection}         keyset pages
//	GET /v1/{collection}/pages   offset pages
type PublicAPIServer struct {
	*Server
	collections *collection.Registry
}

// NewPublicAPIServer applies the middleware stack to r and registers the
// listing routes. The order is:
//
//  1. request ID, so every later log line and error body carries it
//  2. logging, recovery, metrics and tracing
//  3. security headers and CORS, before anything can reject the request
//  4. rate limiting, then the request deadline
//  5. compression, then request validation
func NewPublicAPIServer(opts PublicOptions, r router.Router, collections *collection.Registry, log logger.Logger) (*PublicAPIServer, error) {
	if collections == nil {
		return nil, fmt.Errorf("public server needs a collection registry")
	}

	stack := []router.MiddlewareFunc{
		requestid.RequestID(),
		logging.Logging(log),
		recovery.Recovery(log),
	}
	if opts.Observability.MetricsEnabled {
		stack = append(stack, metrics.Metrics())
	}
	if opts.Observability.TracingEnabled {
		stack = append(stack, tracing.Tracing(tracing.Config{TracerName: "keyset-api"}))
	}
	if opts.HTTP.SecurityHeaders {
		headers := securityheaders.DefaultConfig()
		headers.AllowedHosts = opts.HTTP.AllowedHosts
		headers.HSTSMaxAge = opts.HTTP.HSTSMaxAge
		stack = append(stack, securityheaders.Middleware(headers))
	}
	if len(opts.HTTP.CORSAllowedOrigins) > 0 {
		stack = append(stack, cors.Middleware(cors.DefaultConfig(opts.HTTP.CORSAllowedOrigins...)))
	}
	if opts.Limiter != nil {
		stack = append(stack, ratelimit.RateLimit(opts.Limiter, ratelimit.Config{}))
	}
	if opts.HTTP.RequestTimeout > 0 {
		stack = append(stack, timeout.Middleware(timeout.Config{Timeout: opts.HTTP.RequestTimeout}))
	}
	if opts.HTTP.Compression {
		stack = append(stack, compression.Middleware(compression.DefaultConfig()))
	}
	if opts.HTTP.ValidateRequests {
		validate, err := openapivalidation.NewRequestValidationMiddleware(openapivalidation.Config{}, log)
		if err != nil {
			return nil, fmt.Errorf("request validation: %w", err)
		}
		stack = append(stack, validate)
	}
	r.Use(stack...)

	s := &PublicAPIServer{
		Server: NewServer(Config{
			Port:            opts.HTTP.Port,
			ReadTimeout:     opts.HTTP.ReadTimeout,
			WriteTimeout:    opts.HTTP.WriteTimeout,
			IdleTimeout:     opts.HTTP.IdleTimeout,
			ShutdownTimeout: opts.HTTP.ShutdownTimeout,
		}, r, log),
		collections: collections,
	}

	r.GET("/v1", s.handleCollections)
	r.GET("/v1/:collection", s.handleKeyset)
	r.GET("/v1/:collection/pages", s.handleOffset)

	log.Info("public API configured",
		"collections", collections.Names(),
		"compression", opts.HTTP.Compression,
		"validate_requests", opts.HTTP.ValidateRequests,
		"rate_limited", opts.Limiter != nil,
	)
	return s, nil
}

func (s *PublicAPIServer) handleCollections(c router.Context) error {
	return controller.Success(c, s.collections.Names())
}

func (s *PublicAPIServer) handleKeyset(c router.Context) error {
	endpoint, err := s.endpoint(c)
	if err != nil {
		return controller.Error(c, err)
	}
	page, err := endpoint.Keyset(c.Request().Context(), c.QueryValues())
	if err != nil {
		return controller.Error(c, err)
	}
	return controller.Page(c, page)
}

func (s *PublicAPIServer) handleOffset(c router.Context) error {
	endpoint, err := s.endpoint(c)
	if err != nil {
		return controller.Error(c, err)
	}
	page, err := endpoint.Offset(c.Request().Context(), c.QueryValues())
	if err != nil {
		return controller.Error(c, err)
	}
	return controller.Page(c, page)
}

func (s *PublicAPIServer) endpoint(c router.Context) (collection.Endpoint, error) {
	name := c.Param("collection")
	endpoint, ok := s.collections.Get(name)
	if !ok {
		return nil, controller.NewNotFoundError(fmt.Sprintf("collection %q not found", name))
	}
	return endpoint, nil
}

// NewLimiter builds the limiter named by cfg.Store. The redis store shares
// counters across replicas through the cache client.
func NewLimiter(cfg config.RateLimitConfig, cache *redis.Adapter, prefix string, opTimeout time.Duration, log logger.Logger) (ratelimit.RateLimiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Store {
	case "", "memory":
		return ratelimit.NewTokenBucketLimiter(cfg.RequestsPerSecond, cfg.Burst), nil
	case "redis":
		if cache == nil {
			return nil, fmt.Errorf("rate_limit.store redis needs cache.type redis")
		}
		limiter, err := ratelimit.NewRedisRateLimiter(cache.Client(), ratelimit.RedisConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Prefix:            prefix + "ratelimit",
			OperationTimeout:  opTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		return limiter, nil
	default:
		return nil, fmt.Errorf("unsupported rate_limit.store %q (supported: memory, redis)", cfg.Store)
	}
}
