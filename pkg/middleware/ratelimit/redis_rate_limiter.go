package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heartline/keyset/pkg/observability/logger"
)

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter counts requests per key in fixed one-second windows shared
// by every replica. It borrows the cache connection and never closes it.
type RedisRateLimiter struct {
	client    redisClient
	limit     int64
	window    time.Duration
	opTimeout time.Duration
	prefix    string
	log       logger.Logger
	now       func() time.Time
}

// RedisConfig configures NewRedisRateLimiter.
type RedisConfig struct {
	RequestsPerSecond int
	Burst             int
	// Prefix namespaces the counters, for example "keyset:ratelimit".
	Prefix           string
	OperationTimeout time.Duration
}

// NewRedisRateLimiter allows RequestsPerSecond+Burst requests per key and
// second. Redis failures let the request through.
func NewRedisRateLimiter(client *redis.Client, cfg RedisConfig, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis rate limiter needs a redis client")
	}
	return newRedisRateLimiter(client, cfg, log)
}

func newRedisRateLimiter(client redisClient, cfg RedisConfig, log logger.Logger) (*RedisRateLimiter, error) {
	if cfg.RequestsPerSecond <= 0 {
		return nil, errors.New("requests_per_second must be greater than zero")
	}
	if cfg.Burst < 0 {
		return nil, errors.New("burst cannot be negative")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 100 * time.Millisecond
	}
	return &RedisRateLimiter{
		client:    client,
		limit:     int64(cfg.RequestsPerSecond + cfg.Burst),
		window:    time.Second,
		opTimeout: cfg.OperationTimeout,
		prefix:    cfg.Prefix,
		log:       log,
		now:       time.Now,
	}, nil
}

// Allow increments the key's counter for the current window.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opTimeout)
	defer cancel()

	window := r.now().UnixNano() / int64(r.window)
	redisKey := r.prefix + ":" + key + ":" + strconv.FormatInt(window, 10)

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Warn("redis rate limiter increment failed, allowing request", "error", err)
		return true
	}
	if count == 1 {
		// Two windows so a lagging replica clock still finds the key.
		if err := r.client.Expire(ctx, redisKey, 2*r.window).Err(); err != nil {
			r.log.Warn("redis rate limiter failed to set TTL", "error", err)
		}
	}
	return count <= r.limit
}
