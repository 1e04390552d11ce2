package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

// DefaultKeyPrefix namespaces every key written by the adapter.
const DefaultKeyPrefix = "keyset:"

// Adapter provides Redis connectivity. It stores offset-pagination totals
// and export checkpoints.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

// Config holds Redis connection configuration
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
	KeyPrefix        string
}

// NewAdapter creates a new Redis adapter with connection pooling
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConns
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.OperationTimeout
	opts.WriteTimeout = cfg.OperationTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"max_conns", cfg.MaxConns,
		"operation_timeout", cfg.OperationTimeout,
	)
	return newAdapter(client, cfg, log), nil
}

func newAdapter(client *redis.Client, cfg Config, log logger.Logger) *Adapter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Adapter{client: client, logger: log, config: cfg}
}

// Client returns the underlying *redis.Client for direct access when needed
func (a *Adapter) Client() *redis.Client {
	return a.client
}

// Ping verifies the Redis connection is alive
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) countKey(key string) string {
	return a.config.KeyPrefix + "count:" + key
}

func (a *Adapter) checkpointKey(job string) string {
	return a.config.KeyPrefix + "checkpoint:" + job
}

// GetCount implements pagination.CountCache.
func (a *Adapter) GetCount(ctx context.Context, key string) (int64, bool, error) {
	ctx, span := tracing.StartCacheSpan(ctx, tracing.SpanOperationCacheGet, tracing.WithSystem("redis"))
	defer span.End()

	val, err := a.client.Get(ctx, a.countKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return 0, false, fmt.Errorf("failed to get count %s: %w", key, err)
	}
	total, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt count %s: %w", key, err)
	}
	return total, true, nil
}

// SetCount implements pagination.CountCache.
func (a *Adapter) SetCount(ctx context.Context, key string, total int64, ttl time.Duration) error {
	ctx, span := tracing.StartCacheSpan(ctx, tracing.SpanOperationCacheSet, tracing.WithSystem("redis"))
	defer span.End()

	if err := a.client.Set(ctx, a.countKey(key), total, ttl).Err(); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to set count %s: %w", key, err)
	}
	return nil
}

// InvalidateCounts drops cached totals so the next offset page recounts.
func (a *Adapter) InvalidateCounts(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = a.countKey(k)
	}
	if err := a.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete counts: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint saved for job, if any.
func (a *Adapter) LoadCheckpoint(ctx context.Context, job string) ([]byte, bool, error) {
	data, err := a.client.Get(ctx, a.checkpointKey(job)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint %s: %w", job, err)
	}
	return data, true, nil
}

// SaveCheckpoint overwrites the checkpoint for job. Checkpoints never expire.
func (a *Adapter) SaveCheckpoint(ctx context.Context, job string, data []byte) error {
	if err := a.client.Set(ctx, a.checkpointKey(job), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", job, err)
	}
	return nil
}

// DeleteCheckpoint forgets job's progress so the next run starts over.
func (a *Adapter) DeleteCheckpoint(ctx context.Context, job string) error {
	if err := a.client.Del(ctx, a.checkpointKey(job)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", job, err)
	}
	return nil
}

// HealthCheck verifies the Redis connection is healthy with a timeout
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close gracefully closes the Redis connection
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed")
	return nil
}
