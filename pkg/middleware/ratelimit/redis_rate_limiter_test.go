package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heartline/keyset/pkg/middleware/testutil"
)

type fakeRedisClient struct {
	mu      sync.Mutex
	data    map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{
		data:    make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (c *fakeRedisClient) Incr(_ context.Context, key string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return redis.NewIntResult(0, c.err)
	}
	c.data[key]++
	return redis.NewIntResult(c.data[key], nil)
}

func (c *fakeRedisClient) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisRateLimiter_AllowsWithinLimitAndResetsWindow(t *testing.T) {
	client := newFakeRedisClient()
	limiter, err := newRedisRateLimiter(client, RedisConfig{RequestsPerSecond: 3, Burst: 2, Prefix: "rl"}, &testutil.MockLogger{})
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if !limiter.Allow(ctx, "203.0.113.7") {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("expected request beyond limit to be rejected")
	}
	if !limiter.Allow(ctx, "198.51.100.1") {
		t.Fatal("other clients have their own counter")
	}

	if ttl := client.expires["rl:203.0.113.7:1700000000"]; ttl != 2*time.Second {
		t.Errorf("ttl = %v, want 2s", ttl)
	}

	now = now.Add(time.Second)
	if !limiter.Allow(ctx, "203.0.113.7") {
		t.Fatal("expected limiter to reset in the next window")
	}
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client := newFakeRedisClient()
	client.err = errors.New("connection refused")
	log := &testutil.MockLogger{}
	limiter, err := newRedisRateLimiter(client, RedisConfig{RequestsPerSecond: 1}, log)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if !limiter.Allow(context.Background(), "k") {
			t.Fatal("a redis failure must not reject traffic")
		}
	}
	if _, ok := log.Find("redis rate limiter increment failed, allowing request"); !ok {
		t.Error("expected the failure to be logged")
	}
}

func TestNewRedisRateLimiter_Validation(t *testing.T) {
	if _, err := NewRedisRateLimiter(nil, RedisConfig{RequestsPerSecond: 1}, &testutil.MockLogger{}); err == nil {
		t.Error("nil client should fail")
	}
	client := newFakeRedisClient()
	if _, err := newRedisRateLimiter(client, RedisConfig{}, &testutil.MockLogger{}); err == nil {
		t.Error("zero rate should fail")
	}
	if _, err := newRedisRateLimiter(client, RedisConfig{RequestsPerSecond: 1, Burst: -1}, &testutil.MockLogger{}); err == nil {
		t.Error("negative burst should fail")
	}
}
