package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

// refundScript decrements a live counter. DECR keeps the key's TTL.
const refundScript = `
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n > 0 then
  redis.call('DECR', KEYS[1])
end
return 0
`

// DefaultKeyPrefix namespaces bucket keys in Redis.
const DefaultKeyPrefix = "seovault:rl:"

// RedisLimiter keeps fixed-window counters in Redis. The check and the
// increment run in one Lua script, so concurrent callers across processes
// cannot both take the last slot. Window boundaries follow the key TTL,
// which Redis tracks on its own clock.
type RedisLimiter struct {
	client    redis.UniversalClient
	script    *redis.Script
	refund    *redis.Script
	keyPrefix string
	closeOnce sync.Once
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient, keyPrefix string) *RedisLimiter {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisLimiter{
		client:    client,
		script:    redis.NewScript(fixedWindowScript),
		refund:    redis.NewScript(refundScript),
		keyPrefix: keyPrefix,
	}
}

// NewRedisLimiterFromURL parses a redis:// URL and pings the server.
func NewRedisLimiterFromURL(ctx context.Context, rawURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: ping redis: %w", err)
	}

	return NewRedisLimiter(client, DefaultKeyPrefix), nil
}

// CheckAndIncrement implements Limiter.
func (r *RedisLimiter) CheckAndIncrement(ctx context.Context, bucket string, limit int, window time.Duration) (Result, error) {
	return r.run(ctx, bucket, limit, window, 1)
}

// Peek implements Limiter.
func (r *RedisLimiter) Peek(ctx context.Context, bucket string, limit int, window time.Duration) (Result, error) {
	return r.run(ctx, bucket, limit, window, 0)
}

// Refund implements Limiter.
func (r *RedisLimiter) Refund(ctx context.Context, bucket string) error {
	if err := r.refund.Run(ctx, r.client, []string{r.keyPrefix + bucket}).Err(); err != nil {
		return fmt.Errorf("ratelimit: refund failed: %w", err)
	}
	return nil
}

func (r *RedisLimiter) run(ctx context.Context, bucket string, limit int, window time.Duration, consume int) (Result, error) {
	if err := validPolicy(limit, window); err != nil {
		return Result{}, err
	}

	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	// Script.Run falls back from EVALSHA to EVAL when the script is not cached.
	raw, err := r.script.Run(ctx, r.client, []string{r.keyPrefix + bucket}, limit, windowMs, consume).Result()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: script execution failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result %T", raw)
	}

	nums := make([]int64, 3)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Result{}, fmt.Errorf("ratelimit: unexpected script value %T", v)
		}
		nums[i] = n
	}

	res := Result{
		Allowed:   nums[0] == 1,
		Limit:     limit,
		Remaining: int(nums[1]),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(nums[2]) * time.Millisecond
	}

	return res, nil
}

// Close closes the Redis connection. Safe to call multiple times.
func (r *RedisLimiter) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.client.Close()
	})
	return err
}
