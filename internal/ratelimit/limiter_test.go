package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/persistorai/seovault/internal/ratelimit"
)

func newRedisLimiter(t *testing.T) (*ratelimit.RedisLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	l := ratelimit.NewRedisLimiter(client, "test:")
	t.Cleanup(func() { _ = l.Close() })

	return l, mr
}

func assertExactness(t *testing.T, l ratelimit.Limiter, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	for i := range 10 {
		res, err := l.CheckAndIncrement(ctx, "export_csv", 10, time.Minute)
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d denied", i+1)
		}
		if res.Remaining != 10-(i+1) {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, res.Remaining, 10-(i+1))
		}
	}

	advance(5 * time.Second)

	res, err := l.CheckAndIncrement(ctx, "export_csv", 10, time.Minute)
	if err != nil {
		t.Fatalf("11th call: %v", err)
	}
	if res.Allowed {
		t.Fatal("11th call should be denied")
	}
	if s := res.RetryAfterSeconds(); s < 1 || s > 60 {
		t.Fatalf("retry after = %ds, want 1..60", s)
	}

	other, _ := l.CheckAndIncrement(ctx, "apply_draft", 5, time.Minute)
	if !other.Allowed {
		t.Fatal("buckets must be independent")
	}

	advance(55 * time.Second)

	res, err = l.CheckAndIncrement(ctx, "export_csv", 10, time.Minute)
	if err != nil {
		t.Fatalf("after window: %v", err)
	}
	if !res.Allowed || res.Remaining != 9 {
		t.Fatalf("after window: allowed=%v remaining=%d", res.Allowed, res.Remaining)
	}
}

func assertConcurrency(t *testing.T, l ratelimit.Limiter) {
	t.Helper()
	const n = 25

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
		start   = make(chan struct{})
	)

	for range 2 * n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.CheckAndIncrement(context.Background(), "race", n, time.Minute)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if got := allowed.Load(); got != n {
		t.Fatalf("allowed = %d, want exactly %d", got, n)
	}
}

func TestMemoryLimiter_Exactness(t *testing.T) {
	t.Parallel()
	clock := &ratelimit.FixedClock{Time: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock))

	assertExactness(t, l, clock.Advance)
}

func TestMemoryLimiter_RetryAfter(t *testing.T) {
	t.Parallel()
	clock := &ratelimit.FixedClock{Time: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock))
	ctx := context.Background()

	_, _ = l.CheckAndIncrement(ctx, "b", 1, time.Minute)
	clock.Advance(20*time.Second + 500*time.Millisecond)

	res, _ := l.CheckAndIncrement(ctx, "b", 1, time.Minute)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.RetryAfter != 39*time.Second+500*time.Millisecond {
		t.Fatalf("retry after = %v", res.RetryAfter)
	}
	if res.RetryAfterSeconds() != 40 {
		t.Fatalf("retry after seconds = %d, want 40", res.RetryAfterSeconds())
	}
}

func TestMemoryLimiter_Concurrency(t *testing.T) {
	t.Parallel()
	assertConcurrency(t, ratelimit.NewMemoryLimiter())
}

func TestMemoryLimiter_PeekDoesNotConsume(t *testing.T) {
	t.Parallel()
	l := ratelimit.NewMemoryLimiter()
	ctx := context.Background()

	for range 5 {
		res, _ := l.Peek(ctx, "p", 2, time.Minute)
		if !res.Allowed {
			t.Fatal("peek on fresh bucket should allow")
		}
	}

	_, _ = l.CheckAndIncrement(ctx, "p", 2, time.Minute)
	_, _ = l.CheckAndIncrement(ctx, "p", 2, time.Minute)

	res, _ := l.Peek(ctx, "p", 2, time.Minute)
	if res.Allowed {
		t.Fatal("peek on exhausted bucket should deny")
	}
}

func TestMemoryLimiter_FullTableKeepsOpenWindows(t *testing.T) {
	t.Parallel()
	clock := &ratelimit.FixedClock{Time: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock), ratelimit.WithMaxBuckets(2))
	ctx := context.Background()

	allowed := 0
	hit := func() {
		res, err := l.CheckAndIncrement(ctx, "gw:export_csv", 10, time.Minute)
		if err != nil {
			t.Fatalf("gateway bucket: %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}

	for range 10 {
		hit()
	}

	if _, err := l.CheckAndIncrement(ctx, "http:10.0.0.1", 600, time.Minute); err != nil {
		t.Fatalf("second bucket: %v", err)
	}
	if _, err := l.CheckAndIncrement(ctx, "http:10.0.0.2", 600, time.Minute); !errors.Is(err, ratelimit.ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	for range 10 {
		hit()
	}
	if allowed != 10 {
		t.Fatalf("allowed %d hits in one window, want 10", allowed)
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
}

func TestMemoryLimiter_SweepsExpiredWhenFull(t *testing.T) {
	t.Parallel()
	clock := &ratelimit.FixedClock{Time: time.Unix(1_700_000_000, 0)}
	l := ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock), ratelimit.WithMaxBuckets(3))
	ctx := context.Background()

	for _, b := range []string{"a", "b", "c"} {
		_, _ = l.CheckAndIncrement(ctx, b, 1, time.Minute)
	}

	clock.Advance(2 * time.Minute)
	res, err := l.CheckAndIncrement(ctx, "d", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("new bucket after expiry: res=%+v err=%v", res, err)
	}
	if l.Len() != 1 {
		t.Fatalf("stale windows should be swept, len = %d", l.Len())
	}
}

func assertRefund(t *testing.T, l ratelimit.Limiter) {
	t.Helper()
	ctx := context.Background()

	if err := l.Refund(ctx, "r"); err != nil {
		t.Fatalf("refund on missing bucket: %v", err)
	}

	_, _ = l.CheckAndIncrement(ctx, "r", 2, time.Minute)
	_, _ = l.CheckAndIncrement(ctx, "r", 2, time.Minute)
	if err := l.Refund(ctx, "r"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	res, err := l.CheckAndIncrement(ctx, "r", 2, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("refunded slot should be reusable: res=%+v err=%v", res, err)
	}
	if res, _ := l.CheckAndIncrement(ctx, "r", 2, time.Minute); res.Allowed {
		t.Fatal("bucket should be exhausted again")
	}
}

func TestMemoryLimiter_Refund(t *testing.T) {
	t.Parallel()
	assertRefund(t, ratelimit.NewMemoryLimiter())
}

func TestRedisLimiter_Refund(t *testing.T) {
	l, mr := newRedisLimiter(t)
	assertRefund(t, l)

	if ttl := mr.TTL("test:r"); ttl <= 0 {
		t.Fatalf("refund dropped the window ttl: %v", ttl)
	}
}

func TestMemoryLimiter_InvalidPolicy(t *testing.T) {
	t.Parallel()
	l := ratelimit.NewMemoryLimiter()

	if _, err := l.CheckAndIncrement(context.Background(), "x", 0, time.Minute); !errors.Is(err, ratelimit.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if _, err := l.CheckAndIncrement(context.Background(), "x", 1, 0); !errors.Is(err, ratelimit.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestRedisLimiter_Exactness(t *testing.T) {
	l, mr := newRedisLimiter(t)
	assertExactness(t, l, mr.FastForward)
}

func TestRedisLimiter_Concurrency(t *testing.T) {
	l, _ := newRedisLimiter(t)
	assertConcurrency(t, l)
}

func TestRedisLimiter_PeekAndKeyPrefix(t *testing.T) {
	l, mr := newRedisLimiter(t)
	ctx := context.Background()

	res, err := l.Peek(ctx, "p", 1, time.Minute)
	if err != nil || !res.Allowed {
		t.Fatalf("peek: allowed=%v err=%v", res.Allowed, err)
	}
	if mr.Exists("test:p") {
		t.Fatal("peek must not create the bucket")
	}

	_, _ = l.CheckAndIncrement(ctx, "p", 1, time.Minute)
	if !mr.Exists("test:p") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("test:p"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	res, _ = l.Peek(ctx, "p", 1, time.Minute)
	if res.Allowed {
		t.Fatal("peek on exhausted bucket should deny")
	}
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	l, mr := newRedisLimiter(t)
	mr.Close()

	if _, err := l.CheckAndIncrement(context.Background(), "x", 1, time.Minute); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		res  ratelimit.Result
		want int
	}{
		{ratelimit.Result{Allowed: true, RetryAfter: time.Minute}, 0},
		{ratelimit.Result{RetryAfter: 0}, 1},
		{ratelimit.Result{RetryAfter: time.Millisecond}, 1},
		{ratelimit.Result{RetryAfter: time.Second}, 1},
		{ratelimit.Result{RetryAfter: 59*time.Second + time.Millisecond}, 60},
	}

	for _, tc := range cases {
		if got := tc.res.RetryAfterSeconds(); got != tc.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tc.res.RetryAfter, got, tc.want)
		}
	}
}
