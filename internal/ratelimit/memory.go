package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultMaxBuckets = 100_000
	sweepInterval     = time.Second
)

// ErrFull is returned when a new bucket is needed but every tracked window
// is still open. Open windows are never evicted.
var ErrFull = errors.New("ratelimit: bucket table full")

type window struct {
	start  time.Time
	length time.Duration
	count  int
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.start) >= w.length
}

// MemoryLimiter keeps fixed-window counters in process memory. State is lost
// on restart, which only resets quotas.
type MemoryLimiter struct {
	mu         sync.Mutex
	clock      Clock
	windows    map[string]*window
	maxBuckets int
	nextSweep  time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock sets the time source.
func WithClock(c Clock) MemoryOption {
	return func(m *MemoryLimiter) { m.clock = c }
}

// WithMaxBuckets bounds the number of tracked buckets.
func WithMaxBuckets(n int) MemoryOption {
	return func(m *MemoryLimiter) {
		if n > 0 {
			m.maxBuckets = n
		}
	}
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		clock:      SystemClock{},
		windows:    make(map[string]*window),
		maxBuckets: defaultMaxBuckets,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CheckAndIncrement implements Limiter.
func (m *MemoryLimiter) CheckAndIncrement(_ context.Context, bucket string, limit int, length time.Duration) (Result, error) {
	return m.hit(bucket, limit, length, true)
}

// Peek implements Limiter.
func (m *MemoryLimiter) Peek(_ context.Context, bucket string, limit int, length time.Duration) (Result, error) {
	return m.hit(bucket, limit, length, false)
}

// Refund implements Limiter.
func (m *MemoryLimiter) Refund(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[bucket]; ok && w.count > 0 && !w.expired(m.clock.Now()) {
		w.count--
	}

	return nil
}

func (m *MemoryLimiter) hit(bucket string, limit int, length time.Duration, consume bool) (Result, error) {
	if err := validPolicy(limit, length); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	w, ok := m.windows[bucket]
	if !ok || w.expired(now) || w.length != length {
		if !consume {
			return Result{Allowed: true, Limit: limit, Remaining: limit}, nil
		}

		if !ok && len(m.windows) >= m.maxBuckets {
			m.sweep(now)
			if len(m.windows) >= m.maxBuckets {
				return Result{}, ErrFull
			}
		}

		w = &window{start: now, length: length}
		m.windows[bucket] = w
	}

	if w.count >= limit {
		return Result{
			Limit:      limit,
			RetryAfter: w.length - now.Sub(w.start),
		}, nil
	}

	if consume {
		w.count++
	}

	return Result{Allowed: true, Limit: limit, Remaining: limit - w.count}, nil
}

// sweep drops expired windows, at most once per sweepInterval.
// Caller holds m.mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	m.nextSweep = now.Add(sweepInterval)

	for k, w := range m.windows {
		if w.expired(now) {
			delete(m.windows, k)
		}
	}
}

// Len returns the number of tracked buckets.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
