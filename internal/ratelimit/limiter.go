// Package ratelimit implements fixed-window request counters with an atomic
// check-and-increment, backed by process memory or Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPolicy is returned for a non-positive limit or window.
var ErrInvalidPolicy = errors.New("ratelimit: limit and window must be positive")

// Result describes the state of a bucket after a check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds. A denied result
// always reports at least one second.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}

	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}

	return secs
}

// Limiter counts hits per bucket in fixed windows.
type Limiter interface {
	// CheckAndIncrement atomically consumes one slot in bucket if fewer than
	// limit hits were counted in the current window.
	CheckAndIncrement(ctx context.Context, bucket string, limit int, window time.Duration) (Result, error)
	// Peek reports whether a hit would be allowed without consuming a slot.
	Peek(ctx context.Context, bucket string, limit int, window time.Duration) (Result, error)
	// Refund returns one slot consumed in the current window of bucket.
	Refund(ctx context.Context, bucket string) error
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable time, for tests.
type FixedClock struct {
	Time time.Time
}

// Now returns the fixed time.
func (c *FixedClock) Now() time.Time { return c.Time }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.Time = c.Time.Add(d) }

func validPolicy(limit int, window time.Duration) error {
	if limit < 1 || window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}
