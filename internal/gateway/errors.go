package gateway

import (
	"errors"
	"fmt"
)

// Terminal errors reported to the caller. None are retried automatically.
var (
	ErrUnknownAction      = errors.New("gateway: unknown action")
	ErrForbidden          = errors.New("gateway: actor lacks the required capability")
	ErrInvalidPayload     = errors.New("gateway: invalid payload")
	ErrLimiterUnavailable = errors.New("gateway: rate limiter unavailable")
	ErrRateLimited        = errors.New("gateway: rate limited")
)

// RateLimitedError is returned when an action's rate limit denies the call.
// It is an expected outcome, not a fault.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
}
