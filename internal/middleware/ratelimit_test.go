package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/seovault/internal/middleware"
	"github.com/persistorai/seovault/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(limiter ratelimit.Limiter, limit int) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RateLimit(limiter, limit, time.Minute, quietLogger()))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksExceedingLimit(t *testing.T) {
	r := newLimitedRouter(ratelimit.NewMemoryLimiter(), 2)

	for i := range 3 {
		w := get(r, "1.2.3.4")

		if i < 2 && w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if i == 2 {
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("request %d: expected 429, got %d", i, w.Code)
			}
			if w.Header().Get("Retry-After") != "60" {
				t.Fatalf("Retry-After = %q, want 60", w.Header().Get("Retry-After"))
			}
		}
	}
}

func TestRateLimit_IndependentBuckets(t *testing.T) {
	r := newLimitedRouter(ratelimit.NewMemoryLimiter(), 1)

	get(r, "1.1.1.1")

	if w := get(r, "2.2.2.2"); w.Code != http.StatusOK {
		t.Fatalf("different IP should not be rate limited, got %d", w.Code)
	}
}

func TestRateLimit_WindowResets(t *testing.T) {
	clock := &ratelimit.FixedClock{Time: time.Unix(1_700_000_000, 0)}
	r := newLimitedRouter(ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock)), 1)

	get(r, "5.5.5.5")
	if w := get(r, "5.5.5.5"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	clock.Advance(time.Minute)

	if w := get(r, "5.5.5.5"); w.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", w.Code)
	}
}

type downLimiter struct{}

func (downLimiter) CheckAndIncrement(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("down")
}

func (downLimiter) Peek(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("down")
}

func (downLimiter) Refund(context.Context, string) error {
	return errors.New("down")
}

func TestRateLimit_BackendFailureLetsRequestsThrough(t *testing.T) {
	r := newLimitedRouter(downLimiter{}, 1)

	for range 3 {
		if w := get(r, "7.7.7.7"); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}

func TestRateLimit_FullTableRefusesNewClients(t *testing.T) {
	r := newLimitedRouter(ratelimit.NewMemoryLimiter(ratelimit.WithMaxBuckets(1)), 5)

	if w := get(r, "3.3.3.3"); w.Code != http.StatusOK {
		t.Fatalf("first client: got %d, want 200", w.Code)
	}

	w := get(r, "3.3.3.4")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("new client on full table: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}

	if w := get(r, "3.3.3.3"); w.Code != http.StatusOK {
		t.Fatalf("tracked client: got %d, want 200", w.Code)
	}
}
