// Package middleware provides HTTP middleware for the seovault API.
package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/httputil"
	"github.com/persistorai/seovault/internal/ratelimit"
)

// RateLimit throttles all requests per client IP with a fixed window on
// limiter. Per-action limits are enforced by the gateway; this bounds raw
// request volume. If the limiter backend fails the request is let through,
// except when an in-memory limiter has no room for a new client.
func RateLimit(limiter ratelimit.Limiter, limit int, window time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// c.ClientIP() is safe from X-Forwarded-For spoofing because
		// SetTrustedProxies(nil) in router.go disables proxy header trust.
		res, err := limiter.CheckAndIncrement(c.Request.Context(), "http:"+c.ClientIP(), limit, window)
		if errors.Is(err, ratelimit.ErrFull) {
			httputil.RespondRateLimited(c, 1)
			return
		}
		if err != nil {
			log.WithError(err).Warn("request limiter unavailable")
			c.Next()
			return
		}

		if !res.Allowed {
			httputil.RespondRateLimited(c, res.RetryAfterSeconds())
			return
		}

		c.Next()
	}
}
