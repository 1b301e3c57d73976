package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/httputil"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ratelimit"
)

// ActorKey is the gin context key holding the authenticated models.Actor.
const ActorKey = "actor"

// authTimingFloor is the minimum response time for auth failures so valid
// and invalid keys cannot be told apart by latency.
const authTimingFloor = 50 * time.Millisecond

// Failed authentications allowed per client IP before further attempts are
// refused until the window ends.
const (
	AuthFailureLimit  = 10
	AuthFailureWindow = 15 * time.Minute
)

// ActorLookup resolves an API key to the actor it belongs to.
type ActorLookup interface {
	LookupActor(ctx context.Context, apiKey string) (models.Actor, error)
}

// truncateKey returns at most the first 4 characters of key followed by "...".
func truncateKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return key
}

// enforceTimingFloor sleeps if needed so the response takes at least authTimingFloor.
func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

// AuthMiddleware authenticates requests via Bearer token and stores the
// actor under ActorKey. Failed attempts are counted per client IP in
// limiter; once the limit is reached the client gets 429 until the window
// ends, even with a valid key.
func AuthMiddleware(lookup ActorLookup, limiter ratelimit.Limiter, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		apiKey := ExtractBearerToken(c)
		if apiKey == "" {
			respondError(c, http.StatusUnauthorized, codeUnauthorized, "missing or invalid authorization header")
			return
		}

		ctx := c.Request.Context()
		bucket := "auth:" + c.ClientIP()

		// Every attempt takes a slot before the lookup and a valid key gives
		// it back, so at most AuthFailureLimit lookups per window can fail.
		res, err := limiter.CheckAndIncrement(ctx, bucket, AuthFailureLimit, AuthFailureWindow)
		counted := err == nil
		if errors.Is(err, ratelimit.ErrFull) {
			httputil.RespondRateLimited(c, 1)
			return
		}
		if err != nil {
			log.WithError(err).Warn("auth failure limiter unavailable")
		} else if !res.Allowed {
			httputil.RespondRateLimited(c, res.RetryAfterSeconds())
			return
		}

		actor, err := lookup.LookupActor(ctx, apiKey)
		if err != nil {
			logAuthFailure(log, c, apiKey)
			respondError(c, http.StatusUnauthorized, codeUnauthorized, "invalid api key")
			return
		}

		if counted {
			if err := limiter.Refund(ctx, bucket); err != nil {
				log.WithError(err).Warn("refunding auth attempt")
			}
		}

		c.Set(ActorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor of the request.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// ExtractBearerToken extracts the API key from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// logAuthFailure logs a failed authentication attempt.
func logAuthFailure(log *logrus.Logger, c *gin.Context, apiKey string) {
	log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString(RequestIDKey),
		"key_prefix": truncateKey(apiKey),
	}).Warn("authentication failed: invalid api key")
}
