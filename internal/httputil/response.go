// Package httputil provides shared HTTP response helpers.
package httputil

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func requestID(c *gin.Context) string {
	if rid, exists := c.Get("request_id"); exists {
		if s, ok := rid.(string); ok {
			return s
		}
	}
	return ""
}

// RespondError writes a standardized JSON error response and aborts the request.
func RespondError(c *gin.Context, status int, code, message string) {
	resp := gin.H{
		"code":    code,
		"message": message,
	}

	if rid := requestID(c); rid != "" {
		resp["request_id"] = rid
	}

	c.AbortWithStatusJSON(status, resp)
}

// RespondRateLimited writes a 429 with a Retry-After header. The body never
// names the bucket that was exhausted.
func RespondRateLimited(c *gin.Context, retryAfter int) {
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	resp := gin.H{
		"code":        "rate_limited",
		"message":     "rate limit exceeded",
		"retry_after": retryAfter,
	}

	if rid := requestID(c); rid != "" {
		resp["request_id"] = rid
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
}
