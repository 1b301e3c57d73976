package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/persistorai/seovault/internal/httputil"
)

// Error codes written by middleware. Handler codes live in the api package.
const (
	codeUnauthorized    = "unauthorized"
	codePayloadTooLarge = "payload_too_large"
)

func respondError(c *gin.Context, status int, code, message string) {
	httputil.RespondError(c, status, code, message)
}
