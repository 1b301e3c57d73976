package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/httputil"
	"github.com/persistorai/seovault/internal/metrics"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/settings"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest     = "invalid_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternalError      = "internal_error"
	ErrCodeForbidden          = "forbidden"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeUnavailable        = "service_unavailable"
	ErrCodeCredentialUnusable = "credential_unreadable"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// respondActionError maps a gateway error to a status and body. Messages are
// fixed strings except for payload validation, which only echoes what the
// caller sent.
func respondActionError(c *gin.Context, log *logrus.Logger, err error) {
	var limited *gateway.RateLimitedError

	switch {
	case errors.As(err, &limited):
		metrics.ErrorsTotal.WithLabelValues(ErrCodeRateLimited).Inc()
		httputil.RespondRateLimited(c, limited.RetryAfter)
	case errors.Is(err, gateway.ErrForbidden):
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "missing capability for this action")
	case errors.Is(err, gateway.ErrInvalidPayload):
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, gateway.ErrUnknownAction):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "unknown action")
	case errors.Is(err, models.ErrContentNotFound):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, "content not found")
	case errors.Is(err, crypto.ErrTamperedOrInvalid):
		respondError(c, http.StatusUnprocessableEntity, ErrCodeCredentialUnusable, "credential unreadable, please re-enter")
	case errors.Is(err, crypto.ErrKeyUnavailable):
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "encryption key unavailable")
	case errors.Is(err, settings.ErrSecretNotSet):
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "required credential is not configured")
	case errors.Is(err, gateway.ErrGeneratorUnavailable):
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "meta generator unavailable")
	case errors.Is(err, gateway.ErrLimiterUnavailable):
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "rate limiter unavailable")
	default:
		log.WithError(err).Error("action failed")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}
