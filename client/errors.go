package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// APIError represents a structured error response from the seovault API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
	// RetryAfter is the wait in seconds on a 429.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("seovault: %d %s: %s (request_id=%s)", e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("seovault: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func statusIs(err error, status int) bool {
	var e *APIError
	return errors.As(err, &e) && e.StatusCode == status
}

// IsNotFound returns true if the error is a 404 not found.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsForbidden returns true if the API key lacks the capability for the call.
func IsForbidden(err error) bool { return statusIs(err, http.StatusForbidden) }

// IsRateLimited returns true if the error is a 429 rate limit.
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsCredentialUnreadable returns true if a stored credential failed to
// decrypt and must be re-entered.
func IsCredentialUnreadable(err error) bool { return statusIs(err, http.StatusUnprocessableEntity) }

// parseAPIError attempts to decode a JSON error body; falls back to raw text.
func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unknown"
		apiErr.Message = string(body)
	}
	if apiErr.RetryAfter == 0 {
		if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = v
		}
	}
	return apiErr
}
