package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation.
var (
	ErrMissingEventType = errors.New("event_type is required")
	ErrMissingSource    = errors.New("source_id is required")
	ErrMissingTitle     = errors.New("title is required")
	ErrMissingActor     = errors.New("actor is required")
)

// Sentinel errors for lookups.
var (
	ErrContentNotFound = errors.New("content not found")
	ErrAPIKeyNotFound  = errors.New("api key not found")
)

// ErrAuditWriteFailed means the durable audit store rejected or could not take a write.
var ErrAuditWriteFailed = errors.New("audit write failed")

// ErrDuplicateKey indicates a unique constraint violation.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}
