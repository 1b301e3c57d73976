// Package models defines the data types shared by the seovault stores, services and API.
package models

import "time"

// Audit event types.
const (
	EventAppliedDraft   = "applied_draft"
	EventExportCSV      = "export_csv"
	EventSecretRotated  = "secret_rotated"
	EventSettingsSaved  = "settings_saved"
	EventRateLimited    = "rate_limited"
	EventGeneratedMeta  = "generated_meta"
	EventAuditPurged    = "audit_purged"
	EventAPIKeyCreated  = "api_key_created"
	EventContentCreated = "content_created"
)

// MaxAuditListLimit bounds a single audit list call.
const MaxAuditListLimit = 500

// DefaultAuditListLimit is used when a caller passes no limit.
const DefaultAuditListLimit = 50

// AuditEvent is an immutable audit log record.
type AuditEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	SubjectID *int64         `json:"subject_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewAuditEvent is the input to an audit append. ID and CreatedAt are assigned by the store.
type NewAuditEvent struct {
	EventType string
	SubjectID *int64
	Actor     string
	Details   map[string]any
}

// AuditFilter selects audit events for list and export.
type AuditFilter struct {
	Limit     int
	EventType string
	Since     *time.Time
}

// Normalized returns a copy of f with Limit clamped to [1, MaxAuditListLimit].
func (f AuditFilter) Normalized() AuditFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultAuditListLimit
	case f.Limit > MaxAuditListLimit:
		f.Limit = MaxAuditListLimit
	}
	return f
}
