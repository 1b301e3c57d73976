package client

import (
	"encoding/json"
	"time"
)

// HealthResponse is the liveness check payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Database      string  `json:"database"`
	StreamClients int     `json:"stream_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Outcome is the envelope of every action response. Result is decoded by
// the typed helpers.
type Outcome struct {
	Action    string          `json:"action"`
	State     string          `json:"state"`
	SubjectID *int64          `json:"subject_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Recommendations is the structured payload applied to a new draft.
type Recommendations struct {
	Title           string          `json:"title,omitempty"`
	Outline         []string        `json:"outline,omitempty"`
	MetaDescription string          `json:"meta_description,omitempty"`
	Schema          json.RawMessage `json:"schema,omitempty"`
}

// ApplyDraftRequest asks for a new draft built from SourceID.
type ApplyDraftRequest struct {
	SourceID        int64           `json:"source_id"`
	Recommendations Recommendations `json:"recommendations"`
}

// MetaSuggestion is a generated title and description.
type MetaSuggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AuditEvent is one audit log record.
type AuditEvent struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	SubjectID *int64         `json:"subject_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditQuery filters audit list and export calls. Zero values are omitted.
type AuditQuery struct {
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// FieldPreview is the display form of one setting. Secrets are masked.
type FieldPreview struct {
	Name   string `json:"name"`
	Secret bool   `json:"secret"`
	Set    bool   `json:"set"`
	Value  string `json:"value"`
	Legacy bool   `json:"legacy,omitempty"`
	KeyID  string `json:"key_id,omitempty"`
}

// SaveReport lists the fields a settings save changed.
type SaveReport struct {
	Updated     []string `json:"updated"`
	Kept        []string `json:"kept,omitempty"`
	Reencrypted []string `json:"reencrypted,omitempty"`
}

// RotateReport lists the outcome of a key rotation per field.
type RotateReport struct {
	PrimaryKeyID string   `json:"primary_key_id"`
	Rotated      []string `json:"rotated"`
	Current      []string `json:"current,omitempty"`
	Failed       []string `json:"failed,omitempty"`
}

// StreamEvent is one message from the audit stream.
type StreamEvent struct {
	Type string          `json:"type"`
	ID   int64           `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Time time.Time       `json:"time,omitempty"`
}

// AuditNotice is the payload of an "audit" stream event. Details are never
// streamed; fetch them with AuditService.List.
type AuditNotice struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	SubjectID *int64    `json:"subject_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
