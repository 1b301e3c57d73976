package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Content statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "publish"
)

// Meta keys written when applying recommendations.
const (
	MetaDescriptionKey = "_seovault_meta_description"
	MetaSchemaKey      = "_seovault_schema"
)

// Content is a page or post managed by the host CMS.
type Content struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Status    string            `json:"status"`
	SourceID  *int64            `json:"source_id,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewContent is the input for creating a content item.
type NewContent struct {
	Type     string
	Title    string
	Body     string
	Status   string
	SourceID *int64
	Meta     map[string]string
}

// Validate checks a content item before insert.
func (c NewContent) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrMissingTitle
	}

	if len(c.Title) > 500 {
		return ErrFieldTooLong("title", 500)
	}

	if len(c.Type) > 50 {
		return ErrFieldTooLong("type", 50)
	}

	return nil
}

// Recommendations is the structured payload applied to a new draft.
type Recommendations struct {
	Title           string          `json:"title"`
	Outline         []string        `json:"outline"`
	MetaDescription string          `json:"meta_description"`
	Schema          json.RawMessage `json:"schema,omitempty"`
}

// ApplyDraftRequest asks for a new draft built from SourceID and Recommendations.
type ApplyDraftRequest struct {
	SourceID        int64           `json:"source_id"`
	Recommendations Recommendations `json:"recommendations"`
}

// Validate checks an apply-draft request.
func (r ApplyDraftRequest) Validate() error {
	if r.SourceID <= 0 {
		return ErrMissingSource
	}

	rec := r.Recommendations

	if len(rec.Title) > 500 {
		return ErrFieldTooLong("recommendations.title", 500)
	}

	if len(rec.Outline) > 50 {
		return fmt.Errorf("recommendations.outline exceeds maximum of 50 items")
	}

	for i, h := range rec.Outline {
		if len(h) > 300 {
			return ErrFieldTooLong(fmt.Sprintf("recommendations.outline[%d]", i), 300)
		}
	}

	if len(rec.MetaDescription) > 320 {
		return ErrFieldTooLong("recommendations.meta_description", 320)
	}

	if len(rec.Schema) > 0 && !json.Valid(rec.Schema) {
		return fmt.Errorf("recommendations.schema must be valid JSON")
	}

	if len(rec.Schema) > 64<<10 {
		return ErrFieldTooLong("recommendations.schema", 64<<10)
	}

	return nil
}
