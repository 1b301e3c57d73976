package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ActionService runs content actions.
type ActionService struct {
	c *Client
}

// decodeResult unmarshals an action outcome's result into v.
func decodeResult(o *Outcome, v any) error {
	if len(o.Result) == 0 {
		return fmt.Errorf("%s: empty result", o.Action)
	}
	if err := json.Unmarshal(o.Result, v); err != nil {
		return fmt.Errorf("decode %s result: %w", o.Action, err)
	}
	return nil
}

// ApplyDraft creates a draft from sourceID with the given recommendations
// and returns the new draft's id. The source is never modified.
func (s *ActionService) ApplyDraft(ctx context.Context, sourceID int64, rec Recommendations) (int64, error) {
	var o Outcome
	req := ApplyDraftRequest{SourceID: sourceID, Recommendations: rec}
	if err := s.c.post(ctx, "/api/v1/actions/apply_draft", req, &o); err != nil {
		return 0, err
	}

	var res struct {
		DraftID int64 `json:"draft_id"`
	}
	if err := decodeResult(&o, &res); err != nil {
		return 0, err
	}
	return res.DraftID, nil
}

// GenerateMeta asks the server for a title and meta description for contentID.
func (s *ActionService) GenerateMeta(ctx context.Context, contentID int64) (*MetaSuggestion, error) {
	var o Outcome
	body := map[string]int64{"content_id": contentID}
	if err := s.c.post(ctx, "/api/v1/actions/generate_meta", body, &o); err != nil {
		return nil, err
	}

	var m MetaSuggestion
	if err := decodeResult(&o, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ExportCSV streams the audit log as CSV into w and returns the bytes written.
// A zero Limit exports every matching event.
func (s *ActionService) ExportCSV(ctx context.Context, q AuditQuery, w io.Writer) (int64, error) {
	resp, err := s.c.send(ctx, http.MethodPost, "/api/v1/actions/export_csv", q)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read export: %w", err)
	}
	return n, nil
}
