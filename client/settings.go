package client

import (
	"context"
)

// SettingsService manages integration settings.
type SettingsService struct {
	c *Client
}

// Get returns every settings field. Secret values come back masked.
func (s *SettingsService) Get(ctx context.Context) ([]FieldPreview, error) {
	var resp struct {
		Data []FieldPreview `json:"data"`
	}
	if err := s.c.get(ctx, "/api/v1/settings", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Save updates the given fields. An empty value for a secret keeps the
// stored one, so a settings form can be resubmitted without re-entering keys.
func (s *SettingsService) Save(ctx context.Context, values map[string]string) (*SaveReport, error) {
	var o Outcome
	if err := s.c.put(ctx, "/api/v1/settings", values, &o); err != nil {
		return nil, err
	}

	var r SaveReport
	if err := decodeResult(&o, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Rotate re-encrypts stored secrets under the server's primary key.
func (s *SettingsService) Rotate(ctx context.Context) (*RotateReport, error) {
	var o Outcome
	if err := s.c.post(ctx, "/api/v1/settings/rotate", nil, &o); err != nil {
		return nil, err
	}

	var r RotateReport
	if err := decodeResult(&o, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
