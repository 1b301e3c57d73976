package client

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// AuditService reads and prunes the audit log.
type AuditService struct {
	c *Client
}

// List returns audit events, newest first.
func (s *AuditService) List(ctx context.Context, q *AuditQuery) ([]AuditEvent, error) {
	params := url.Values{}
	if q != nil {
		if q.EventType != "" {
			params.Set("event_type", q.EventType)
		}
		if q.Since != nil {
			params.Set("since", q.Since.UTC().Format(time.RFC3339))
		}
		if q.Limit > 0 {
			params.Set("limit", strconv.Itoa(q.Limit))
		}
	}

	var o Outcome
	if err := s.c.get(ctx, "/api/v1/audit", params, &o); err != nil {
		return nil, err
	}

	var events []AuditEvent
	if err := decodeResult(&o, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Purge deletes events older than retentionDays and returns how many were
// removed. Zero uses the server's configured retention.
func (s *AuditService) Purge(ctx context.Context, retentionDays int) (int, error) {
	params := url.Values{}
	if retentionDays > 0 {
		params.Set("retention_days", strconv.Itoa(retentionDays))
	}

	var o Outcome
	if err := s.c.del(ctx, "/api/v1/audit", params, &o); err != nil {
		return 0, err
	}

	var res struct {
		Deleted int `json:"deleted"`
	}
	if err := decodeResult(&o, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}
