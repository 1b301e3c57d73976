package store

import (
	"context"
	"fmt"

	"github.com/persistorai/seovault/internal/models"
)

// ContentStore provides data access for content_items and content_meta.
type ContentStore struct {
	Base
}

// NewContentStore creates a ContentStore.
func NewContentStore(base Base) *ContentStore {
	return &ContentStore{Base: base}
}

// Create inserts a content item and its meta in one transaction.
func (s *ContentStore) Create(ctx context.Context, c models.NewContent) (*models.Content, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	out := &models.Content{
		Type:     defaultString(c.Type, "post"),
		Title:    c.Title,
		Body:     c.Body,
		Status:   defaultString(c.Status, models.StatusDraft),
		SourceID: c.SourceID,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO content_items (type, title, body, status, source_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		out.Type, out.Title, out.Body, out.Status, out.SourceID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting content: %w", err)
	}

	if len(c.Meta) > 0 {
		out.Meta = make(map[string]string, len(c.Meta))
	}

	for k, v := range c.Meta {
		if _, err := tx.Exec(ctx,
			"INSERT INTO content_meta (content_id, meta_key, meta_value) VALUES ($1, $2, $3)",
			out.ID, k, v,
		); err != nil {
			return nil, fmt.Errorf("inserting content meta %s: %w", k, err)
		}
		out.Meta[k] = v
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing content: %w", err)
	}

	return out, nil
}

// Get returns a content item with its meta.
func (s *ContentStore) Get(ctx context.Context, id int64) (*models.Content, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	c := &models.Content{}

	err := s.Pool.QueryRow(ctx,
		"SELECT id, type, title, body, status, source_id, created_at FROM content_items WHERE id = $1", id,
	).Scan(&c.ID, &c.Type, &c.Title, &c.Body, &c.Status, &c.SourceID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("getting content %d: %w", id, notFound(err, models.ErrContentNotFound))
	}

	rows, err := s.Pool.Query(ctx, "SELECT meta_key, meta_value FROM content_meta WHERE content_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("querying content meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning content meta: %w", err)
		}
		if c.Meta == nil {
			c.Meta = make(map[string]string)
		}
		c.Meta[k] = v
	}

	return c, rows.Err()
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
