package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// ContentStore provides data access for content_items and content_meta.
type ContentStore struct {
	db *sql.DB
}

// Create inserts a content item and its meta in one transaction.
func (s *ContentStore) Create(ctx context.Context, c models.NewContent) (*models.Content, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort rollback on early return.

	now := time.Now().UTC()
	out := &models.Content{
		Type:      defaultString(c.Type, "post"),
		Title:     c.Title,
		Body:      c.Body,
		Status:    defaultString(c.Status, models.StatusDraft),
		SourceID:  c.SourceID,
		CreatedAt: time.UnixMicro(now.UnixMicro()).UTC(),
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO content_items (type, title, body, status, source_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		out.Type, out.Title, out.Body, out.Status, nullInt64(out.SourceID), now.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting content: %w", err)
	}

	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("inserting content: %w", err)
	}

	if len(c.Meta) > 0 {
		out.Meta = make(map[string]string, len(c.Meta))
	}

	for k, v := range c.Meta {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO content_meta (content_id, meta_key, meta_value) VALUES (?, ?, ?)",
			out.ID, k, v,
		); err != nil {
			return nil, fmt.Errorf("inserting content meta %s: %w", k, err)
		}
		out.Meta[k] = v
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing content: %w", err)
	}

	return out, nil
}

// Get returns a content item with its meta.
func (s *ContentStore) Get(ctx context.Context, id int64) (*models.Content, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		c        models.Content
		sourceID sql.NullInt64
		created  int64
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT id, type, title, body, status, source_id, created_at FROM content_items WHERE id = ?", id,
	).Scan(&c.ID, &c.Type, &c.Title, &c.Body, &c.Status, &sourceID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting content %d: %w", id, models.ErrContentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting content %d: %w", id, err)
	}

	c.SourceID = int64Ptr(sourceID)
	c.CreatedAt = time.UnixMicro(created).UTC()

	rows, err := s.db.QueryContext(ctx, "SELECT meta_key, meta_value FROM content_meta WHERE content_id = ?", id)
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

	return &c, rows.Err()
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
