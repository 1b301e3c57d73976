package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsStore provides data access for the settings table.
type SettingsStore struct {
	Base
}

// NewSettingsStore creates a SettingsStore.
func NewSettingsStore(base Base) *SettingsStore {
	return &SettingsStore{Base: base}
}

// GetAll returns every stored setting.
func (s *SettingsStore) GetAll(ctx context.Context) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.Pool.Query(ctx, "SELECT name, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[name] = value
	}

	return out, rows.Err()
}

// Get returns one setting, or "" if it is not stored.
func (s *SettingsStore) Get(ctx context.Context, name string) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var value string

	err := s.Pool.QueryRow(ctx, "SELECT value FROM settings WHERE name = $1", name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", name, err)
	}

	return value, nil
}

// Put upserts all values in one transaction.
func (s *SettingsStore) Put(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort rollback on early return.

	for name, value := range values {
		_, err := tx.Exec(ctx, `
			INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			name, value,
		)
		if err != nil {
			return fmt.Errorf("upserting setting %s: %w", name, err)
		}
	}

	return tx.Commit(ctx)
}

// CompareAndSwap replaces a setting only if its current value equals old.
func (s *SettingsStore) CompareAndSwap(ctx context.Context, name, old, replacement string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.Pool.Exec(ctx,
		"UPDATE settings SET value = $3, updated_at = NOW() WHERE name = $1 AND value = $2",
		name, old, replacement,
	)
	if err != nil {
		return false, fmt.Errorf("swapping setting %s: %w", name, err)
	}

	return tag.RowsAffected() == 1, nil
}
