package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore provides data access for the settings table.
type SettingsStore struct {
	db *sql.DB
}

// GetAll returns every stored setting.
func (s *SettingsStore) GetAll(ctx context.Context) (map[string]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM settings")
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

	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort rollback on early return.

	for name, value := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (name, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
			ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			name, value,
		)
		if err != nil {
			return fmt.Errorf("upserting setting %s: %w", name, err)
		}
	}

	return tx.Commit()
}

// CompareAndSwap replaces a setting only if its current value equals old.
func (s *SettingsStore) CompareAndSwap(ctx context.Context, name, old, replacement string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		"UPDATE settings SET value = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE name = ? AND value = ?",
		replacement, name, old,
	)
	if err != nil {
		return false, fmt.Errorf("swapping setting %s: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swapping setting %s: %w", name, err)
	}

	return n == 1, nil
}
