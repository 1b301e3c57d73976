package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// APIKeyStore provides data access for the api_keys table.
type APIKeyStore struct {
	db *sql.DB
}

// CreateAPIKey stores a hashed API key.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, key models.APIKey) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	caps := make([]string, len(key.Capabilities))
	for i, c := range key.Capabilities {
		caps[i] = string(c)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO api_keys (key_hash, actor, capabilities, created_at) VALUES (?, ?, ?, ?)",
		key.KeyHash, key.Actor, strings.Join(caps, ","), time.Now().UTC().UnixMicro(),
	)
	if isUniqueViolation(err) {
		return models.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}

	return nil
}

// LookupAPIKey returns the API key record for a key hash.
func (s *APIKeyStore) LookupAPIKey(ctx context.Context, keyHash string) (*models.APIKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		k       models.APIKey
		caps    string
		created int64
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT key_hash, actor, capabilities, created_at FROM api_keys WHERE key_hash = ?", keyHash,
	).Scan(&k.KeyHash, &k.Actor, &caps, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up api key: %w", models.ErrAPIKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	k.CreatedAt = time.UnixMicro(created).UTC()

	for _, c := range strings.Split(caps, ",") {
		if c != "" {
			k.Capabilities = append(k.Capabilities, models.Capability(c))
		}
	}

	return &k, nil
}
