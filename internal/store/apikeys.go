package store

import (
	"context"
	"fmt"

	"github.com/persistorai/seovault/internal/models"
)

// APIKeyStore provides data access for the api_keys table.
type APIKeyStore struct {
	Base
}

// NewAPIKeyStore creates an APIKeyStore.
func NewAPIKeyStore(base Base) *APIKeyStore {
	return &APIKeyStore{Base: base}
}

// CreateAPIKey stores a hashed API key.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, key models.APIKey) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	caps := make([]string, len(key.Capabilities))
	for i, c := range key.Capabilities {
		caps[i] = string(c)
	}

	_, err := s.Pool.Exec(ctx,
		"INSERT INTO api_keys (key_hash, actor, capabilities) VALUES ($1, $2, $3)",
		key.KeyHash, key.Actor, caps,
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
		k    models.APIKey
		caps []string
	)

	err := s.Pool.QueryRow(ctx,
		"SELECT key_hash, actor, capabilities, created_at FROM api_keys WHERE key_hash = $1", keyHash,
	).Scan(&k.KeyHash, &k.Actor, &caps, &k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", notFound(err, models.ErrAPIKeyNotFound))
	}

	for _, c := range caps {
		k.Capabilities = append(k.Capabilities, models.Capability(c))
	}

	return &k, nil
}
