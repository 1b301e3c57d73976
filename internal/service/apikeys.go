package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/domain"
	"github.com/persistorai/seovault/internal/models"
)

// APIKeyPrefix starts every generated API key.
const APIKeyPrefix = "sv_"

// APIKeyService issues API keys and resolves them to actors. Only the
// SHA-256 hash of a key is stored.
type APIKeyService struct {
	repo  domain.APIKeyRepository
	audit Appender
	log   *logrus.Logger
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(repo domain.APIKeyRepository, audit Appender, log *logrus.Logger) *APIKeyService {
	return &APIKeyService{repo: repo, audit: audit, log: log}
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(apiKey string) string {
	h := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(h[:])
}

// Create issues a key for actor with the given capabilities and returns
// the raw key. It is not recoverable afterwards.
func (s *APIKeyService) Create(ctx context.Context, actor string, caps []models.Capability) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", models.ErrMissingActor
	}
	if len(actor) > 100 {
		return "", models.ErrFieldTooLong("actor", 100)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	raw := APIKeyPrefix + hex.EncodeToString(buf)

	if err := s.repo.CreateAPIKey(ctx, models.APIKey{
		KeyHash:      HashAPIKey(raw),
		Actor:        actor,
		Capabilities: caps,
	}); err != nil {
		return "", err
	}

	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}

	if _, err := s.audit.Append(ctx, models.NewAuditEvent{
		EventType: models.EventAPIKeyCreated,
		Actor:     actor,
		Details:   map[string]any{"capabilities": names},
	}); err != nil {
		s.log.WithError(err).Warn("api key audit write failed")
	}

	return raw, nil
}

// LookupActor resolves a raw API key to its actor.
func (s *APIKeyService) LookupActor(ctx context.Context, apiKey string) (models.Actor, error) {
	key, err := s.repo.LookupAPIKey(ctx, HashAPIKey(apiKey))
	if err != nil {
		return models.Actor{}, err
	}

	return models.Actor{ID: key.Actor, Capabilities: key.Capabilities}, nil
}
