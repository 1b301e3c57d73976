// Package domain defines the repository interfaces implemented by each
// storage backend (postgres and sqlite). Services depend on these
// interfaces rather than on a concrete store.
package domain

import (
	"context"
	"iter"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// AuditRepository is the append-only audit event log. It exposes no update
// operation; PurgeOlderThan is the only way rows leave the table.
type AuditRepository interface {
	Append(ctx context.Context, ev models.NewAuditEvent) (int64, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error)
	// ListAfter returns up to limit events with id > afterID, oldest first.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error)
	// Export streams events newest-first without loading the result set.
	// A zero filter.Limit means no limit.
	Export(ctx context.Context, filter models.AuditFilter) iter.Seq2[models.AuditEvent, error]
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SettingsRepository is a key-value store of raw (possibly encrypted) setting values.
type SettingsRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	// Get returns "" and no error for a missing setting.
	Get(ctx context.Context, name string) (string, error)
	// Put upserts all values in one transaction.
	Put(ctx context.Context, values map[string]string) error
	// CompareAndSwap replaces name's value only if it still equals old.
	CompareAndSwap(ctx context.Context, name, old, replacement string) (bool, error)
}

// ContentRepository stores content items and their meta.
type ContentRepository interface {
	// Create inserts the item and its meta atomically.
	Create(ctx context.Context, c models.NewContent) (*models.Content, error)
	Get(ctx context.Context, id int64) (*models.Content, error)
}

// APIKeyRepository maps hashed API keys to actors.
type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, key models.APIKey) error
	LookupAPIKey(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// Storage bundles the repositories of one backend.
type Storage interface {
	Audit() AuditRepository
	Settings() SettingsRepository
	Content() ContentRepository
	APIKeys() APIKeyRepository
	HealthCheck(ctx context.Context) error
	Close()
}
