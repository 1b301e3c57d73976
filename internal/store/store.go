// Package store provides the PostgreSQL storage backend.
//
// Each store owns one table group (audit, settings, content, api keys) and
// embeds shared helpers (Pool, logger) via the Base struct. Stores never
// import each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/dbpool"
	"github.com/persistorai/seovault/internal/domain"
)

const defaultQueryTimeout = 30 * time.Second

// Base contains shared dependencies for all stores.
type Base struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// beginTx starts a read-write transaction.
func (b *Base) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := b.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return tx, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Storage is the postgres implementation of domain.Storage.
type Storage struct {
	base     Base
	audit    *AuditStore
	settings *SettingsStore
	content  *ContentStore
	apiKeys  *APIKeyStore
}

var _ domain.Storage = (*Storage)(nil)

// New builds the postgres stores on an open pool.
func New(pool *dbpool.Pool, log *logrus.Logger) *Storage {
	base := Base{Pool: pool, Log: log}

	return &Storage{
		base:     base,
		audit:    NewAuditStore(base),
		settings: NewSettingsStore(base),
		content:  NewContentStore(base),
		apiKeys:  NewAPIKeyStore(base),
	}
}

// Audit implements domain.Storage.
func (s *Storage) Audit() domain.AuditRepository { return s.audit }

// Settings implements domain.Storage.
func (s *Storage) Settings() domain.SettingsRepository { return s.settings }

// Content implements domain.Storage.
func (s *Storage) Content() domain.ContentRepository { return s.content }

// APIKeys implements domain.Storage.
func (s *Storage) APIKeys() domain.APIKeyRepository { return s.apiKeys }

// HealthCheck implements domain.Storage.
func (s *Storage) HealthCheck(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.base.Pool.HealthCheck(ctx)
}

// Close implements domain.Storage.
func (s *Storage) Close() { s.base.Pool.Close() }

func notFound(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}
