// Package sqlitestore provides the embedded single-file storage backend on
// modernc.org/sqlite. It implements the same repositories as the postgres
// store for deployments without a database server.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/persistorai/seovault/internal/domain"
)

const (
	defaultQueryTimeout = 30 * time.Second
	maxOpenConns        = 4
)

// Storage is the sqlite implementation of domain.Storage.
type Storage struct {
	db       *sql.DB
	log      *logrus.Logger
	audit    *AuditStore
	settings *SettingsStore
	content  *ContentStore
	apiKeys  *APIKeyStore
}

var _ domain.Storage = (*Storage)(nil)

// Open opens (creating if needed) the database file at path. Schema
// migrations are applied separately via db.MigrateSQLite.
func Open(ctx context.Context, path string, log *logrus.Logger) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	s := &Storage{db: db, log: log}
	s.audit = &AuditStore{db: db, log: log}
	s.settings = &SettingsStore{db: db}
	s.content = &ContentStore{db: db}
	s.apiKeys = &APIKeyStore{db: db}

	return s, nil
}

// DB returns the underlying handle, for migrations.
func (s *Storage) DB() *sql.DB { return s.db }

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

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}

	return nil
}

// Close implements domain.Storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		s.log.WithError(err).Warn("closing sqlite")
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}

	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}

	// Without extended result codes only the primary code is reported.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
