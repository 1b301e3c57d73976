// Package app assembles storage, limiter, vault, services and the gateway
// from a config. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/config"
	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/db"
	"github.com/persistorai/seovault/internal/dbpool"
	"github.com/persistorai/seovault/internal/domain"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/ratelimit"
	"github.com/persistorai/seovault/internal/service"
	"github.com/persistorai/seovault/internal/settings"
	"github.com/persistorai/seovault/internal/sqlitestore"
	"github.com/persistorai/seovault/internal/store"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const postgresMaxConns = 10

// App holds the wired components.
type App struct {
	Config   *config.Config
	Log      *logrus.Logger
	Storage  domain.Storage
	Pool     *dbpool.Pool // nil unless the postgres driver is used
	Limiter  ratelimit.Limiter
	Throttle ratelimit.Limiter
	Vault    *crypto.Service
	Audit    *service.AuditService
	Worker   *service.AuditWorker
	Settings *settings.Store
	APIKeys  *service.APIKeyService
	Gateway  *gateway.Gateway

	sqlite  *sqlitestore.Storage
	closers []func()
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// Open connects storage and the rate limiter and builds every service.
// Gateway options are applied on top of the defaults.
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger, opts ...gateway.Option) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	if err := a.openLimiter(ctx); err != nil {
		a.Close()
		return nil, err
	}

	keys, err := keyProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Vault = crypto.NewService(keys)

	a.Audit = service.NewAuditService(a.Storage.Audit(), log)
	a.Worker = service.NewAuditWorker(a.Audit, log, cfg.AuditQueueSize)
	a.Settings = settings.NewStore(a.Storage.Settings(), a.Vault, log, gateway.ActionNames()...)
	a.APIKeys = service.NewAPIKeyService(a.Storage.APIKeys(), a.Audit, log)
	a.Gateway = gateway.New(a.Limiter, a.Audit, a.Worker, a.Settings, a.Storage.Content(), log, opts...)

	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.StorageDriver {
	case DriverPostgres:
		pool, err := dbpool.NewPool(ctx, a.Config.DatabaseURL.Value(), postgresMaxConns)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.Pool = pool
		a.Storage = store.New(pool, a.Log)
	case DriverSQLite:
		st, err := sqlitestore.Open(ctx, a.Config.SQLitePath, a.Log)
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		a.sqlite = st
		a.Storage = st
	default:
		return fmt.Errorf("unknown storage driver %q", a.Config.StorageDriver)
	}

	a.closers = append(a.closers, a.Storage.Close)

	return nil
}

func (a *App) openLimiter(ctx context.Context) error {
	switch a.Config.RateLimitBackend {
	case "redis":
		rl, err := ratelimit.NewRedisLimiterFromURL(ctx, a.Config.RedisURL.Value())
		if err != nil {
			return err
		}
		a.Limiter = rl
		a.Throttle = rl
		a.closers = append(a.closers, func() {
			if err := rl.Close(); err != nil {
				a.Log.WithError(err).Warn("closing redis limiter")
			}
		})
	default:
		// Per-IP buckets get their own table so a flood of clients cannot
		// crowd out the gateway's buckets.
		a.Limiter = ratelimit.NewMemoryLimiter()
		a.Throttle = ratelimit.NewMemoryLimiter()
	}

	return nil
}

func keyProvider(cfg *config.Config) (crypto.KeyProvider, error) {
	if cfg.KeyProvider == "vault" {
		return crypto.NewVaultProvider(cfg.VaultAddr, cfg.VaultKeyPath, cfg.VaultToken.Value(), cfg.MasterKeyID), nil
	}

	previous, err := cfg.PreviousKeys()
	if err != nil {
		return nil, err
	}

	p, err := crypto.NewStaticProvider(cfg.MasterKeyID, cfg.MasterKey.Value(), previous)
	if err != nil {
		return nil, fmt.Errorf("loading master keys: %w", err)
	}

	return p, nil
}

// Migrate applies pending schema migrations for the configured driver.
func (a *App) Migrate(ctx context.Context) error {
	if a.Pool != nil {
		return db.MigratePostgres(ctx, a.Pool, a.Log)
	}
	if a.sqlite != nil {
		return db.MigrateSQLite(ctx, a.sqlite.DB(), a.Log)
	}
	return errors.New("no storage open")
}

// SchemaVersion returns the applied schema version of the open storage.
func (a *App) SchemaVersion(ctx context.Context) (int64, error) {
	if a.Pool != nil {
		return db.AppliedVersionPostgres(ctx, a.Pool)
	}
	if a.sqlite != nil {
		return db.AppliedVersionSQLite(ctx, a.sqlite.DB())
	}
	return 0, errors.New("no storage open")
}

// PublishesOwnNotices reports whether the backend announces audit appends
// itself (postgres LISTEN/NOTIFY). Otherwise the audit service must publish.
func (a *App) PublishesOwnNotices() bool {
	return a.Pool != nil
}

// Close releases storage and limiter connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
