// Package db runs schema migrations and bridges database notifications.
//
// Migrations are goose SQL files embedded per dialect under migrations/.
// On startup, Migrate applies all pending migrations automatically.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/db/migrations"
	"github.com/persistorai/seovault/internal/dbpool"
)

// MigratePostgres applies the postgres migrations through a database/sql
// handle opened on the pool's connection string.
func MigratePostgres(ctx context.Context, pool *dbpool.Pool, log *logrus.Logger) error {
	sqlDB, err := sql.Open("pgx", pool.ConnString())
	if err != nil {
		return fmt.Errorf("opening sql.DB for migrations: %w", err)
	}
	defer sqlDB.Close()

	return Migrate(ctx, sqlDB, goose.DialectPostgres, migrations.Postgres(), log)
}

// MigrateSQLite applies the sqlite migrations to an open database.
func MigrateSQLite(ctx context.Context, sqlDB *sql.DB, log *logrus.Logger) error {
	return Migrate(ctx, sqlDB, goose.DialectSQLite3, migrations.SQLite(), log)
}

// AppliedVersionPostgres returns the highest applied postgres migration.
func AppliedVersionPostgres(ctx context.Context, pool *dbpool.Pool) (int64, error) {
	sqlDB, err := sql.Open("pgx", pool.ConnString())
	if err != nil {
		return 0, fmt.Errorf("opening sql.DB for migrations: %w", err)
	}
	defer sqlDB.Close()

	return AppliedVersion(ctx, sqlDB, goose.DialectPostgres, migrations.Postgres())
}

// AppliedVersionSQLite returns the highest applied sqlite migration.
func AppliedVersionSQLite(ctx context.Context, sqlDB *sql.DB) (int64, error) {
	return AppliedVersion(ctx, sqlDB, goose.DialectSQLite3, migrations.SQLite())
}

// AppliedVersion reads the goose version table. It is 0 before the first
// migration.
func AppliedVersion(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, fsys fs.FS) (int64, error) {
	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return 0, fmt.Errorf("creating goose provider: %w", err)
	}

	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	return v, nil
}

// Migrate applies all pending migrations from fsys.
func Migrate(ctx context.Context, sqlDB *sql.DB, dialect goose.Dialect, fsys fs.FS, log *logrus.Logger) error {
	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", r.Source.Version, r.Source.Path, r.Error)
		}

		log.WithFields(logrus.Fields{
			"version":  r.Source.Version,
			"file":     r.Source.Path,
			"duration": r.Duration,
		}).Info("migration applied")
	}

	if len(results) == 0 {
		log.Debug("all migrations already applied")
	}

	return nil
}
