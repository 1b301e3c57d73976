package store_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/db"
	"github.com/persistorai/seovault/internal/dbpool"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/store"
	"github.com/persistorai/seovault/internal/storetest"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool    *dbpool.Pool
	storage *store.Storage
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL, 0)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	if err := db.MigratePostgres(ctx, pool, log); err != nil {
		t.Fatalf("migrating test DB: %v", err)
	}

	sharedEnv = &testEnv{pool: pool, storage: store.New(pool, log)}

	return sharedEnv
}

func TestStorageContract(t *testing.T) {
	env := getTestEnv(t)
	storetest.RunAll(t, env.storage)
}

func TestAuditRejectsUpdate(t *testing.T) {
	env := getTestEnv(t)
	ctx := context.Background()

	id, err := env.storage.Audit().Append(ctx, models.NewAuditEvent{
		EventType: "test_immutable",
		Details:   map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, err = env.pool.Exec(ctx, `UPDATE audit_events SET details = '{"k":"tampered"}' WHERE id = $1`, id)
	if err == nil {
		t.Fatal("expected append-only trigger to reject UPDATE")
	}

	events, err := env.storage.Audit().List(ctx, models.AuditFilter{EventType: "test_immutable", Limit: 1})
	if err != nil || len(events) != 1 || events[0].Details["k"] != "v" {
		t.Fatalf("event was modified: %+v, %v", events, err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	env := getTestEnv(t)
	ctx := context.Background()
	oldType := fmt.Sprintf("test_old_%d", time.Now().UnixNano())

	if _, err := env.pool.Exec(ctx,
		"INSERT INTO audit_events (event_type, created_at) VALUES ($1, NOW() - INTERVAL '100 days')", oldType,
	); err != nil {
		t.Fatalf("backdated insert: %v", err)
	}

	storetest.AuditPurge(t, env.storage.Audit(), oldType)
}

func TestAppendWriteFailed(t *testing.T) {
	env := getTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.storage.Audit().Append(ctx, models.NewAuditEvent{EventType: "x"})
	if !errors.Is(err, models.ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
}
