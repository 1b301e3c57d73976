// Package storetest holds behaviour tests shared by every domain.Storage backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/persistorai/seovault/internal/domain"
	"github.com/persistorai/seovault/internal/models"
)

func ptr[T any](v T) *T { return &v }

// RunAll runs every contract test against s.
func RunAll(t *testing.T, s domain.Storage) {
	t.Helper()
	t.Run("AuditAppendList", func(t *testing.T) { AuditAppendList(t, s.Audit()) })
	t.Run("AuditSince", func(t *testing.T) { AuditSince(t, s.Audit()) })
	t.Run("AuditConcurrentAppend", func(t *testing.T) { AuditConcurrentAppend(t, s.Audit()) })
	t.Run("AuditExport", func(t *testing.T) { AuditExport(t, s.Audit()) })
	t.Run("AuditListAfter", func(t *testing.T) { AuditListAfter(t, s.Audit()) })
	t.Run("Settings", func(t *testing.T) { Settings(t, s.Settings()) })
	t.Run("Content", func(t *testing.T) { Content(t, s.Content()) })
	t.Run("APIKeys", func(t *testing.T) { APIKeys(t, s.APIKeys()) })
}

// AuditAppendList checks that appended events come back newest-first with
// strictly increasing ids and matching fields.
func AuditAppendList(t *testing.T, repo domain.AuditRepository) {
	ctx := context.Background()
	typ := fmt.Sprintf("test_append_%d", time.Now().UnixNano())

	var last int64
	for i := range 3 {
		id, err := repo.Append(ctx, models.NewAuditEvent{
			EventType: typ,
			SubjectID: ptr(int64(100 + i)),
			Actor:     "tester",
			Details:   map[string]any{"source": float64(7), "n": float64(i)},
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}

	events, err := repo.List(ctx, models.AuditFilter{EventType: typ, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("List returned %d events, want 3", len(events))
	}

	if events[0].ID != last || events[0].ID <= events[1].ID || events[1].ID <= events[2].ID {
		t.Fatalf("events not newest-first: %d %d %d", events[0].ID, events[1].ID, events[2].ID)
	}

	e := events[0]
	if e.EventType != typ || e.Actor != "tester" || e.SubjectID == nil || *e.SubjectID != 102 {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Details["source"] != float64(7) || e.Details["n"] != float64(2) {
		t.Errorf("unexpected details %v", e.Details)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	limited, err := repo.List(ctx, models.AuditFilter{EventType: typ, Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("limited List: %d events, %v", len(limited), err)
	}

	future := time.Now().Add(time.Hour)
	none, err := repo.List(ctx, models.AuditFilter{EventType: typ, Since: &future})
	if err != nil || len(none) != 0 {
		t.Fatalf("since filter: %d events, %v", len(none), err)
	}

	if _, err := repo.Append(ctx, models.NewAuditEvent{}); !errors.Is(err, models.ErrMissingEventType) {
		t.Errorf("expected ErrMissingEventType, got %v", err)
	}
}

// AuditSince checks that a cutoff between two events keeps only the newer
// one. Cutoffs come from stored timestamps since the database may stamp
// rows with its own clock.
func AuditSince(t *testing.T, repo domain.AuditRepository) {
	ctx := context.Background()
	typ := fmt.Sprintf("test_since_%d", time.Now().UnixNano())

	for i := range 2 {
		if i > 0 {
			time.Sleep(20 * time.Millisecond)
		}
		if _, err := repo.Append(ctx, models.NewAuditEvent{EventType: typ}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	both, err := repo.List(ctx, models.AuditFilter{EventType: typ})
	if err != nil || len(both) != 2 {
		t.Fatalf("List: %d events, %v", len(both), err)
	}
	newer, older := both[0], both[1]
	if !newer.CreatedAt.After(older.CreatedAt) {
		t.Fatalf("timestamps not increasing: %v then %v", older.CreatedAt, newer.CreatedAt)
	}

	for name, cutoff := range map[string]time.Time{
		"between":  older.CreatedAt.Add(newer.CreatedAt.Sub(older.CreatedAt) / 2),
		"at newer": newer.CreatedAt,
	} {
		got, err := repo.List(ctx, models.AuditFilter{EventType: typ, Since: &cutoff})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != 1 || got[0].ID != newer.ID {
			t.Errorf("%s: got %d events, want only id %d", name, len(got), newer.ID)
		}
	}

	cutoff := older.CreatedAt
	got, err := repo.List(ctx, models.AuditFilter{EventType: typ, Since: &cutoff})
	if err != nil || len(got) != 2 {
		t.Errorf("cutoff at older: %d events, %v", len(got), err)
	}
}

// AuditConcurrentAppend checks that parallel appends all land with distinct ids.
func AuditConcurrentAppend(t *testing.T, repo domain.AuditRepository) {
	ctx := context.Background()
	typ := fmt.Sprintf("test_concurrent_%d", time.Now().UnixNano())

	const n = 20

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.Append(ctx, models.NewAuditEvent{EventType: typ})
			if err != nil {
				t.Errorf("Append: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Fatalf("got %d distinct ids, want %d", len(ids), n)
	}

	events, err := repo.List(ctx, models.AuditFilter{EventType: typ, Limit: 100})
	if err != nil || len(events) != n {
		t.Fatalf("List: %d events, %v", len(events), err)
	}
}

// AuditExport checks streaming export order, limit and early stop.
func AuditExport(t *testing.T, repo domain.AuditRepository) {
	ctx := context.Background()
	typ := fmt.Sprintf("test_export_%d", time.Now().UnixNano())

	for i := range 5 {
		if _, err := repo.Append(ctx, models.NewAuditEvent{EventType: typ, Details: map[string]any{"i": float64(i)}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var got []models.AuditEvent
	for ev, err := range repo.Export(ctx, models.AuditFilter{EventType: typ}) {
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		got = append(got, ev)
	}

	if len(got) != 5 || got[0].Details["i"] != float64(4) || got[4].Details["i"] != float64(0) {
		t.Fatalf("unexpected export order or size: %d", len(got))
	}

	count := 0
	for _, err := range repo.Export(ctx, models.AuditFilter{EventType: typ}) {
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		count++
		if count == 2 {
			break
		}
	}

	limited := 0
	for _, err := range repo.Export(ctx, models.AuditFilter{EventType: typ, Limit: 3}) {
		if err != nil {
			t.Fatalf("Export: %v", err)
		}
		limited++
	}

	if limited != 3 {
		t.Fatalf("limited export yielded %d rows, want 3", limited)
	}
}

// AuditListAfter checks the replay query used by the live stream.
func AuditListAfter(t *testing.T, repo domain.AuditRepository) {
	ctx := context.Background()
	typ := fmt.Sprintf("test_after_%d", time.Now().UnixNano())

	first, err := repo.Append(ctx, models.NewAuditEvent{EventType: typ})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	second, _ := repo.Append(ctx, models.NewAuditEvent{EventType: typ})
	third, _ := repo.Append(ctx, models.NewAuditEvent{EventType: typ})

	events, err := repo.ListAfter(ctx, first, 10)
	if err != nil {
		t.Fatalf("ListAfter: %v", err)
	}

	if len(events) < 2 || events[0].ID != second || events[1].ID != third {
		t.Fatalf("unexpected replay %+v", events)
	}
}

// AuditPurge checks that only events older than the cutoff are removed.
// Backends call it after backdating rows themselves.
func AuditPurge(t *testing.T, repo domain.AuditRepository, oldType string) {
	ctx := context.Background()

	deleted, err := repo.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}

	if deleted < 1 {
		t.Fatalf("deleted %d, want at least 1", deleted)
	}

	left, err := repo.List(ctx, models.AuditFilter{EventType: oldType})
	if err != nil || len(left) != 0 {
		t.Fatalf("old events left: %d, %v", len(left), err)
	}
}

// Settings checks upsert, lookup and compare-and-swap.
func Settings(t *testing.T, repo domain.SettingsRepository) {
	ctx := context.Background()
	name := fmt.Sprintf("test.setting.%d", time.Now().UnixNano())

	if v, err := repo.Get(ctx, name); err != nil || v != "" {
		t.Fatalf("Get missing: %q, %v", v, err)
	}

	if err := repo.Put(ctx, map[string]string{name: "one", name + ".b": "b"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := repo.Put(ctx, map[string]string{name: "two"}); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if all[name] != "two" || all[name+".b"] != "b" {
		t.Fatalf("unexpected settings %v", all)
	}

	ok, err := repo.CompareAndSwap(ctx, name, "one", "three")
	if err != nil || ok {
		t.Fatalf("stale CAS should fail: ok=%v err=%v", ok, err)
	}

	ok, err = repo.CompareAndSwap(ctx, name, "two", "three")
	if err != nil || !ok {
		t.Fatalf("CAS should succeed: ok=%v err=%v", ok, err)
	}

	if v, _ := repo.Get(ctx, name); v != "three" {
		t.Fatalf("Get after CAS = %q", v)
	}
}

// Content checks draft creation with meta and lookup.
func Content(t *testing.T, repo domain.ContentRepository) {
	ctx := context.Background()

	src, err := repo.Create(ctx, models.NewContent{Title: "Source", Body: "<p>body</p>", Status: models.StatusPublished})
	if err != nil {
		t.Fatalf("Create source: %v", err)
	}

	draft, err := repo.Create(ctx, models.NewContent{
		Title:    "Draft",
		Body:     "b",
		SourceID: &src.ID,
		Meta:     map[string]string{models.MetaDescriptionKey: "desc", models.MetaSchemaKey: "{}"},
	})
	if err != nil {
		t.Fatalf("Create draft: %v", err)
	}

	if draft.ID == src.ID || draft.Status != models.StatusDraft || draft.Type != "post" {
		t.Fatalf("unexpected draft %+v", draft)
	}

	got, err := repo.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.Title != "Draft" || got.SourceID == nil || *got.SourceID != src.ID || got.Meta[models.MetaDescriptionKey] != "desc" {
		t.Fatalf("unexpected content %+v", got)
	}

	if _, err := repo.Get(ctx, 1<<40); !errors.Is(err, models.ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

// APIKeys checks key creation, duplicate rejection and lookup.
func APIKeys(t *testing.T, repo domain.APIKeyRepository) {
	ctx := context.Background()
	hash := fmt.Sprintf("hash-%d", time.Now().UnixNano())

	key := models.APIKey{
		KeyHash:      hash,
		Actor:        "alice",
		Capabilities: []models.Capability{models.CapExportData, models.CapViewReports},
	}

	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if err := repo.CreateAPIKey(ctx, key); !errors.Is(err, models.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := repo.LookupAPIKey(ctx, hash)
	if err != nil {
		t.Fatalf("LookupAPIKey: %v", err)
	}

	if got.Actor != "alice" || len(got.Capabilities) != 2 || got.Capabilities[0] != models.CapExportData {
		t.Fatalf("unexpected key %+v", got)
	}

	if _, err := repo.LookupAPIKey(ctx, "missing"); !errors.Is(err, models.ErrAPIKeyNotFound) {
		t.Fatalf("expected ErrAPIKeyNotFound, got %v", err)
	}
}
