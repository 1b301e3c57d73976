package service

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// mockAuditRepo records appends and returns configured errors.
type mockAuditRepo struct {
	mu     sync.Mutex
	events []models.NewAuditEvent
	nextID int64

	appendErr error
	purgeErr  error
	cutoff    time.Time
	purged    int
}

func (m *mockAuditRepo) Append(_ context.Context, ev models.NewAuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.nextID++
	m.events = append(m.events, ev)
	return m.nextID, nil
}

func (m *mockAuditRepo) List(context.Context, models.AuditFilter) ([]models.AuditEvent, error) {
	return nil, nil
}

func (m *mockAuditRepo) ListAfter(context.Context, int64, int) ([]models.AuditEvent, error) {
	return nil, nil
}

func (m *mockAuditRepo) Export(context.Context, models.AuditFilter) iter.Seq2[models.AuditEvent, error] {
	return func(func(models.AuditEvent, error) bool) {}
}

func (m *mockAuditRepo) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoff = cutoff
	return m.purged, m.purgeErr
}

func (m *mockAuditRepo) appended() []models.NewAuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.NewAuditEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

// mockPublisher records broadcast payloads.
type mockPublisher struct {
	mu   sync.Mutex
	msgs []json.RawMessage
}

func (m *mockPublisher) BroadcastAudit(data json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, data)
}
