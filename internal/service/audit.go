package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/domain"
	"github.com/persistorai/seovault/internal/metrics"
	"github.com/persistorai/seovault/internal/models"
)

// ErrInvalidRetention is returned for a retention outside [1, 3650] days.
var ErrInvalidRetention = errors.New("retention_days must be between 1 and 3650")

// Publisher receives a notice for each appended event. The websocket hub
// implements it.
type Publisher interface {
	BroadcastAudit(data json.RawMessage)
}

// AuditService wraps the audit repository with logging, metrics and live
// publication of new events.
type AuditService struct {
	repo    domain.AuditRepository
	log     *logrus.Logger
	publish Publisher
}

// NewAuditService creates an AuditService.
func NewAuditService(repo domain.AuditRepository, log *logrus.Logger) *AuditService {
	return &AuditService{repo: repo, log: log}
}

// WithPublisher makes Append publish each event. Backends that notify on
// their own (postgres LISTEN/NOTIFY) leave it unset.
func (s *AuditService) WithPublisher(p Publisher) *AuditService {
	s.publish = p
	return s
}

type auditNotice struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	SubjectID *int64    `json:"subject_id"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// Append writes one event. Failures are counted and returned; callers
// decide whether they are fatal.
func (s *AuditService) Append(ctx context.Context, ev models.NewAuditEvent) (int64, error) {
	id, err := s.repo.Append(ctx, ev)
	if err != nil {
		metrics.AuditWriteFailures.WithLabelValues(ev.EventType).Inc()
		return 0, err
	}

	if s.publish != nil {
		data, err := json.Marshal(auditNotice{
			ID:        id,
			EventType: ev.EventType,
			SubjectID: ev.SubjectID,
			Actor:     ev.Actor,
			CreatedAt: time.Now().UTC(),
		})
		if err == nil {
			s.publish.BroadcastAudit(data)
		}
	}

	return id, nil
}

// List returns events newest-first.
func (s *AuditService) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEvent, error) {
	return s.repo.List(ctx, f)
}

// ListAfter returns events with id greater than afterID, oldest first.
func (s *AuditService) ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	return s.repo.ListAfter(ctx, afterID, limit)
}

// Export streams events newest-first.
func (s *AuditService) Export(ctx context.Context, f models.AuditFilter) iter.Seq2[models.AuditEvent, error] {
	return s.repo.Export(ctx, f)
}

// Purge deletes events older than retentionDays and logs the result.
func (s *AuditService) Purge(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 1 || retentionDays > 3650 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleted, err := s.repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("purging audit log: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"retention_days": retentionDays,
		"deleted":        deleted,
	}).Info("audit.purge")

	return deleted, nil
}
