package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/models"
)

const exportTimeout = 5 * time.Minute

// AuditStore provides data access for the audit_events table.
type AuditStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// Append inserts an audit event and returns its id.
func (s *AuditStore) Append(ctx context.Context, ev models.NewAuditEvent) (int64, error) {
	if ev.EventType == "" {
		return 0, models.ErrMissingEventType
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var details sql.NullString
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return 0, fmt.Errorf("marshaling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_type, subject_id, actor, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.EventType, nullInt64(ev.SubjectID), ev.Actor, details, time.Now().UTC().UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrAuditWriteFailed, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrAuditWriteFailed, err)
	}

	return id, nil
}

func buildAuditFilter(f models.AuditFilter) (where string, args []any) {
	var conditions []string

	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().UnixMicro())
	}

	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	return where, args
}

const auditColumns = "id, event_type, subject_id, actor, details, created_at"

// List returns events newest-first, capped at models.MaxAuditListLimit.
func (s *AuditStore) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	f = f.Normalized()
	where, args := buildAuditFilter(f)

	return s.collect(ctx, "SELECT "+auditColumns+" FROM audit_events "+where+" ORDER BY id DESC LIMIT ?", append(args, f.Limit))
}

// ListAfter returns up to limit events with id greater than afterID, oldest first.
func (s *AuditStore) ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit = models.AuditFilter{Limit: limit}.Normalized().Limit

	return s.collect(ctx, "SELECT "+auditColumns+" FROM audit_events WHERE id > ? ORDER BY id ASC LIMIT ?", []any{afterID, limit})
}

func (s *AuditStore) collect(ctx context.Context, query string, args []any) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		ev, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log: %w", err)
	}

	return events, nil
}

// Export streams events newest-first from an open cursor.
func (s *AuditStore) Export(ctx context.Context, f models.AuditFilter) iter.Seq2[models.AuditEvent, error] {
	return func(yield func(models.AuditEvent, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, exportTimeout)
		defer cancel()

		where, args := buildAuditFilter(f)
		query := "SELECT " + auditColumns + " FROM audit_events " + where + " ORDER BY id DESC"

		if f.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, f.Limit)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(models.AuditEvent{}, fmt.Errorf("querying audit export: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := s.scan(rows)
			if !yield(ev, err) || err != nil {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.AuditEvent{}, fmt.Errorf("iterating audit export: %w", err))
		}
	}
}

func (s *AuditStore) scan(rows *sql.Rows) (models.AuditEvent, error) {
	var (
		ev        models.AuditEvent
		subjectID sql.NullInt64
		details   sql.NullString
		created   int64
	)

	if err := rows.Scan(&ev.ID, &ev.EventType, &subjectID, &ev.Actor, &details, &created); err != nil {
		return models.AuditEvent{}, fmt.Errorf("scanning audit event: %w", err)
	}

	ev.SubjectID = int64Ptr(subjectID)
	ev.CreatedAt = time.UnixMicro(created).UTC()

	if details.Valid {
		if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
			s.log.WithError(err).WithField("id", ev.ID).Warn("failed to unmarshal audit details")
		}
	}

	return ev, nil
}

const purgeBatchSize = 5000

// PurgeOlderThan deletes events created before cutoff in batches.
func (s *AuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var total int

	for {
		batchCtx, cancel := withTimeout(ctx)

		res, err := s.db.ExecContext(batchCtx,
			`DELETE FROM audit_events WHERE id IN (
				SELECT id FROM audit_events WHERE created_at < ? LIMIT ?
			)`,
			cutoff.UTC().UnixMicro(), purgeBatchSize,
		)
		cancel()

		if err != nil {
			return total, fmt.Errorf("purging audit events: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("purging audit events: %w", err)
		}

		total += int(n)

		if n < purgeBatchSize {
			return total, nil
		}
	}
}
