package store

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/models"
)

// exportTimeout bounds a single streaming export.
const exportTimeout = 5 * time.Minute

// AuditStore provides data access for the audit_events table.
type AuditStore struct {
	Base
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(base Base) *AuditStore {
	return &AuditStore{Base: base}
}

// Append inserts an audit event and returns its id.
func (s *AuditStore) Append(ctx context.Context, ev models.NewAuditEvent) (int64, error) {
	if ev.EventType == "" {
		return 0, models.ErrMissingEventType
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return 0, fmt.Errorf("marshaling audit details: %w", err)
		}
	}

	var id int64

	err := s.Pool.QueryRow(ctx, `
		INSERT INTO audit_events (event_type, subject_id, actor, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		ev.EventType, ev.SubjectID, ev.Actor, details,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrAuditWriteFailed, err)
	}

	return id, nil
}

// buildAuditFilter builds WHERE clause and args from an AuditFilter.
func buildAuditFilter(f models.AuditFilter) (where string, args []any, nextArg int) {
	var conditions []string
	argIdx := 1

	if f.EventType != "" {
		conditions = append(conditions, "event_type = $"+strconv.Itoa(argIdx))
		args = append(args, f.EventType)
		argIdx++
	}
	if f.Since != nil {
		conditions = append(conditions, "created_at >= $"+strconv.Itoa(argIdx))
		args = append(args, *f.Since)
		argIdx++
	}

	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	return where, args, argIdx
}

const auditColumns = "id, event_type, subject_id, actor, details, created_at"

// List returns events newest-first, capped at models.MaxAuditListLimit.
func (s *AuditStore) List(ctx context.Context, f models.AuditFilter) ([]models.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	f = f.Normalized()
	where, args, argIdx := buildAuditFilter(f)

	query := fmt.Sprintf("SELECT %s FROM audit_events %s ORDER BY id DESC LIMIT $%d", auditColumns, where, argIdx)
	args = append(args, f.Limit)

	return s.collect(ctx, query, args)
}

// ListAfter returns up to limit events with id greater than afterID, oldest first.
func (s *AuditStore) ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit = models.AuditFilter{Limit: limit}.Normalized().Limit

	return s.collect(ctx,
		"SELECT "+auditColumns+" FROM audit_events WHERE id > $1 ORDER BY id ASC LIMIT $2",
		[]any{afterID, limit},
	)
}

func (s *AuditStore) collect(ctx context.Context, query string, args []any) ([]models.AuditEvent, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	events := []models.AuditEvent{}
	for rows.Next() {
		ev, err := scanAuditRow(rows, s.Log)
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

// Export streams events newest-first. Rows are read one at a time from the
// open cursor; stopping the iteration closes it.
func (s *AuditStore) Export(ctx context.Context, f models.AuditFilter) iter.Seq2[models.AuditEvent, error] {
	return func(yield func(models.AuditEvent, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, exportTimeout)
		defer cancel()

		where, args, argIdx := buildAuditFilter(f)
		query := fmt.Sprintf("SELECT %s FROM audit_events %s ORDER BY id DESC", auditColumns, where)

		if f.Limit > 0 {
			query += " LIMIT $" + strconv.Itoa(argIdx)
			args = append(args, f.Limit)
		}

		rows, err := s.Pool.Query(ctx, query, args...)
		if err != nil {
			yield(models.AuditEvent{}, fmt.Errorf("querying audit export: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanAuditRow(rows, s.Log)
			if !yield(ev, err) || err != nil {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.AuditEvent{}, fmt.Errorf("iterating audit export: %w", err))
		}
	}
}

// scanAuditRow scans one audit event from the current row.
func scanAuditRow(rows pgx.Rows, log *logrus.Logger) (models.AuditEvent, error) {
	var (
		ev      models.AuditEvent
		details []byte
	)

	if err := rows.Scan(&ev.ID, &ev.EventType, &ev.SubjectID, &ev.Actor, &details, &ev.CreatedAt); err != nil {
		return models.AuditEvent{}, fmt.Errorf("scanning audit event: %w", err)
	}

	if details != nil {
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			log.WithError(err).WithField("id", ev.ID).Warn("failed to unmarshal audit details")
		}
	}

	return ev, nil
}

// purgeBatchSize limits the number of rows deleted per statement to avoid
// holding long locks on audit_events.
const purgeBatchSize = 5000

// PurgeOlderThan deletes events created before cutoff in batches and returns
// the number deleted.
func (s *AuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var totalDeleted int

	for {
		batchCtx, cancel := withTimeout(ctx)

		tag, err := s.Pool.Exec(batchCtx,
			`DELETE FROM audit_events WHERE ctid IN (
				SELECT ctid FROM audit_events
				WHERE created_at < $1
				LIMIT $2
			)`,
			cutoff, purgeBatchSize,
		)
		cancel()

		if err != nil {
			return totalDeleted, fmt.Errorf("purging audit events: %w", err)
		}

		deleted := int(tag.RowsAffected())
		totalDeleted += deleted

		if deleted < purgeBatchSize {
			break
		}
	}

	return totalDeleted, nil
}
