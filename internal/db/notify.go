package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/dbpool"
	"github.com/persistorai/seovault/internal/models"
)

const (
	listenChannel     = "seovault_audit"
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2
	waitDeadline      = 2 * time.Minute
	// backfillLimit bounds one catch-up read after a reconnect. Clients that
	// missed more than this get a reset from the hub on their next subscribe.
	backfillLimit = models.MaxAuditListLimit
)

// Broadcaster sends audit notices to connected stream clients.
type Broadcaster interface {
	BroadcastAudit(data json.RawMessage)
}

// Backfiller reads audit events newer than afterID, oldest first.
type Backfiller interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error)
}

// auditNotice mirrors the payload built by the audit_log insert trigger.
type auditNotice struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	SubjectID *int64    `json:"subject_id"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// NotifyBridge LISTENs on the seovault_audit channel and forwards each
// notice to the hub, so every server sharing the database streams every
// append. Notices sent while the connection is down are lost by postgres;
// after a reconnect the bridge reads them back from the audit log.
type NotifyBridge struct {
	log      *logrus.Logger
	pool     *dbpool.Pool
	hub      Broadcaster
	backfill Backfiller
	lastID   atomic.Int64
}

// NewNotifyBridge creates a NotifyBridge. backfill may be nil, in which case
// events missed during a reconnect are not re-sent.
func NewNotifyBridge(log *logrus.Logger, pool *dbpool.Pool, hub Broadcaster, backfill Backfiller) *NotifyBridge {
	return &NotifyBridge{
		log:      log,
		pool:     pool,
		hub:      hub,
		backfill: backfill,
	}
}

// Start checks the database is reachable and runs the LISTEN loop in the
// background until ctx is done.
func (b *NotifyBridge) Start(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("notify bridge: database not reachable: %w", err)
	}

	go b.listen(ctx)

	return nil
}

func (b *NotifyBridge) listen(ctx context.Context) {
	backoff := initialBackoff
	reconnect := false

	for {
		err := b.subscribeAndForward(ctx, reconnect)
		if err == nil || ctx.Err() != nil {
			return
		}

		b.log.WithError(err).WithField("retry_in", backoff).
			Warn("notify bridge connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
		reconnect = true
	}
}

func (b *NotifyBridge) subscribeAndForward(ctx context.Context, reconnect bool) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{listenChannel}.Sanitize()); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	b.log.WithField("channel", listenChannel).Info("notify bridge listening")

	// LISTEN is active, so anything appended from here on arrives as a
	// notice; read back what was appended while disconnected.
	if reconnect {
		b.catchUp(ctx)
	}

	for {
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(waitDeadline)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		b.handleNotification(n)
	}
}

// catchUp forwards events newer than the last one seen. A notice may race
// with the backfill and go out twice; stream events carry their id so
// subscribers drop the duplicate.
func (b *NotifyBridge) catchUp(ctx context.Context) {
	after := b.lastID.Load()
	if b.backfill == nil || after == 0 {
		return
	}

	events, err := b.backfill.ListAfter(ctx, after, backfillLimit)
	if err != nil {
		b.log.WithError(err).Warn("notify bridge backfill failed")
		return
	}

	for _, ev := range events {
		data, err := json.Marshal(auditNotice{
			ID:        ev.ID,
			EventType: ev.EventType,
			SubjectID: ev.SubjectID,
			Actor:     ev.Actor,
			CreatedAt: ev.CreatedAt,
		})
		if err != nil {
			continue
		}
		b.forward(ev.ID, data)
	}

	if len(events) > 0 {
		b.log.WithField("events", len(events)).Info("notify bridge backfilled missed audit events")
	}
}

func (b *NotifyBridge) handleNotification(n *pgconn.Notification) {
	var head struct {
		ID        int64  `json:"id"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal([]byte(n.Payload), &head); err != nil || head.ID == 0 || head.EventType == "" {
		b.log.WithField("pid", n.PID).Warn("dropping malformed audit notification")
		return
	}

	b.forward(head.ID, json.RawMessage(n.Payload))
}

func (b *NotifyBridge) forward(id int64, data json.RawMessage) {
	for {
		last := b.lastID.Load()
		if id <= last || b.lastID.CompareAndSwap(last, id) {
			break
		}
	}
	b.hub.BroadcastAudit(data)
}

// nextBackoff doubles current with ±25% jitter, capped at maxBackoff.
func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		next = maxBackoff
	}

	jitter := float64(next) * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter doesn't need crypto rand.

	return time.Duration(jitter)
}
