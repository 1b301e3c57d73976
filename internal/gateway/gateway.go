// Package gateway runs named administrative actions behind a capability
// check, a fixed-window rate limit and an audit trail.
//
// One invocation moves through Pending, RateChecked and Executing and ends
// in Succeeded, Failed or Denied. Decrypted secrets never leave an action;
// callers only see derived results.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/domain"
	"github.com/persistorai/seovault/internal/metrics"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ratelimit"
	"github.com/persistorai/seovault/internal/settings"
)

// State is a step of an invocation.
type State string

// Invocation states.
const (
	StatePending     State = "pending"
	StateRateChecked State = "rate_checked"
	StateExecuting   State = "executing"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateDenied      State = "denied"
)

// AuditLog is the audit service the gateway reads and writes.
type AuditLog interface {
	Append(ctx context.Context, ev models.NewAuditEvent) (int64, error)
	List(ctx context.Context, f models.AuditFilter) ([]models.AuditEvent, error)
	Export(ctx context.Context, f models.AuditFilter) iter.Seq2[models.AuditEvent, error]
	Purge(ctx context.Context, retentionDays int) (int, error)
}

// AsyncAuditor queues events that must not delay the caller.
type AsyncAuditor interface {
	Enqueue(ev models.NewAuditEvent)
}

// Settings is the settings store the gateway uses for secrets and overrides.
type Settings interface {
	Save(ctx context.Context, values map[string]string) (settings.SaveReport, error)
	UseSecret(ctx context.Context, name string, fn func(plaintext []byte) error) error
	Rotate(ctx context.Context) (settings.RotateReport, error)
	RateLimitOverride(ctx context.Context, action string) (int, bool)
	RateLimitingEnabled(ctx context.Context) bool
}

// Request is one action invocation.
type Request struct {
	Action  string
	Actor   models.Actor
	Payload json.RawMessage
	// Output receives streamed results (export_csv).
	Output io.Writer
}

// Outcome is the structured result of a successful invocation.
type Outcome struct {
	Action    string `json:"action"`
	State     State  `json:"state"`
	SubjectID *int64 `json:"subject_id,omitempty"`
	Result    any    `json:"result,omitempty"`
}

// Gateway runs actions.
type Gateway struct {
	limiter    ratelimit.Limiter
	audit      AuditLog
	async      AsyncAuditor
	settings   Settings
	content    domain.ContentRepository
	generator  MetaGenerator
	log        *logrus.Logger
	actions    map[string]action
	actorScope bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetaGenerator sets the generator used by generate_meta.
func WithMetaGenerator(m MetaGenerator) Option {
	return func(g *Gateway) { g.generator = m }
}

// WithPolicy replaces the rate limit policy of an action.
func WithPolicy(name string, p Policy) Option {
	return func(g *Gateway) {
		if a, ok := g.actions[name]; ok {
			a.policy = p
			g.actions[name] = a
		}
	}
}

// WithActorScope keys every bucket by actor, for headless callers that
// must not consume the shared quota of web sessions.
func WithActorScope() Option {
	return func(g *Gateway) { g.actorScope = true }
}

// New creates a Gateway.
func New(
	limiter ratelimit.Limiter,
	audit AuditLog,
	async AsyncAuditor,
	store Settings,
	content domain.ContentRepository,
	log *logrus.Logger,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		limiter:   limiter,
		audit:     audit,
		async:     async,
		settings:  store,
		content:   content,
		generator: unavailableGenerator{},
		log:       log,
		actions:   defaultActions(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// invocation carries one request through its action handler.
type invocation struct {
	ctx     context.Context
	req     Request
	state   State
	result  any
	subject *int64
	details map[string]any
}

func (inv *invocation) decode(v any) error {
	if len(bytes.TrimSpace(inv.req.Payload)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(inv.req.Payload))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return invalid(err)
	}

	return nil
}

// Execute runs one action. A denial by the rate limiter returns a
// *RateLimitedError. Audit write failures never fail the action.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	inv := &invocation{ctx: ctx, req: req, state: StatePending}

	fields := logrus.Fields{"action": req.Action, "actor": req.Actor.ID}

	def, ok := g.actions[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	defer func() {
		metrics.GatewayActions.WithLabelValues(req.Action, string(inv.state)).Inc()
		metrics.GatewayDuration.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())
	}()

	if req.Actor.ID == "" || !req.Actor.Can(def.capability) {
		inv.state = StateDenied
		g.log.WithFields(fields).Info("gateway: forbidden")
		return nil, ErrForbidden
	}

	if err := g.checkRate(inv, def); err != nil {
		inv.state = StateDenied
		return nil, err
	}
	inv.state = StateRateChecked

	inv.state = StateExecuting
	if err := def.handle(g, inv); err != nil {
		inv.state = StateFailed
		g.log.WithFields(fields).WithError(err).Info("gateway: action failed")
		return nil, err
	}
	inv.state = StateSucceeded

	if def.event != "" {
		g.record(ctx, models.NewAuditEvent{
			EventType: def.event,
			SubjectID: inv.subject,
			Actor:     req.Actor.ID,
			Details:   inv.details,
		})
	}

	g.log.WithFields(fields).WithField("duration", time.Since(start)).Debug("gateway: action succeeded")

	return &Outcome{
		Action:    req.Action,
		State:     inv.state,
		SubjectID: inv.subject,
		Result:    inv.result,
	}, nil
}

// checkRate consumes one slot of the action's bucket. Limiter failures
// deny the call rather than bypass the limit.
func (g *Gateway) checkRate(inv *invocation, def action) error {
	ctx := inv.ctx
	name := inv.req.Action

	if !g.settings.RateLimitingEnabled(ctx) {
		return nil
	}

	p := def.policy
	if n, ok := g.settings.RateLimitOverride(ctx, name); ok {
		p.Limit = n
	}
	if g.actorScope {
		p.Scope = ScopeActor
	}

	res, err := g.limiter.CheckAndIncrement(ctx, bucket(name, p, inv.req.Actor.ID), p.Limit, p.Window)
	if err != nil {
		g.log.WithError(err).WithField("action", name).Warn("gateway: rate limiter unavailable")
		return fmt.Errorf("%w: %w", ErrLimiterUnavailable, err)
	}

	if res.Allowed {
		return nil
	}

	retry := res.RetryAfterSeconds()

	metrics.RateLimitDenied.WithLabelValues(name).Inc()
	g.log.WithFields(logrus.Fields{
		"action":      name,
		"actor":       inv.req.Actor.ID,
		"retry_after": retry,
	}).Info("gateway: rate limited")

	g.async.Enqueue(models.NewAuditEvent{
		EventType: models.EventRateLimited,
		Actor:     inv.req.Actor.ID,
		Details:   map[string]any{"action": name, "retry_after": retry},
	})

	return &RateLimitedError{RetryAfter: retry}
}

// record appends an audit event. A failed write is logged and counted but
// does not change the outcome of the action.
func (g *Gateway) record(ctx context.Context, ev models.NewAuditEvent) {
	if _, err := g.audit.Append(context.WithoutCancel(ctx), ev); err != nil {
		g.log.WithError(err).WithField("event_type", ev.EventType).Warn("gateway: audit write failed")
	}
}
