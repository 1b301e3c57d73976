package gateway_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/db"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ratelimit"
	"github.com/persistorai/seovault/internal/service"
	"github.com/persistorai/seovault/internal/settings"
	"github.com/persistorai/seovault/internal/sqlitestore"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var admin = models.Actor{ID: "admin", Capabilities: models.AllCapabilities}

type asyncRecorder struct {
	mu     sync.Mutex
	events []models.NewAuditEvent
}

func (r *asyncRecorder) Enqueue(ev models.NewAuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *asyncRecorder) all() []models.NewAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NewAuditEvent(nil), r.events...)
}

type testEnv struct {
	gw       *gateway.Gateway
	storage  *sqlitestore.Storage
	audit    *service.AuditService
	settings *settings.Store
	clock    *ratelimit.FixedClock
	async    *asyncRecorder
	log      *logrus.Logger
}

func newEnv(t *testing.T, opts ...gateway.Option) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx := context.Background()

	storage, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "gw.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(storage.Close)

	if err := db.MigrateSQLite(ctx, storage.DB(), log); err != nil {
		t.Fatalf("MigrateSQLite: %v", err)
	}

	provider, err := crypto.NewStaticProvider("primary", testMasterKey, nil)
	if err != nil {
		t.Fatalf("NewStaticProvider: %v", err)
	}

	e := &testEnv{
		storage: storage,
		audit:   service.NewAuditService(storage.Audit(), log),
		clock:   &ratelimit.FixedClock{Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		async:   &asyncRecorder{},
		log:     log,
	}
	e.settings = settings.NewStore(storage.Settings(), crypto.NewService(provider), log, gateway.ActionNames()...)

	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithClock(e.clock))
	e.gw = gateway.New(limiter, e.audit, e.async, e.settings, storage.Content(), log, opts...)

	return e
}

func (e *testEnv) export(t *testing.T, actor models.Actor, payload string) (*gateway.Outcome, string, error) {
	t.Helper()
	var buf bytes.Buffer
	out, err := e.gw.Execute(context.Background(), gateway.Request{
		Action:  gateway.ActionExportCSV,
		Actor:   actor,
		Payload: json.RawMessage(payload),
		Output:  &buf,
	})
	return out, buf.String(), err
}

func TestExportCSV_RateLimitScenario(t *testing.T) {
	e := newEnv(t)

	for i := range 10 {
		if _, _, err := e.export(t, admin, ""); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}

	_, body, err := e.export(t, admin, "")

	var rl *gateway.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("11th call: expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter < 1 || rl.RetryAfter > 60 {
		t.Fatalf("retry_after = %d, want 1..60", rl.RetryAfter)
	}
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatal("RateLimitedError should match ErrRateLimited")
	}
	if body != "" {
		t.Fatalf("denied call wrote output %q", body)
	}
	if strings.Contains(err.Error(), "gw:") {
		t.Fatalf("error leaks bucket name: %v", err)
	}

	denials := e.async.all()
	if len(denials) != 1 || denials[0].EventType != models.EventRateLimited || denials[0].Details["action"] != gateway.ActionExportCSV {
		t.Fatalf("unexpected denial events %+v", denials)
	}

	e.clock.Advance(60 * time.Second)

	if _, _, err := e.export(t, admin, ""); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestExportCSV_StreamsRows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	subject := int64(9)
	if _, err := e.audit.Append(ctx, models.NewAuditEvent{
		EventType: models.EventAppliedDraft,
		SubjectID: &subject,
		Details:   map[string]any{"source": 3},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := e.audit.Append(ctx, models.NewAuditEvent{EventType: models.EventSettingsSaved}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	out, body, err := e.export(t, admin, `{"event_type":"applied_draft"}`)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("got %d records, want header + 1", len(records))
	}
	if strings.Join(records[0], ",") != "Type,Subject ID,Details,Created At" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][0] != "applied_draft" || records[1][1] != "9" || records[1][2] != `{"source":3}` {
		t.Fatalf("unexpected row %v", records[1])
	}
	if _, err := time.Parse(time.RFC3339, records[1][3]); err != nil {
		t.Fatalf("created at %q: %v", records[1][3], err)
	}

	if out.Result.(map[string]any)["rows"] != 1 {
		t.Fatalf("unexpected result %+v", out.Result)
	}

	events, err := e.audit.List(ctx, models.AuditFilter{EventType: models.EventExportCSV})
	if err != nil || len(events) != 1 {
		t.Fatalf("export not audited: %d, %v", len(events), err)
	}
}

func TestExportCSV_RequiresOutput(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.Execute(context.Background(), gateway.Request{Action: gateway.ActionExportCSV, Actor: admin})
	if !errors.Is(err, gateway.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func createSourceWithID(t *testing.T, e *testEnv, want int64) *models.Content {
	t.Helper()

	for {
		c, err := e.storage.Content().Create(context.Background(), models.NewContent{
			Title:  fmt.Sprintf("Post %d", want),
			Body:   "<p>original</p>",
			Status: models.StatusPublished,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if c.ID >= want {
			return c
		}
	}
}

func TestApplyDraft_Scenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	src := createSourceWithID(t, e, 7)
	if src.ID != 7 {
		t.Fatalf("source id = %d, want 7", src.ID)
	}

	payload := `{
		"source_id": 7,
		"recommendations": {
			"title": "Better <b>Title</b>",
			"outline": ["Intro & Setup", "", "Wrap up"],
			"meta_description": "A  short\n description",
			"schema": {"@type": "Article"}
		}
	}`

	out, err := e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionApplyDraft,
		Actor:   admin,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("apply_draft: %v", err)
	}

	if out.State != gateway.StateSucceeded || out.SubjectID == nil || *out.SubjectID == 7 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	draftID := *out.SubjectID

	draft, err := e.storage.Content().Get(ctx, draftID)
	if err != nil {
		t.Fatalf("Get draft: %v", err)
	}

	if draft.Title != "Better Title" || draft.Status != models.StatusDraft {
		t.Errorf("unexpected draft %+v", draft)
	}
	wantBody := "\n<h2>Intro &amp; Setup</h2>\n<h2>Wrap up</h2>\n<p>original</p>"
	if draft.Body != wantBody {
		t.Errorf("body = %q, want %q", draft.Body, wantBody)
	}
	if draft.Meta[models.MetaDescriptionKey] != "A short description" {
		t.Errorf("meta description = %q", draft.Meta[models.MetaDescriptionKey])
	}
	if draft.Meta[models.MetaSchemaKey] != `{"@type":"Article"}` {
		t.Errorf("schema = %q", draft.Meta[models.MetaSchemaKey])
	}

	events, err := e.audit.List(ctx, models.AuditFilter{EventType: models.EventAppliedDraft})
	if err != nil || len(events) != 1 {
		t.Fatalf("List: %d events, %v", len(events), err)
	}

	ev := events[0]
	if ev.SubjectID == nil || *ev.SubjectID != draftID || ev.Details["source"] != float64(7) || ev.Actor != "admin" {
		t.Fatalf("unexpected audit event %+v", ev)
	}

	srcAfter, _ := e.storage.Content().Get(ctx, 7)
	if srcAfter.Body != "<p>original</p>" {
		t.Fatal("source was modified")
	}
}

func TestApplyDraft_FallsBackToSourceTitle(t *testing.T) {
	e := newEnv(t)

	src := createSourceWithID(t, e, 1)

	out, err := e.gw.Execute(context.Background(), gateway.Request{
		Action:  gateway.ActionApplyDraft,
		Actor:   admin,
		Payload: json.RawMessage(fmt.Sprintf(`{"source_id": %d}`, src.ID)),
	})
	if err != nil {
		t.Fatalf("apply_draft: %v", err)
	}

	draft, _ := e.storage.Content().Get(context.Background(), *out.SubjectID)
	if draft.Title != src.Title || draft.Body != src.Body || len(draft.Meta) != 0 {
		t.Fatalf("unexpected draft %+v", draft)
	}
}

func TestApplyDraft_Errors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"missing source", `{}`, gateway.ErrInvalidPayload},
		{"unknown field", `{"source_id": 1, "post_id": 2}`, gateway.ErrInvalidPayload},
		{"malformed", `{"source_id":`, gateway.ErrInvalidPayload},
		{"source not found", `{"source_id": 999}`, models.ErrContentNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.gw.Execute(context.Background(), gateway.Request{
				Action:  gateway.ActionApplyDraft,
				Actor:   admin,
				Payload: json.RawMessage(tc.payload),
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestForbiddenDoesNotConsumeQuota(t *testing.T) {
	e := newEnv(t, gateway.WithPolicy(gateway.ActionExportCSV, gateway.Policy{Limit: 1, Window: time.Minute}))

	viewer := models.Actor{ID: "viewer", Capabilities: []models.Capability{models.CapViewReports}}

	for range 3 {
		if _, _, err := e.export(t, viewer, ""); !errors.Is(err, gateway.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	}

	if _, _, err := e.export(t, models.Actor{Capabilities: models.AllCapabilities}, ""); !errors.Is(err, gateway.ErrForbidden) {
		t.Fatalf("anonymous actor: expected ErrForbidden, got %v", err)
	}

	if _, _, err := e.export(t, admin, ""); err != nil {
		t.Fatalf("authorized call after forbidden ones: %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	e := newEnv(t)

	_, err := e.gw.Execute(context.Background(), gateway.Request{Action: "drop_tables", Actor: admin})
	if !errors.Is(err, gateway.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestBucketScopes(t *testing.T) {
	e := newEnv(t,
		gateway.WithPolicy(gateway.ActionListAudit, gateway.Policy{Limit: 1, Window: time.Minute, Scope: gateway.ScopeActor}),
		gateway.WithPolicy(gateway.ActionExportCSV, gateway.Policy{Limit: 1, Window: time.Minute, Scope: gateway.ScopeGlobal}),
	)
	ctx := context.Background()

	alice := models.Actor{ID: "alice", Capabilities: models.AllCapabilities}
	bob := models.Actor{ID: "bob", Capabilities: models.AllCapabilities}

	list := func(a models.Actor) error {
		_, err := e.gw.Execute(ctx, gateway.Request{Action: gateway.ActionListAudit, Actor: a})
		return err
	}

	if err := list(alice); err != nil {
		t.Fatalf("alice first list: %v", err)
	}
	if err := list(alice); !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("alice second list: expected rate limit, got %v", err)
	}
	if err := list(bob); err != nil {
		t.Fatalf("bob list should use his own bucket: %v", err)
	}

	if _, _, err := e.export(t, alice, ""); err != nil {
		t.Fatalf("alice export: %v", err)
	}
	if _, _, err := e.export(t, bob, ""); !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("global bucket should be shared: %v", err)
	}
}

func TestActorScopeOption(t *testing.T) {
	e := newEnv(t,
		gateway.WithActorScope(),
		gateway.WithPolicy(gateway.ActionExportCSV, gateway.Policy{Limit: 1, Window: time.Minute}),
	)

	if _, _, err := e.export(t, models.Actor{ID: "cli:a", Capabilities: models.AllCapabilities}, ""); err != nil {
		t.Fatalf("cli:a: %v", err)
	}
	if _, _, err := e.export(t, models.Actor{ID: "cli:b", Capabilities: models.AllCapabilities}, ""); err != nil {
		t.Fatalf("cli:b should not share cli:a's bucket: %v", err)
	}
}

func TestRateLimitOverrideAndToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.settings.Save(ctx, map[string]string{"rate_limits.export_csv": "2"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for range 2 {
		if _, _, err := e.export(t, admin, ""); err != nil {
			t.Fatalf("export: %v", err)
		}
	}
	if _, _, err := e.export(t, admin, ""); !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("override not applied: %v", err)
	}

	if _, err := e.settings.Save(ctx, map[string]string{settings.RateLimitEnabledField: "false"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, _, err := e.export(t, admin, ""); err != nil {
		t.Fatalf("limiting disabled but call denied: %v", err)
	}
}

type failingLimiter struct{}

func (failingLimiter) CheckAndIncrement(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func (failingLimiter) Peek(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func (failingLimiter) Refund(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func TestLimiterFailureDenies(t *testing.T) {
	e := newEnv(t)
	gw := gateway.New(failingLimiter{}, e.audit, e.async, e.settings, e.storage.Content(), e.log)

	_, err := gw.Execute(context.Background(), gateway.Request{Action: gateway.ActionListAudit, Actor: admin})
	if !errors.Is(err, gateway.ErrLimiterUnavailable) {
		t.Fatalf("expected ErrLimiterUnavailable, got %v", err)
	}
}

type brokenAudit struct {
	*service.AuditService
	attempts int
}

func (b *brokenAudit) Append(context.Context, models.NewAuditEvent) (int64, error) {
	b.attempts++
	return 0, models.ErrAuditWriteFailed
}

func TestAuditFailureDoesNotFailAction(t *testing.T) {
	e := newEnv(t)
	audit := &brokenAudit{AuditService: e.audit}
	gw := gateway.New(ratelimit.NewMemoryLimiter(), audit, e.async, e.settings, e.storage.Content(), e.log)

	src := createSourceWithID(t, e, 1)

	out, err := gw.Execute(context.Background(), gateway.Request{
		Action:  gateway.ActionApplyDraft,
		Actor:   admin,
		Payload: json.RawMessage(fmt.Sprintf(`{"source_id": %d}`, src.ID)),
	})
	if err != nil {
		t.Fatalf("action failed because of audit: %v", err)
	}
	if out.SubjectID == nil || audit.attempts != 1 {
		t.Fatalf("unexpected outcome %+v, attempts %d", out, audit.attempts)
	}
}

type captureGenerator struct {
	seen    string
	keyBuf  []byte
	content int64
}

func (g *captureGenerator) Generate(_ context.Context, apiKey []byte, c *models.Content) (gateway.MetaSuggestion, error) {
	g.seen = string(apiKey)
	g.keyBuf = apiKey
	g.content = c.ID
	return gateway.MetaSuggestion{Title: c.Title, Description: "generated"}, nil
}

func TestGenerateMeta(t *testing.T) {
	gen := &captureGenerator{}
	e := newEnv(t, gateway.WithMetaGenerator(gen))
	ctx := context.Background()

	src := createSourceWithID(t, e, 1)
	payload := json.RawMessage(fmt.Sprintf(`{"content_id": %d}`, src.ID))

	_, err := e.gw.Execute(ctx, gateway.Request{Action: gateway.ActionGenerateMeta, Actor: admin, Payload: payload})
	if !errors.Is(err, settings.ErrSecretNotSet) {
		t.Fatalf("expected ErrSecretNotSet, got %v", err)
	}

	if _, err := e.settings.Save(ctx, map[string]string{settings.OpenAIKeyField: "sk-gen-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := e.gw.Execute(ctx, gateway.Request{Action: gateway.ActionGenerateMeta, Actor: admin, Payload: payload})
	if err != nil {
		t.Fatalf("generate_meta: %v", err)
	}

	if gen.seen != "sk-gen-1" || gen.content != src.ID {
		t.Fatalf("generator saw %q for %d", gen.seen, gen.content)
	}
	for i, b := range gen.keyBuf {
		if b != 0 {
			t.Fatalf("key buffer not wiped at byte %d", i)
		}
	}

	s, ok := out.Result.(gateway.MetaSuggestion)
	if !ok || s.Description != "generated" {
		t.Fatalf("unexpected result %+v", out.Result)
	}

	raw, _ := json.Marshal(out)
	if strings.Contains(string(raw), "sk-gen-1") {
		t.Fatal("outcome leaks the api key")
	}
}

func TestGenerateMeta_DefaultGeneratorUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	src := createSourceWithID(t, e, 1)
	if _, err := e.settings.Save(ctx, map[string]string{settings.OpenAIKeyField: "sk-x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionGenerateMeta,
		Actor:   admin,
		Payload: json.RawMessage(fmt.Sprintf(`{"content_id": %d}`, src.ID)),
	})
	if !errors.Is(err, gateway.ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
}

func TestSaveSettings_AuditsNamesOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out, err := e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionSaveSettings,
		Actor:   admin,
		Payload: json.RawMessage(`{"openai_api_key": "sk-test-123", "google_ads.client_id": "cid"}`),
	})
	if err != nil {
		t.Fatalf("save_settings: %v", err)
	}

	report := out.Result.(settings.SaveReport)
	if len(report.Updated) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	events, err := e.audit.List(ctx, models.AuditFilter{EventType: models.EventSettingsSaved})
	if err != nil || len(events) != 1 {
		t.Fatalf("List: %d, %v", len(events), err)
	}

	raw, _ := json.Marshal(events[0].Details)
	if strings.Contains(string(raw), "sk-test-123") || strings.Contains(string(raw), "enc:") {
		t.Fatalf("audit details leak secret: %s", raw)
	}
	if !strings.Contains(string(raw), "openai_api_key") {
		t.Fatalf("audit details missing field names: %s", raw)
	}

	_, err = e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionSaveSettings,
		Actor:   admin,
		Payload: json.RawMessage(`{"no_such_field": "x"}`),
	})
	if !errors.Is(err, gateway.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestRotateAndPurge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.settings.Save(ctx, map[string]string{settings.OpenAIKeyField: "sk-1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := e.gw.Execute(ctx, gateway.Request{Action: gateway.ActionRotateSecrets, Actor: admin})
	if err != nil {
		t.Fatalf("rotate_secrets: %v", err)
	}
	if r := out.Result.(settings.RotateReport); len(r.Current) != 1 {
		t.Fatalf("unexpected rotate report %+v", r)
	}

	_, err = e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionPurgeAudit,
		Actor:   admin,
		Payload: json.RawMessage(`{"retention_days": 0}`),
	})
	if !errors.Is(err, gateway.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	out, err = e.gw.Execute(ctx, gateway.Request{
		Action:  gateway.ActionPurgeAudit,
		Actor:   admin,
		Payload: json.RawMessage(`{"retention_days": 30}`),
	})
	if err != nil {
		t.Fatalf("purge_audit: %v", err)
	}
	if out.Result.(map[string]any)["deleted"] != 0 {
		t.Fatalf("unexpected purge result %+v", out.Result)
	}

	events, _ := e.audit.List(ctx, models.AuditFilter{})
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.EventType] = true
	}
	if !types[models.EventSecretRotated] || !types[models.EventAuditPurged] {
		t.Fatalf("missing audit events: %v", types)
	}
}
