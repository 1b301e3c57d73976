package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/api"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ratelimit"
	"github.com/persistorai/seovault/internal/settings"
	"github.com/persistorai/seovault/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.ErrorLevel)

	return l
}

// Test API keys and the actors they resolve to.
const (
	adminKey    = "sv_admin"
	viewerKey   = "sv_viewer"
	settingsKey = "sv_settings"
)

var actors = map[string]models.Actor{
	adminKey:    {ID: "user:1", Capabilities: models.AllCapabilities},
	viewerKey:   {ID: "user:2", Capabilities: []models.Capability{models.CapViewReports}},
	settingsKey: {ID: "user:3", Capabilities: []models.Capability{models.CapManageSettings}},
}

type fakeActors struct{}

func (fakeActors) LookupActor(_ context.Context, apiKey string) (models.Actor, error) {
	if a, ok := actors[apiKey]; ok {
		return a, nil
	}
	return models.Actor{}, models.ErrAPIKeyNotFound
}

// fakeRunner records requests and answers with fn.
type fakeRunner struct {
	mu   sync.Mutex
	reqs []gateway.Request
	fn   func(req gateway.Request) (*gateway.Outcome, error)
}

func (f *fakeRunner) Execute(_ context.Context, req gateway.Request) (*gateway.Outcome, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(req)
	}
	return &gateway.Outcome{Action: req.Action, State: gateway.StateSucceeded}, nil
}

func (f *fakeRunner) last(t *testing.T) gateway.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("runner was not called")
	}
	return f.reqs[len(f.reqs)-1]
}

type fakePreview struct{}

func (fakePreview) Preview(context.Context) ([]settings.FieldPreview, error) {
	return []settings.FieldPreview{
		{Name: settings.OpenAIKeyField, Secret: true, Set: true, Value: "********", KeyID: "primary"},
	}, nil
}

type fakeStore struct{ err error }

func (f fakeStore) HealthCheck(context.Context) error { return f.err }

// newTestRouter builds the full router around runner.
func newTestRouter(t *testing.T, runner api.ActionRunner) (http.Handler, *ws.Hub) {
	t.Helper()

	log := testLogger()
	hub := ws.NewHub(log, nil)

	return api.NewRouter(t.Context(), &api.RouterDeps{
		Log:           log,
		Store:         fakeStore{},
		Hub:           hub,
		Gateway:       runner,
		Settings:      fakePreview{},
		Actors:        fakeActors{},
		Limiter:       ratelimit.NewMemoryLimiter(),
		CORSOrigins:   []string{"http://localhost:3002"},
		Version:       "test",
		RetentionDays: 90,
	}), hub
}

// doRequest performs an HTTP request against the handler and returns the recorder.
func doRequest(h http.Handler, method, path, apiKey, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	return body
}

var errBoom = errors.New("boom")
