package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/middleware"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ratelimit"
)

type mockActorLookup struct {
	validKeys map[string]models.Actor
	calls     atomic.Int32
}

func (m *mockActorLookup) LookupActor(_ context.Context, apiKey string) (models.Actor, error) {
	m.calls.Add(1)
	if a, ok := m.validKeys[apiKey]; ok {
		return a, nil
	}
	return models.Actor{}, errors.New("invalid key")
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestAuthMiddleware(t *testing.T) {
	lookup := &mockActorLookup{validKeys: map[string]models.Actor{"good-key": {ID: "alice"}}}

	tests := []struct {
		name       string
		authHeader string
		wantCode   int
	}{
		{"valid token", "Bearer good-key", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"invalid token", "Bearer bad-key", http.StatusUnauthorized},
		{"no bearer prefix", "good-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(middleware.AuthMiddleware(lookup, ratelimit.NewMemoryLimiter(), quietLogger()))
			r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("got %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthMiddleware_SetsActor(t *testing.T) {
	want := models.Actor{ID: "alice", Capabilities: []models.Capability{models.CapExportData}}
	lookup := &mockActorLookup{validKeys: map[string]models.Actor{"k1": want}}

	var got models.Actor
	r := gin.New()
	r.Use(middleware.AuthMiddleware(lookup, ratelimit.NewMemoryLimiter(), quietLogger()))
	r.GET("/test", func(c *gin.Context) {
		got, _ = middleware.ActorFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer k1")
	r.ServeHTTP(w, req)

	if got.ID != "alice" || !got.Can(models.CapExportData) {
		t.Fatalf("unexpected actor %+v", got)
	}
}

func TestAuthMiddleware_LimitsFailuresPerIP(t *testing.T) {
	lookup := &mockActorLookup{validKeys: map[string]models.Actor{"good-key": {ID: "alice"}}}

	r := gin.New()
	r.Use(middleware.AuthMiddleware(lookup, ratelimit.NewMemoryLimiter(), quietLogger()))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(ip, key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.RemoteAddr = ip + ":1234"
		req.Header.Set("Authorization", "Bearer "+key)
		r.ServeHTTP(w, req)
		return w
	}

	for i := range middleware.AuthFailureLimit {
		if w := do("9.9.9.9", "bad-key"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: got %d, want 401", i+1, w.Code)
		}
	}

	w := do("9.9.9.9", "good-key")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("locked out IP: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	if w := do("8.8.8.8", "good-key"); w.Code != http.StatusOK {
		t.Fatalf("other IP: got %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_ConcurrentFailuresBounded(t *testing.T) {
	lookup := &mockActorLookup{validKeys: map[string]models.Actor{}}

	r := gin.New()
	r.Use(middleware.AuthMiddleware(lookup, ratelimit.NewMemoryLimiter(), quietLogger()))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	var wg sync.WaitGroup
	for range 5 * middleware.AuthFailureLimit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			req.RemoteAddr = "6.6.6.6:1234"
			req.Header.Set("Authorization", "Bearer bad-key")
			r.ServeHTTP(w, req)
		}()
	}
	wg.Wait()

	if n := lookup.calls.Load(); n > middleware.AuthFailureLimit {
		t.Fatalf("%d key lookups in one window, want at most %d", n, middleware.AuthFailureLimit)
	}
}

func TestAuthMiddleware_SuccessDoesNotCount(t *testing.T) {
	lookup := &mockActorLookup{validKeys: map[string]models.Actor{"good-key": {ID: "alice"}}}

	r := gin.New()
	r.Use(middleware.AuthMiddleware(lookup, ratelimit.NewMemoryLimiter(), quietLogger()))
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(key string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.RemoteAddr = "4.4.4.4:1234"
		req.Header.Set("Authorization", "Bearer "+key)
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := range 3 * middleware.AuthFailureLimit {
		if code := do("good-key"); code != http.StatusOK {
			t.Fatalf("request %d: got %d, want 200", i+1, code)
		}
	}
	for i := range middleware.AuthFailureLimit {
		if code := do("bad-key"); code != http.StatusUnauthorized {
			t.Fatalf("failure %d: got %d, want 401", i+1, code)
		}
	}
}

func TestCachedActorLookup(t *testing.T) {
	inner := &mockActorLookup{validKeys: map[string]models.Actor{"k1": {ID: "alice"}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cached := middleware.NewCachedActorLookup(ctx, inner)

	for range 3 {
		a, err := cached.LookupActor(ctx, "k1")
		if err != nil || a.ID != "alice" {
			t.Fatalf("LookupActor: %+v, %v", a, err)
		}
	}
	for range 3 {
		if _, err := cached.LookupActor(ctx, "nope"); err == nil {
			t.Fatal("expected error for unknown key")
		}
	}

	if n := inner.calls.Load(); n != 2 {
		t.Fatalf("inner lookup called %d times, want 2", n)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"abc123", ""},
		{"", ""},
		{"Bearer ", ""},
		{"bearer abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			got := middleware.ExtractBearerToken(c)
			if got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
