package api_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/seovault/internal/api"
)

func TestLiveness_ReturnsOK(t *testing.T) {
	t.Parallel()

	h := api.NewHealthHandler(fakeStore{}, nil, testLogger(), "test-v1")

	r := gin.New()
	r.GET("/health", h.Liveness)

	w := doRequest(r, http.MethodGet, "/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
	if body["version"] != "test-v1" {
		t.Errorf("expected version 'test-v1', got %v", body["version"])
	}
	if body["database"] != "connected" {
		t.Errorf("expected database 'connected', got %v", body["database"])
	}
}

func TestLiveness_DatabaseDown(t *testing.T) {
	t.Parallel()

	h := api.NewHealthHandler(fakeStore{err: errors.New("down")}, nil, testLogger(), "v")

	r := gin.New()
	r.GET("/health", h.Liveness)

	w := doRequest(r, http.MethodGet, "/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("liveness should stay 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["database"] != "disconnected" {
		t.Errorf("expected database 'disconnected', got %v", body["database"])
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		store    api.HealthChecker
		wantCode int
	}{
		{"healthy", fakeStore{}, http.StatusOK},
		{"database down", fakeStore{err: errors.New("down")}, http.StatusServiceUnavailable},
		{"no store", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := api.NewHealthHandler(tt.store, nil, testLogger(), "v")
			r := gin.New()
			r.GET("/ready", h.Readiness)

			if w := doRequest(r, http.MethodGet, "/ready", "", ""); w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}
