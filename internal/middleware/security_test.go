package middleware_test

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/middleware"
)

func serve(t *testing.T, h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(h)
	r.Any("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(t, middleware.SecurityHeaders(), httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	expected := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
		"X-Robots-Tag":            "noindex, nofollow",
	}

	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS over plain HTTP: %q", got)
	}
}

func TestSecurityHeaders_HSTSOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.TLS = &tls.ConnectionState{}

	w := serve(t, middleware.SecurityHeaders(), req)
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=") {
		t.Errorf("HSTS = %q", got)
	}
}

func TestMaxBodySize_DeclaredLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(strings.Repeat("x", 64)))

	w := serve(t, middleware.MaxBodySize(16), req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if !strings.Contains(w.Body.String(), "payload_too_large") {
		t.Errorf("body = %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("small"))
	if w := serve(t, middleware.MaxBodySize(16), req); w.Code != http.StatusOK {
		t.Errorf("small body status = %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&strings.Builder{})

	tests := []struct {
		name       string
		clientID   string
		wantClient string
	}{
		{"no client id", "", ""},
		{"clean client id", "trace-42.a_b", "trace-42.a_b"},
		{"newline rejected", "abc\nlevel=error", ""},
		{"too long rejected", strings.Repeat("a", 65), ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)

			var gotID, gotClient string
			r := gin.New()
			r.Use(middleware.RequestID(log))
			r.GET("/test", func(c *gin.Context) {
				gotID = c.GetString(middleware.RequestIDKey)
				gotClient = c.GetString("client_request_id")
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tc.clientID != "" {
				req.Header.Set(middleware.RequestIDHeader, tc.clientID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if len(gotID) != 36 || gotID == tc.clientID {
				t.Errorf("request id = %q", gotID)
			}
			if w.Header().Get(middleware.RequestIDHeader) != gotID {
				t.Errorf("response header = %q, want %q", w.Header().Get(middleware.RequestIDHeader), gotID)
			}
			if gotClient != tc.wantClient {
				t.Errorf("client id = %q, want %q", gotClient, tc.wantClient)
			}
		})
	}
}
