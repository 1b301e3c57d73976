package config_test

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/persistorai/seovault/internal/config"
)

func validKey() string {
	return hex.EncodeToString(make([]byte, 32))
}

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")
	t.Setenv("KEY_PROVIDER", "static")
	t.Setenv("MASTER_KEY", validKey())
	t.Setenv("MASTER_KEY_ID", "")
	t.Setenv("PREVIOUS_MASTER_KEYS", "")
	t.Setenv("RATELIMIT_BACKEND", "memory")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000")
	t.Setenv("PORT", "")
	t.Setenv("METRICS_PORT", "")
	t.Setenv("LISTEN_HOST", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
}

func TestLoad_ValidConfig(t *testing.T) {
	setValidEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Addr() != "127.0.0.1:3040" {
		t.Errorf("expected addr 127.0.0.1:3040, got %s", cfg.Addr())
	}

	if cfg.MetricsAddr() != "127.0.0.1:9092" {
		t.Errorf("expected metrics addr 127.0.0.1:9092, got %s", cfg.MetricsAddr())
	}

	if cfg.MasterKeyID != "primary" {
		t.Errorf("expected default key id primary, got %s", cfg.MasterKeyID)
	}

	if cfg.AuditRetentionDays != 90 {
		t.Errorf("expected default retention 90, got %d", cfg.AuditRetentionDays)
	}

	if cfg.AuditQueueSize != 1000 {
		t.Errorf("expected default queue size 1000, got %d", cfg.AuditQueueSize)
	}
}

func TestLoad_EmptyMasterKeyAllowed(t *testing.T) {
	setValidEnv(t)
	t.Setenv("MASTER_KEY", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.MasterKey.Value() != "" {
		t.Error("expected empty master key")
	}
}

func TestSecret_Redacted(t *testing.T) {
	s := config.Secret("sk-live-abc")

	for _, got := range []string{s.String(), fmt.Sprintf("%v", s), fmt.Sprintf("%#v", s)} {
		if strings.Contains(got, "sk-live") {
			t.Errorf("secret leaked: %q", got)
		}
	}

	if s.Value() != "sk-live-abc" {
		t.Errorf("Value() = %q", s.Value())
	}
}

func TestPreviousKeys(t *testing.T) {
	setValidEnv(t)
	other := strings.Repeat("ab", 32)
	t.Setenv("PREVIOUS_MASTER_KEYS", "old1:"+other+", old2:"+validKey())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prev, err := cfg.PreviousKeys()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(prev) != 2 || prev["old1"] != other || prev["old2"] != validKey() {
		t.Errorf("unexpected previous keys: %d entries", len(prev))
	}
}

func TestLoad_ErrorCases(t *testing.T) {
	tests := []struct {
		name         string
		envOverrides map[string]string
		wantErr      string
	}{
		{
			name:         "unknown storage driver",
			envOverrides: map[string]string{"STORAGE_DRIVER": "mysql"},
			wantErr:      "STORAGE_DRIVER must be 'sqlite' or 'postgres'",
		},
		{
			name:         "postgres without DATABASE_URL",
			envOverrides: map[string]string{"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""},
			wantErr:      "DATABASE_URL is required",
		},
		{
			name:         "postgres bad scheme",
			envOverrides: map[string]string{"STORAGE_DRIVER": "postgres", "DATABASE_URL": "mysql://localhost/db"},
			wantErr:      "DATABASE_URL scheme must be postgres",
		},
		{
			name: "postgres remote without tls",
			envOverrides: map[string]string{
				"STORAGE_DRIVER": "postgres",
				"DATABASE_URL":   "postgres://u:p@db.example.com/seo?sslmode=disable",
			},
			wantErr: "sslmode=disable is not allowed",
		},
		{
			name:         "invalid PORT zero",
			envOverrides: map[string]string{"PORT": "0"},
			wantErr:      "PORT must be between 1 and 65535",
		},
		{
			name:         "invalid PORT non-numeric",
			envOverrides: map[string]string{"PORT": "abc"},
			wantErr:      "PORT must be a valid integer",
		},
		{
			name:         "invalid LISTEN_HOST",
			envOverrides: map[string]string{"LISTEN_HOST": "192.168.1.1"},
			wantErr:      "LISTEN_HOST must be a loopback address",
		},
		{
			name:         "METRICS_PORT same as PORT",
			envOverrides: map[string]string{"METRICS_PORT": "3040"},
			wantErr:      "METRICS_PORT must differ from PORT",
		},
		{
			name:         "bad log level",
			envOverrides: map[string]string{"LOG_LEVEL": "trace"},
			wantErr:      "LOG_LEVEL must be one of",
		},
		{
			name:         "CORS wildcard",
			envOverrides: map[string]string{"CORS_ORIGINS": "*"},
			wantErr:      "CORS_ORIGINS must not contain wildcard",
		},
		{
			name:         "master key wrong length",
			envOverrides: map[string]string{"MASTER_KEY": "aabbccdd"},
			wantErr:      "MASTER_KEY must be 64 hex characters",
		},
		{
			name:         "master key not hex",
			envOverrides: map[string]string{"MASTER_KEY": strings.Repeat("zz", 32)},
			wantErr:      "MASTER_KEY must be valid hex",
		},
		{
			name:         "master key id with separator",
			envOverrides: map[string]string{"MASTER_KEY_ID": "a:b"},
			wantErr:      "MASTER_KEY_ID must be",
		},
		{
			name:         "previous keys malformed",
			envOverrides: map[string]string{"PREVIOUS_MASTER_KEYS": "nokey"},
			wantErr:      "PREVIOUS_MASTER_KEYS entries must be id:hexkey",
		},
		{
			name:         "previous keys reuse primary id",
			envOverrides: map[string]string{"PREVIOUS_MASTER_KEYS": "primary:" + strings.Repeat("ab", 32)},
			wantErr:      "must not reuse MASTER_KEY_ID",
		},
		{
			name:         "vault provider without token",
			envOverrides: map[string]string{"KEY_PROVIDER": "vault", "VAULT_TOKEN": ""},
			wantErr:      "VAULT_TOKEN is required",
		},
		{
			name: "vault remote over http",
			envOverrides: map[string]string{
				"KEY_PROVIDER": "vault",
				"VAULT_TOKEN":  "t",
				"VAULT_ADDR":   "http://vault.example.com:8200",
			},
			wantErr: "VAULT_ADDR must use HTTPS",
		},
		{
			name:         "unknown key provider",
			envOverrides: map[string]string{"KEY_PROVIDER": "kms"},
			wantErr:      "KEY_PROVIDER must be 'static' or 'vault'",
		},
		{
			name:         "redis backend without url",
			envOverrides: map[string]string{"RATELIMIT_BACKEND": "redis", "REDIS_URL": ""},
			wantErr:      "REDIS_URL is required",
		},
		{
			name:         "redis backend bad url",
			envOverrides: map[string]string{"RATELIMIT_BACKEND": "redis", "REDIS_URL": "http://localhost:6379"},
			wantErr:      "REDIS_URL must be a redis://",
		},
		{
			name:         "retention non-numeric",
			envOverrides: map[string]string{"AUDIT_RETENTION_DAYS": "abc"},
			wantErr:      "AUDIT_RETENTION_DAYS must be an integer",
		},
		{
			name:         "queue size zero",
			envOverrides: map[string]string{"AUDIT_QUEUE_SIZE": "0"},
			wantErr:      "AUDIT_QUEUE_SIZE must be an integer",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv(t)
			for k, v := range tc.envOverrides {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}
