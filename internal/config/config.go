// Package config provides environment-driven configuration for seovault.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	StorageDriver string
	DatabaseURL   Secret
	SQLitePath    string

	Port        string
	ListenHost  string
	MetricsPort string
	CORSOrigins []string

	LogLevel  string
	LogFormat string

	KeyProvider        string
	MasterKey          Secret
	MasterKeyID        string
	PreviousMasterKeys Secret
	VaultAddr          string
	VaultToken         Secret
	VaultKeyPath       string

	RateLimitBackend string
	RedisURL         Secret

	AuditRetentionDays int
	AuditQueueSize     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StorageDriver:      envOrDefault("STORAGE_DRIVER", "sqlite"),
		DatabaseURL:        Secret(envOrDefault("DATABASE_URL", "")),
		SQLitePath:         envOrDefault("SQLITE_PATH", "seovault.db"),
		Port:               envOrDefault("PORT", "3040"),
		ListenHost:         envOrDefault("LISTEN_HOST", "127.0.0.1"),
		MetricsPort:        envOrDefault("METRICS_PORT", "9092"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		KeyProvider:        envOrDefault("KEY_PROVIDER", "static"),
		MasterKey:          Secret(envOrDefault("MASTER_KEY", "")),
		MasterKeyID:        envOrDefault("MASTER_KEY_ID", "primary"),
		PreviousMasterKeys: Secret(envOrDefault("PREVIOUS_MASTER_KEYS", "")),
		VaultAddr:          envOrDefault("VAULT_ADDR", "http://127.0.0.1:8200"),
		VaultToken:         Secret(envOrDefault("VAULT_TOKEN", "")),
		VaultKeyPath:       envOrDefault("VAULT_KEY_PATH", "secret/data/seovault/master-keys"),
		RateLimitBackend:   envOrDefault("RATELIMIT_BACKEND", "memory"),
		RedisURL:           Secret(envOrDefault("REDIS_URL", "")),
	}

	retention, err := strconv.Atoi(envOrDefault("AUDIT_RETENTION_DAYS", "90"))
	if err != nil || retention < 1 || retention > 3650 {
		return nil, fmt.Errorf("AUDIT_RETENTION_DAYS must be an integer between 1 and 3650")
	}
	cfg.AuditRetentionDays = retention

	queueSize, err := strconv.Atoi(envOrDefault("AUDIT_QUEUE_SIZE", "1000"))
	if err != nil || queueSize < 1 || queueSize > 100000 {
		return nil, fmt.Errorf("AUDIT_QUEUE_SIZE must be an integer between 1 and 100000")
	}
	cfg.AuditQueueSize = queueSize

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3002")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

// MetricsAddr returns the metrics listen address in host:port format.
func (c *Config) MetricsAddr() string {
	return c.ListenHost + ":" + c.MetricsPort
}

// PreviousKeys parses PREVIOUS_MASTER_KEYS ("id:hex,id:hex") into a map of key id to hex key.
func (c *Config) PreviousKeys() (map[string]string, error) {
	out := make(map[string]string)

	raw := strings.TrimSpace(c.PreviousMasterKeys.Value())
	if raw == "" {
		return out, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		id, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("PREVIOUS_MASTER_KEYS entries must be id:hexkey")
		}

		if id == c.MasterKeyID {
			return nil, fmt.Errorf("PREVIOUS_MASTER_KEYS must not reuse MASTER_KEY_ID %q", id)
		}

		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("PREVIOUS_MASTER_KEYS contains duplicate key id %q", id)
		}

		out[id] = key
	}

	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
