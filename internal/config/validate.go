package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

func (c *Config) validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateNetwork(); err != nil {
		return err
	}

	if err := c.validateLogging(); err != nil {
		return err
	}

	if err := c.validateCORS(); err != nil {
		return err
	}

	if err := c.validateKeys(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.StorageDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER is sqlite")
		}
		return nil
	case "postgres":
		return c.validateDatabaseURL()
	default:
		return fmt.Errorf("STORAGE_DRIVER must be 'sqlite' or 'postgres', got %q", c.StorageDriver)
	}
}

func (c *Config) validateDatabaseURL() error {
	if c.DatabaseURL.Value() == "" {
		return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is postgres")
	}

	dbURL, err := url.Parse(c.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	if dbURL.Scheme != "postgres" && dbURL.Scheme != "postgresql" {
		return fmt.Errorf("DATABASE_URL scheme must be postgres:// or postgresql://")
	}

	if dbURL.Hostname() == "" {
		return fmt.Errorf("DATABASE_URL must include a host")
	}

	if !isLocalHost(dbURL.Hostname()) && dbURL.Query().Get("sslmode") == "disable" {
		return fmt.Errorf("DATABASE_URL sslmode=disable is not allowed for non-local host %q", dbURL.Hostname())
	}

	return nil
}

func (c *Config) validateNetwork() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid integer: %w", err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	validHosts := map[string]bool{
		"127.0.0.1": true,
		"::1":       true,
		"localhost": true,
		"0.0.0.0":   true,
		"::":        true,
	}
	if !validHosts[c.ListenHost] {
		return fmt.Errorf("LISTEN_HOST must be a loopback address or 0.0.0.0/:: for containers (got %q)", c.ListenHost)
	}

	metricsPort, err := strconv.Atoi(c.MetricsPort)
	if err != nil {
		return fmt.Errorf("METRICS_PORT must be a valid integer: %w", err)
	}

	if metricsPort < 1 || metricsPort > 65535 {
		return fmt.Errorf("METRICS_PORT must be between 1 and 65535")
	}

	if metricsPort == port {
		return fmt.Errorf("METRICS_PORT must differ from PORT")
	}

	return nil
}

func (c *Config) validateLogging() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'text', got %q", c.LogFormat)
	}

	return nil
}

func (c *Config) validateCORS() error {
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ORIGINS must not contain wildcard '*'")
		}
		if strings.ContainsAny(origin, "*?[]") {
			return fmt.Errorf("CORS_ORIGINS must not contain glob characters (*?[]), got %q", origin)
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("CORS_ORIGINS contains invalid origin %q (must have scheme and host)", origin)
		}
	}

	return nil
}

// validateKeys accepts an empty MASTER_KEY: the service starts, and every
// secret operation then fails with a key-unavailable error instead of
// falling back to plaintext.
func (c *Config) validateKeys() error {
	if c.MasterKeyID == "" || strings.ContainsAny(c.MasterKeyID, ":, ") || len(c.MasterKeyID) > 64 {
		return fmt.Errorf("MASTER_KEY_ID must be 1-64 characters without ':', ',' or spaces")
	}

	switch c.KeyProvider {
	case "static":
		if c.MasterKey.Value() != "" {
			if err := validateHexKey("MASTER_KEY", c.MasterKey.Value()); err != nil {
				return err
			}
		}

		prev, err := c.PreviousKeys()
		if err != nil {
			return err
		}

		for id, key := range prev {
			if err := validateHexKey("PREVIOUS_MASTER_KEYS["+id+"]", key); err != nil {
				return err
			}
		}
	case "vault":
		if c.VaultToken.Value() == "" {
			return fmt.Errorf("VAULT_TOKEN is required when KEY_PROVIDER is vault")
		}

		if !isLocalURL(c.VaultAddr) && !strings.HasPrefix(c.VaultAddr, "https://") {
			return fmt.Errorf("VAULT_ADDR must use HTTPS for non-localhost connections")
		}

		if c.VaultKeyPath == "" {
			return fmt.Errorf("VAULT_KEY_PATH is required when KEY_PROVIDER is vault")
		}
	default:
		return fmt.Errorf("KEY_PROVIDER must be 'static' or 'vault', got %q", c.KeyProvider)
	}

	return nil
}

func (c *Config) validateRateLimit() error {
	switch c.RateLimitBackend {
	case "memory":
		return nil
	case "redis":
		if c.RedisURL.Value() == "" {
			return fmt.Errorf("REDIS_URL is required when RATELIMIT_BACKEND is redis")
		}

		u, err := url.Parse(c.RedisURL.Value())
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return fmt.Errorf("REDIS_URL must be a redis:// or rediss:// URL")
		}

		return nil
	default:
		return fmt.Errorf("RATELIMIT_BACKEND must be 'memory' or 'redis', got %q", c.RateLimitBackend)
	}
}

func validateHexKey(name, value string) error {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%s must be valid hex: %w", name, err)
	}

	if len(keyBytes) != 32 {
		return fmt.Errorf("%s must be 64 hex characters (32 bytes), got %d chars", name, len(value))
	}

	return nil
}

func isLocalURL(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	return isLocalHost(u.Hostname())
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
