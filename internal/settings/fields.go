// Package settings persists the plugin's key-value configuration. Secret
// fields are encrypted before they reach the store and are only ever
// decrypted inside a scoped callback.
package settings

import (
	"errors"
	"regexp"
	"strings"
)

// Errors returned for bad input. Both are caller errors.
var (
	ErrUnknownField = errors.New("settings: unknown field")
	ErrInvalidValue = errors.New("settings: invalid value")
	ErrNotSecret    = errors.New("settings: field is not a secret")
	ErrSecretNotSet = errors.New("settings: secret is not set")
)

// Kind classifies a settings field.
type Kind int

// Field kinds.
const (
	KindText Kind = iota
	KindSecret
	KindBool
	KindRateLimit
)

// RateLimitPrefix prefixes per-action rate limit overrides.
const RateLimitPrefix = "rate_limits."

// RateLimitEnabledField toggles rate limiting as a whole.
const RateLimitEnabledField = "feature.rate_limit_enabled"

// OpenAIKeyField holds the key used by meta generation.
const OpenAIKeyField = "openai_api_key"

// Rate limit overrides are clamped to this range.
const (
	MinRateLimit = 1
	MaxRateLimit = 10000
)

const maxTextLen = 500

// Field describes one known setting.
type Field struct {
	Name string
	Kind Kind
}

// Secret reports whether values of f are encrypted at rest.
func (f Field) Secret() bool { return f.Kind == KindSecret }

var fields = []Field{
	{OpenAIKeyField, KindSecret},
	{"google_ads.developer_token", KindSecret},
	{"google_ads.client_id", KindText},
	{"google_ads.client_secret", KindSecret},
	{"google_ads.customer_id", KindText},
	{"ai.gsc_client_id", KindText},
	{"ai.gsc_client_secret", KindSecret},
	{"ai.ga4_json_key", KindSecret},
	{"ai.rank_api_key", KindSecret},
	{"ai.slack_webhook_url", KindSecret},
	{RateLimitEnabledField, KindBool},
}

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Fields returns the static field registry in display order.
func Fields() []Field {
	return append([]Field(nil), fields...)
}

// SecretFields returns the names of every secret field.
func SecretFields() []string {
	var out []string
	for _, f := range fields {
		if f.Secret() {
			out = append(out, f.Name)
		}
	}
	return out
}

func (s *Store) lookup(name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}

	if action, ok := strings.CutPrefix(name, RateLimitPrefix); ok && actionPattern.MatchString(action) {
		if len(s.actions) == 0 || s.actions[action] {
			return Field{Name: name, Kind: KindRateLimit}, true
		}
	}

	return Field{}, false
}
