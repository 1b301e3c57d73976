package settings

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/domain"
)

// Mask replaces a set secret in previews.
const Mask = "********"

// Store reads and writes settings through a repository, encrypting secret
// fields with the vault.
type Store struct {
	repo    domain.SettingsRepository
	vault   *crypto.Service
	log     *logrus.Logger
	actions map[string]bool
}

// NewStore creates a Store. actions limits which rate_limits.<action>
// overrides are accepted; with none, any well-formed action name is.
func NewStore(repo domain.SettingsRepository, vault *crypto.Service, log *logrus.Logger, actions ...string) *Store {
	s := &Store{repo: repo, vault: vault, log: log, actions: make(map[string]bool, len(actions))}
	for _, a := range actions {
		s.actions[a] = true
	}
	return s
}

// SaveReport lists what a Save changed. It never carries values.
type SaveReport struct {
	Updated     []string `json:"updated"`
	Kept        []string `json:"kept,omitempty"`
	Reencrypted []string `json:"reencrypted,omitempty"`
}

// Save validates and persists submitted values. An empty secret keeps the
// stored one. Legacy plaintext secrets already in the store are
// re-encrypted as part of the write.
func (s *Store) Save(ctx context.Context, values map[string]string) (SaveReport, error) {
	var report SaveReport

	out := make(map[string]string, len(values))

	for _, name := range sortedKeys(values) {
		f, ok := s.lookup(name)
		if !ok {
			return SaveReport{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}

		value := values[name]

		if f.Secret() {
			if value == "" {
				report.Kept = append(report.Kept, name)
				continue
			}

			sealed, err := s.seal(ctx, value)
			if err != nil {
				return SaveReport{}, fmt.Errorf("encrypting %s: %w", name, err)
			}
			out[name] = sealed
			report.Updated = append(report.Updated, name)
			continue
		}

		normalized, err := normalize(f, value)
		if err != nil {
			return SaveReport{}, err
		}
		out[name] = normalized
		report.Updated = append(report.Updated, name)
	}

	if err := s.repo.Put(ctx, out); err != nil {
		return SaveReport{}, fmt.Errorf("saving settings: %w", err)
	}

	report.Reencrypted = s.reencryptLegacy(ctx, out)

	return report, nil
}

// reencryptLegacy upgrades stored plaintext secrets that were not part of
// this write. Failures are logged and left for the next write.
func (s *Store) reencryptLegacy(ctx context.Context, written map[string]string) []string {
	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("settings: loading for legacy re-encryption")
		return nil
	}

	var done []string

	for _, name := range SecretFields() {
		if _, ok := written[name]; ok {
			continue
		}

		v := crypto.ParseStored(stored[name])
		if !v.Legacy() {
			continue
		}

		ok, err := s.upgrade(ctx, name, v)
		if err != nil {
			s.log.WithError(err).WithField("field", name).Warn("settings: legacy secret left unencrypted")
			continue
		}
		if ok {
			done = append(done, name)
		}
	}

	return done
}

// upgrade re-seals v under the primary key and swaps it in only if the
// stored value has not changed meanwhile.
func (s *Store) upgrade(ctx context.Context, name string, v crypto.StoredValue) (bool, error) {
	var sealed string

	err := s.vault.Use(ctx, v, func(plaintext []byte) error {
		blob, err := s.vault.Encrypt(ctx, plaintext)
		if err != nil {
			return err
		}
		sealed = crypto.Seal(blob)
		return nil
	})
	if err != nil {
		return false, err
	}

	return s.repo.CompareAndSwap(ctx, name, v.Raw(), sealed)
}

func (s *Store) seal(ctx context.Context, value string) (string, error) {
	buf := []byte(value)
	defer clear(buf)

	blob, err := s.vault.Encrypt(ctx, buf)
	if err != nil {
		return "", err
	}

	return crypto.Seal(blob), nil
}

func normalize(f Field, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch f.Kind {
	case KindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s must be true or false", ErrInvalidValue, f.Name)
		}
		return strconv.FormatBool(b), nil

	case KindRateLimit:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, f.Name)
		}
		return strconv.Itoa(min(max(n, MinRateLimit), MaxRateLimit)), nil

	default:
		if len(value) > maxTextLen {
			return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidValue, f.Name, maxTextLen)
		}
		return value, nil
	}
}

// FieldPreview is the display form of one setting. Secret values are
// masked and never decrypted.
type FieldPreview struct {
	Name   string `json:"name"`
	Secret bool   `json:"secret"`
	Set    bool   `json:"set"`
	Value  string `json:"value"`
	Legacy bool   `json:"legacy,omitempty"`
	KeyID  string `json:"key_id,omitempty"`
}

// Preview returns every known field plus any stored rate limit overrides.
func (s *Store) Preview(ctx context.Context) ([]FieldPreview, error) {
	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	out := make([]FieldPreview, 0, len(fields))

	for _, f := range fields {
		out = append(out, preview(f, stored[f.Name]))
	}

	for _, name := range sortedKeys(stored) {
		if strings.HasPrefix(name, RateLimitPrefix) {
			out = append(out, preview(Field{Name: name, Kind: KindRateLimit}, stored[name]))
		}
	}

	return out, nil
}

func preview(f Field, raw string) FieldPreview {
	p := FieldPreview{Name: f.Name, Secret: f.Secret(), Set: raw != ""}

	if !f.Secret() {
		p.Value = raw
		return p
	}

	v := crypto.ParseStored(raw)
	if v.Kind != crypto.StoredEmpty {
		p.Value = Mask
	}
	p.Legacy = v.Legacy()
	p.KeyID = v.KeyID()

	return p
}

// UseSecret passes the plaintext of a secret field to fn and wipes it
// afterwards. fn must not retain the slice.
func (s *Store) UseSecret(ctx context.Context, name string, fn func(plaintext []byte) error) error {
	f, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if !f.Secret() {
		return fmt.Errorf("%w: %s", ErrNotSecret, name)
	}

	raw, err := s.repo.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("loading %s: %w", name, err)
	}

	v := crypto.ParseStored(raw)
	if v.Kind == crypto.StoredEmpty {
		return fmt.Errorf("%w: %s", ErrSecretNotSet, name)
	}

	return s.vault.Use(ctx, v, fn)
}

// RotateReport lists the outcome of a key rotation per field.
type RotateReport struct {
	PrimaryKeyID string   `json:"primary_key_id"`
	Rotated      []string `json:"rotated"`
	Current      []string `json:"current,omitempty"`
	Failed       []string `json:"failed,omitempty"`
}

// Rotate re-encrypts every secret that is stored as legacy plaintext or
// under a key other than the primary one. Fields that cannot be decrypted
// are reported as failed and left untouched.
func (s *Store) Rotate(ctx context.Context) (RotateReport, error) {
	report := RotateReport{PrimaryKeyID: s.vault.PrimaryKeyID()}

	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return report, fmt.Errorf("loading settings: %w", err)
	}

	for _, name := range SecretFields() {
		v := crypto.ParseStored(stored[name])

		switch {
		case v.Kind == crypto.StoredEmpty:
			continue
		case v.Kind == crypto.StoredEncrypted && v.KeyID() == report.PrimaryKeyID:
			report.Current = append(report.Current, name)
			continue
		}

		ok, err := s.upgrade(ctx, name, v)
		switch {
		case errors.Is(err, crypto.ErrKeyUnavailable):
			return report, err
		case err != nil:
			s.log.WithError(err).WithField("field", name).Warn("settings: rotation failed")
			report.Failed = append(report.Failed, name)
		case ok:
			report.Rotated = append(report.Rotated, name)
		}
	}

	s.log.WithFields(logrus.Fields{
		"key_id":  report.PrimaryKeyID,
		"rotated": len(report.Rotated),
		"failed":  len(report.Failed),
	}).Info("settings.rotate")

	return report, nil
}

// RateLimitOverride returns the stored limit for action, if any.
func (s *Store) RateLimitOverride(ctx context.Context, action string) (int, bool) {
	raw, err := s.repo.Get(ctx, RateLimitPrefix+action)
	if err != nil {
		s.log.WithError(err).WithField("action", action).Warn("settings: loading rate limit override")
		return 0, false
	}
	if raw == "" {
		return 0, false
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return min(max(n, MinRateLimit), MaxRateLimit), true
}

// RateLimitingEnabled reports whether rate limiting is on. It stays on
// unless explicitly disabled, including when the setting cannot be read.
func (s *Store) RateLimitingEnabled(ctx context.Context) bool {
	raw, err := s.repo.Get(ctx, RateLimitEnabledField)
	if err != nil {
		s.log.WithError(err).Warn("settings: loading rate limit toggle")
		return true
	}
	if raw == "" {
		return true
	}

	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}

	return enabled
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
