package crypto

import (
	"context"
	"strings"
)

// StoredPrefix marks a persisted value as an encrypted blob.
const StoredPrefix = "enc:"

// StoredKind classifies a persisted settings value.
type StoredKind int

// Stored value kinds.
const (
	StoredEmpty StoredKind = iota
	StoredPlain
	StoredEncrypted
)

// StoredValue is a persisted value classified once at load time.
// Plain values predate encryption and are still usable, but must be
// re-encrypted on the next write.
type StoredValue struct {
	Kind StoredKind
	raw  string
}

// ParseStored classifies a raw persisted value by its prefix.
func ParseStored(raw string) StoredValue {
	switch {
	case raw == "":
		return StoredValue{Kind: StoredEmpty}
	case strings.HasPrefix(raw, StoredPrefix):
		return StoredValue{Kind: StoredEncrypted, raw: raw}
	default:
		return StoredValue{Kind: StoredPlain, raw: raw}
	}
}

// Seal tags an encrypted blob for persistence.
func Seal(blob string) string {
	return StoredPrefix + blob
}

// Blob returns the encrypted blob without its prefix, or "" for non-encrypted values.
func (v StoredValue) Blob() string {
	if v.Kind != StoredEncrypted {
		return ""
	}
	return strings.TrimPrefix(v.raw, StoredPrefix)
}

// Legacy reports whether the value is unencrypted plaintext.
func (v StoredValue) Legacy() bool { return v.Kind == StoredPlain }

// Raw returns the value exactly as persisted.
func (v StoredValue) Raw() string { return v.raw }

// KeyID returns the key id of an encrypted value, or "" if it has none.
func (v StoredValue) KeyID() string {
	if v.Kind != StoredEncrypted {
		return ""
	}

	id, err := KeyIDOf(v.Blob())
	if err != nil {
		return ""
	}

	return id
}

// Use hands the plaintext of v to fn and wipes it afterwards. Legacy values
// are copied into a scratch buffer so the same wipe guarantee applies.
func (s *Service) Use(ctx context.Context, v StoredValue, fn func(plaintext []byte) error) error {
	switch v.Kind {
	case StoredEncrypted:
		return s.Open(ctx, v.Blob(), fn)
	case StoredPlain:
		scratch := []byte(v.raw)
		defer clear(scratch)
		return fn(scratch)
	default:
		return fn(nil)
	}
}
