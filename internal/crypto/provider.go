// Package crypto provides AES-256-GCM envelope encryption for stored credentials.
package crypto

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrNoMasterKey is returned by a provider when no master key is configured.
	ErrNoMasterKey = errors.New("crypto: no master key configured")

	// ErrUnknownKey is returned by a provider for a key id it does not hold.
	ErrUnknownKey = errors.New("crypto: unknown key id")
)

// keyIDPattern bounds key ids to a path-safe alphabet.
var keyIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// KeyProvider returns AES-256 data keys by key id.
type KeyProvider interface {
	// GetKey returns a copy of the 32-byte AES-256 key for keyID.
	GetKey(ctx context.Context, keyID string) ([]byte, error)
	// PrimaryKeyID is the key id new ciphertexts are sealed under.
	PrimaryKeyID() string
}

// deriveKey expands a master key into the data key for keyID. The key id is
// part of the HKDF info.
func deriveKey(master []byte, keyID string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, []byte("seovault"), []byte("seovault/settings/v1:"+keyID))

	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	return key, nil
}

// ValidKeyID reports whether id can be used as a key id.
func ValidKeyID(id string) bool {
	return keyIDPattern.MatchString(id)
}
