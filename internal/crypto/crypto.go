package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrKeyUnavailable means no usable master key is configured or reachable.
	ErrKeyUnavailable = errors.New("crypto: encryption key unavailable")

	// ErrTamperedOrInvalid means a blob failed to parse or authenticate.
	ErrTamperedOrInvalid = errors.New("crypto: ciphertext tampered or invalid")
)

const (
	blobVersion = 1
	nonceSize   = 12
	tagSize     = 16
)

var blobEncoding = base64.StdEncoding.Strict()

// Service provides AES-256-GCM encryption of credential strings.
//
// Blob layout before base64: version(1) | len(keyID)(1) | keyID | nonce(12) | ciphertext+tag.
// The version/keyID header is passed to GCM as additional data.
type Service struct {
	keys KeyProvider
}

// NewService creates an encryption service backed by the given key provider.
func NewService(keys KeyProvider) *Service {
	return &Service{keys: keys}
}

// PrimaryKeyID returns the key id new blobs are sealed under.
func (s *Service) PrimaryKeyID() string {
	return s.keys.PrimaryKeyID()
}

// Encrypt seals plaintext under the primary key with a fresh random nonce.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	keyID := s.keys.PrimaryKeyID()

	key, err := s.keys.GetKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	header := make([]byte, 0, 2+len(keyID)+nonceSize+len(plaintext)+tagSize)
	header = append(header, blobVersion, byte(len(keyID)))
	header = append(header, keyID...)
	hlen := len(header)

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}

	aad := append([]byte(nil), header[:hlen]...)
	out := append(header, nonce...)
	out = gcm.Seal(out, nonce, plaintext, aad)

	return blobEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob and returns its plaintext. Callers own the result and
// must call Wipe on it; prefer Open, which does that on every path.
func (s *Service) Decrypt(ctx context.Context, blob string) (*Plaintext, error) {
	raw, keyID, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.GetKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return nil, fmt.Errorf("%w: %w", ErrTamperedOrInvalid, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	defer clear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	hlen := 2 + len(keyID)
	nonce := raw[hlen : hlen+nonceSize]
	sealed := raw[hlen+nonceSize:]

	plain, err := gcm.Open(nil, nonce, sealed, raw[:hlen])
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrTamperedOrInvalid)
	}

	return &Plaintext{b: plain}, nil
}

// Open decrypts blob, passes the plaintext to fn and wipes it when fn
// returns, whether fn succeeds, fails or panics. fn must not retain the slice.
func (s *Service) Open(ctx context.Context, blob string, fn func(plaintext []byte) error) error {
	p, err := s.Decrypt(ctx, blob)
	if err != nil {
		return err
	}
	defer p.Wipe()

	return fn(p.Bytes())
}

// Check seals and opens a probe value under the primary key, proving the
// key provider is configured and reachable.
func (s *Service) Check(ctx context.Context) error {
	blob, err := s.Encrypt(ctx, []byte("seovault-probe"))
	if err != nil {
		return err
	}
	return s.Open(ctx, blob, func([]byte) error { return nil })
}

// KeyIDOf returns the key id a blob was sealed under without decrypting it.
func KeyIDOf(blob string) (string, error) {
	_, keyID, err := parseBlob(blob)
	return keyID, err
}

func parseBlob(blob string) ([]byte, string, error) {
	// The decoder skips CR/LF even in strict mode; reject them so every byte is significant.
	if strings.ContainsAny(blob, "\r\n") {
		return nil, "", fmt.Errorf("%w: unexpected line break", ErrTamperedOrInvalid)
	}

	raw, err := blobEncoding.DecodeString(blob)
	if err != nil {
		return nil, "", fmt.Errorf("%w: base64 decode", ErrTamperedOrInvalid)
	}

	if len(raw) < 2 || raw[0] != blobVersion {
		return nil, "", fmt.Errorf("%w: unsupported blob version", ErrTamperedOrInvalid)
	}

	kidLen := int(raw[1])
	if kidLen == 0 || len(raw) < 2+kidLen+nonceSize+tagSize {
		return nil, "", fmt.Errorf("%w: blob too short", ErrTamperedOrInvalid)
	}

	return raw, string(raw[2 : 2+kidLen]), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return gcm, nil
}
