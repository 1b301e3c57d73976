package crypto

import (
	"context"
	"encoding/hex"
	"fmt"
)

// StaticProvider holds data keys derived at construction from hex master keys
// supplied by the environment. The derived keys are immutable afterwards.
type StaticProvider struct {
	primary string
	keys    map[string][]byte
}

// NewStaticProvider derives data keys for the primary master key and any
// previous (rotated-out) master keys. An empty primaryHex is accepted: the
// provider then reports ErrNoMasterKey for the primary id.
func NewStaticProvider(primaryID, primaryHex string, previous map[string]string) (*StaticProvider, error) {
	if !ValidKeyID(primaryID) {
		return nil, fmt.Errorf("crypto/static: invalid key id %q", primaryID)
	}

	p := &StaticProvider{primary: primaryID, keys: make(map[string][]byte, len(previous)+1)}

	if primaryHex != "" {
		if err := p.add(primaryID, primaryHex); err != nil {
			return nil, err
		}
	}

	for id, h := range previous {
		if id == primaryID {
			return nil, fmt.Errorf("crypto/static: previous key reuses primary id %q", id)
		}

		if !ValidKeyID(id) {
			return nil, fmt.Errorf("crypto/static: invalid key id %q", id)
		}

		if err := p.add(id, h); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *StaticProvider) add(id, hexKey string) error {
	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("crypto/static: invalid hex key for %q: %w", id, err)
	}
	defer clear(master)

	if len(master) != 32 {
		return fmt.Errorf("crypto/static: key %q must be 32 bytes, got %d", id, len(master))
	}

	key, err := deriveKey(master, id)
	if err != nil {
		return err
	}

	p.keys[id] = key

	return nil
}

// PrimaryKeyID implements KeyProvider.
func (p *StaticProvider) PrimaryKeyID() string { return p.primary }

// GetKey returns a copy of the data key for keyID.
func (p *StaticProvider) GetKey(_ context.Context, keyID string) ([]byte, error) {
	key, ok := p.keys[keyID]
	if !ok {
		if keyID == p.primary {
			return nil, ErrNoMasterKey
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}

	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}
