package crypto

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/persistorai/seovault/internal/config"
)

// VaultProvider fetches master keys from a HashiCorp Vault KV v2 mount, one
// secret per key id. A key id never changes meaning, so fetched keys are
// cached for the life of the process.
type VaultProvider struct {
	addr    string
	path    string
	primary string
	token   config.Secret
	client  *http.Client
	cache   sync.Map
	group   singleflight.Group
}

// NewVaultProvider creates a VaultProvider reading <addr>/v1/<path>/<keyID>.
func NewVaultProvider(addr, path, token, primaryID string) *VaultProvider {
	return &VaultProvider{
		addr:    strings.TrimRight(addr, "/"),
		path:    strings.Trim(path, "/"),
		primary: primaryID,
		token:   config.Secret(token),
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
	}
}

// PrimaryKeyID implements KeyProvider.
func (p *VaultProvider) PrimaryKeyID() string { return p.primary }

// GetKey returns the data key for keyID, fetching its master key from Vault on first access.
func (p *VaultProvider) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	if cached, ok := p.cache.Load(keyID); ok {
		if key, valid := cached.([]byte); valid {
			return append([]byte(nil), key...), nil
		}
	}

	val, err, _ := p.group.Do(keyID, func() (any, error) {
		if cached, ok := p.cache.Load(keyID); ok {
			return cached, nil
		}

		master, err := p.fetchMaster(ctx, keyID)
		if err != nil {
			return nil, err
		}
		defer clear(master)

		key, err := deriveKey(master, keyID)
		if err != nil {
			return nil, err
		}

		p.cache.Store(keyID, key)
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	key, ok := val.([]byte)
	if !ok {
		return nil, fmt.Errorf("crypto/vault: unexpected singleflight result type %T", val)
	}

	return append([]byte(nil), key...), nil
}

func (p *VaultProvider) fetchMaster(ctx context.Context, keyID string) ([]byte, error) {
	if !ValidKeyID(keyID) {
		return nil, fmt.Errorf("%w: invalid key id format", ErrUnknownKey)
	}

	reqURL := fmt.Sprintf("%s/v1/%s/%s", p.addr, p.path, url.PathEscape(keyID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("crypto/vault: create request: %w", err)
	}

	req.Header.Set("X-Vault-Token", p.token.Value())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto/vault: request failed: %w", err)
	}
	defer resp.Body.Close()

	limitedBody := io.LimitReader(resp.Body, 1<<20)

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, limitedBody)
		if keyID == p.primary {
			return nil, fmt.Errorf("%w: primary key %q missing from vault", ErrNoMasterKey, keyID)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, limitedBody)
		return nil, fmt.Errorf("crypto/vault: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}

	if err := json.NewDecoder(limitedBody).Decode(&result); err != nil {
		return nil, fmt.Errorf("crypto/vault: decode response: %w", err)
	}

	b64Key, ok := result.Data.Data["master_key"]
	if !ok || b64Key == "" {
		return nil, fmt.Errorf("crypto/vault: master_key field missing for key %q", keyID)
	}

	master, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("crypto/vault: decode base64 key: %w", err)
	}

	if len(master) != 32 {
		clear(master)
		return nil, fmt.Errorf("crypto/vault: key must be 32 bytes, got %d", len(master))
	}

	return master, nil
}
