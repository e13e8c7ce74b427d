package credential

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"upbit-trading-bot/config"
)

// Store persists an encrypted credential Blob in an opaque KV store. When
// Vault is disabled it falls back to an in-memory cache, matching the
// teacher's vault client behavior for local development.
type Store struct {
	client *api.Client
	cfg    config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]Blob
}

// NewStore builds a Store. With cfg.Enabled == false, it only ever uses the
// local cache (useful for tests and single-machine deployments).
func NewStore(cfg config.VaultConfig) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, cache: make(map[string]Blob)}, nil
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Store{client: client, cfg: cfg, cache: make(map[string]Blob)}, nil
}

// Put stores blob under key (typically the exchange account identifier).
func (s *Store) Put(ctx context.Context, key string, blob Blob) error {
	s.mu.Lock()
	s.cache[key] = blob
	s.mu.Unlock()

	if !s.cfg.Enabled {
		return nil
	}

	path := s.secretPath(key)
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"encrypted_access_key": blob.EncryptedAccessKey,
			"encrypted_secret_key": blob.EncryptedSecretKey,
		},
	}
	if _, err := s.client.Logical().WriteWithContext(ctx, path, data); err != nil {
		return fmt.Errorf("store credential blob in vault: %w", err)
	}
	return nil
}

// Get retrieves the blob previously stored under key.
func (s *Store) Get(ctx context.Context, key string) (Blob, error) {
	s.mu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	if !s.cfg.Enabled {
		return Blob{}, fmt.Errorf("credential blob not found for %q", key)
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath(key))
	if err != nil {
		return Blob{}, fmt.Errorf("read credential blob from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Blob{}, fmt.Errorf("credential blob not found for %q", key)
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Blob{}, fmt.Errorf("invalid credential blob format")
	}

	blob := Blob{
		EncryptedAccessKey: stringField(inner, "encrypted_access_key"),
		EncryptedSecretKey: stringField(inner, "encrypted_secret_key"),
	}

	s.mu.Lock()
	s.cache[key] = blob
	s.mu.Unlock()

	return blob, nil
}

func (s *Store) secretPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.cfg.MountPath, s.cfg.SecretPath, key)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
