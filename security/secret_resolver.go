package security

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-webhook-guard/core"
)

// SecretResolver resolves provider secrets from the runtime config and
// opens values sealed with EnvelopePrefix. Plain values pass through.
// Opened secrets are memoized per ciphertext.
type SecretResolver struct {
	provider core.SecretProvider

	mu     sync.RWMutex
	config core.Config
	opened map[string]string
}

func NewSecretResolver(provider core.SecretProvider, cfg core.Config) *SecretResolver {
	return &SecretResolver{
		provider: provider,
		config:   cfg,
		opened:   map[string]string{},
	}
}

// BindConfig swaps the config secrets are read from.
func (r *SecretResolver) BindConfig(cfg core.Config) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.config = cfg
	r.mu.Unlock()
}

func (r *SecretResolver) ResolveSecret(ctx context.Context, provider string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("security: secret resolver is nil")
	}
	r.mu.RLock()
	providerCfg, ok := r.config.Provider(provider)
	r.mu.RUnlock()
	if !ok {
		return "", nil
	}
	raw := strings.TrimSpace(providerCfg.Secret)
	if raw == "" || !IsEnvelope(raw) {
		return raw, nil
	}

	r.mu.RLock()
	secret, cached := r.opened[raw]
	r.mu.RUnlock()
	if cached {
		return secret, nil
	}
	if r.provider == nil {
		return "", fmt.Errorf("security: secret for %s is encrypted but no secret provider is configured", core.NormalizeProvider(provider))
	}
	plaintext, err := r.provider.Decrypt(ctx, []byte(raw))
	if err != nil {
		return "", fmt.Errorf("security: open secret for %s: %w", core.NormalizeProvider(provider), err)
	}
	secret = strings.TrimSpace(string(plaintext))
	r.mu.Lock()
	r.opened[raw] = secret
	r.mu.Unlock()
	return secret, nil
}

// SealSecret encrypts a plain secret into the config envelope format.
func SealSecret(ctx context.Context, provider core.SecretProvider, secret string) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("security: secret provider is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("security: secret is required")
	}
	sealed, err := provider.Encrypt(ctx, []byte(secret))
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

var (
	_ core.SecretResolver     = (*SecretResolver)(nil)
	_ core.SecretConfigBinder = (*SecretResolver)(nil)
)
