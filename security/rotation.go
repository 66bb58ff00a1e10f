package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
)

// KeyRotationWindow gates when a key version is allowed to encrypt/decrypt.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// KeyRing encrypts with its active key and decrypts with whichever key the
// envelope names, so secrets sealed under a retired key keep resolving until
// that key's window closes.
type KeyRing struct {
	active *AppKeySecretProvider
	keys   map[string]*AppKeySecretProvider
}

func NewKeyRing(active *AppKeySecretProvider, retired ...*AppKeySecretProvider) (*KeyRing, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active key is required")
	}
	ring := &KeyRing{
		active: active,
		keys:   map[string]*AppKeySecretProvider{},
	}
	for _, provider := range append([]*AppKeySecretProvider{active}, retired...) {
		if provider == nil {
			continue
		}
		id := keyRingID(provider.KeyID(), provider.Version())
		if _, exists := ring.keys[id]; exists {
			return nil, fmt.Errorf("security: duplicate key %s in key ring", id)
		}
		ring.keys[id] = provider
	}
	return ring, nil
}

func (r *KeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil || r.active == nil {
		return nil, fmt.Errorf("security: key ring is not configured")
	}
	return r.active.Encrypt(ctx, plaintext)
}

func (r *KeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil || r.active == nil {
		return nil, fmt.Errorf("security: key ring is not configured")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	keyID := meta.KeyID
	if keyID == "" {
		keyID = r.active.KeyID()
	}
	version := meta.Version
	if version <= 0 {
		version = r.active.Version()
	}
	provider, ok := r.keys[keyRingID(keyID, version)]
	if !ok {
		return nil, fmt.Errorf("security: no key %s in key ring", keyRingID(keyID, version))
	}
	return provider.Decrypt(ctx, ciphertext)
}

func keyRingID(keyID string, version int) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(keyID), version)
}

var _ core.SecretProvider = (*KeyRing)(nil)
