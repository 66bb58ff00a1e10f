package security

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestAppKeySecretProvider_EncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("webhooks-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("whsec_test_123")
	encrypted, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Fatalf("expected encrypted payload to hide plaintext")
	}
	if !bytes.HasPrefix(encrypted, []byte(EnvelopePrefix)) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "webhooks-v1" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected envelope metadata: %#v", meta)
	}

	decrypted, err := provider.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestAppKeySecretProvider_RejectsMetadataMismatch(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("webhooks-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("webhooks-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected metadata mismatch error")
	}
}

func TestAppKeySecretProvider_RejectsTamperedAndUnprefixedInput(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	if _, err := provider.Decrypt(ctx, []byte(`{"kid":"app-key","ver":1,"ciphertext":"AA=="}`)); err == nil {
		t.Fatalf("expected missing prefix to be rejected")
	}
	if _, err := provider.Encrypt(ctx, nil); err == nil {
		t.Fatalf("expected empty plaintext to be rejected")
	}

	other, err := NewAppKeySecretProviderFromString("another-key-entirely")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sealed, err := other.Encrypt(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := provider.Decrypt(ctx, sealed); err == nil {
		t.Fatalf("expected decryption with the wrong key material to fail")
	}
	if _, err := NewAppKeySecretProvider([]byte("   ")); err == nil {
		t.Fatalf("expected empty key material to be rejected")
	}
}

func TestAppKeySecretProvider_RotationWindow(t *testing.T) {
	notAfter := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	now := notAfter.Add(-time.Hour)
	provider, err := NewAppKeySecretProviderFromString(
		"window-key",
		WithRotationWindow(KeyRotationWindow{NotAfter: notAfter}),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sealed, err := provider.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt inside window: %v", err)
	}

	now = notAfter.Add(time.Minute)
	if _, err := provider.Decrypt(context.Background(), sealed); err == nil {
		t.Fatalf("expected decrypt after the window to fail")
	}
	if _, err := provider.Encrypt(context.Background(), []byte("secret")); err == nil {
		t.Fatalf("expected encrypt after the window to fail")
	}
}

func TestKeyRing_DecryptsWithRetiredKey(t *testing.T) {
	ctx := context.Background()
	retired, err := NewAppKeySecretProviderFromString("old-app-key", WithKeyID("webhooks"), WithVersion(1))
	if err != nil {
		t.Fatalf("new retired provider: %v", err)
	}
	active, err := NewAppKeySecretProviderFromString("new-app-key", WithKeyID("webhooks"), WithVersion(2))
	if err != nil {
		t.Fatalf("new active provider: %v", err)
	}
	legacy, err := retired.Encrypt(ctx, []byte("legacy-secret"))
	if err != nil {
		t.Fatalf("encrypt legacy: %v", err)
	}

	ring, err := NewKeyRing(active, retired)
	if err != nil {
		t.Fatalf("new key ring: %v", err)
	}
	opened, err := ring.Decrypt(ctx, legacy)
	if err != nil || string(opened) != "legacy-secret" {
		t.Fatalf("expected retired key to open legacy secret, got %q err=%v", opened, err)
	}

	fresh, err := ring.Encrypt(ctx, []byte("fresh-secret"))
	if err != nil {
		t.Fatalf("encrypt fresh: %v", err)
	}
	meta, err := ParseEnvelopeMetadata(fresh)
	if err != nil || meta.Version != 2 {
		t.Fatalf("expected active key to seal new secrets, got %#v err=%v", meta, err)
	}

	standalone, err := NewKeyRing(active)
	if err != nil {
		t.Fatalf("new standalone ring: %v", err)
	}
	if _, err := standalone.Decrypt(ctx, legacy); err == nil {
		t.Fatalf("expected unknown key version to be rejected")
	}
	if _, err := NewKeyRing(active, active); err == nil {
		t.Fatalf("expected duplicate key to be rejected")
	}
}
