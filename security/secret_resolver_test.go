package security

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-webhook-guard/core"
	githubprovider "github.com/goliatone/go-webhook-guard/providers/github"
)

type countingSecretProvider struct {
	base    core.SecretProvider
	decrypt atomic.Int32
}

func (p *countingSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	return p.base.Encrypt(ctx, plaintext)
}

func (p *countingSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	p.decrypt.Add(1)
	return p.base.Decrypt(ctx, ciphertext)
}

func TestSecretResolver_PlainAndSealedSecrets(t *testing.T) {
	ctx := context.Background()
	appKey, err := NewAppKeySecretProviderFromString("resolver-app-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	provider := &countingSecretProvider{base: appKey}
	sealed, err := SealSecret(ctx, provider, "whsec_sealed")
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}
	if !IsEnvelope(sealed) {
		t.Fatalf("expected sealed secret to carry the envelope prefix")
	}

	resolver := NewSecretResolver(provider, core.Config{Providers: map[string]core.ProviderConfig{
		"stripe": {Secret: sealed},
		"github": {Secret: " gh-plain "},
	}})

	for i := 0; i < 3; i++ {
		secret, err := resolver.ResolveSecret(ctx, "Stripe")
		if err != nil || secret != "whsec_sealed" {
			t.Fatalf("expected sealed secret to open, got %q err=%v", secret, err)
		}
	}
	if calls := provider.decrypt.Load(); calls != 1 {
		t.Fatalf("expected opened secret to be memoized, decrypted %d times", calls)
	}
	if secret, err := resolver.ResolveSecret(ctx, "github"); err != nil || secret != "gh-plain" {
		t.Fatalf("expected plain secret to pass through, got %q err=%v", secret, err)
	}
	if secret, err := resolver.ResolveSecret(ctx, "slack"); err != nil || secret != "" {
		t.Fatalf("expected unknown provider to resolve empty, got %q err=%v", secret, err)
	}
}

func TestSecretResolver_SealedSecretWithoutProvider(t *testing.T) {
	appKey, err := NewAppKeySecretProviderFromString("resolver-app-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sealed, err := SealSecret(context.Background(), appKey, "whsec")
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}
	resolver := NewSecretResolver(nil, core.Config{Providers: map[string]core.ProviderConfig{"stripe": {Secret: sealed}}})
	if _, err := resolver.ResolveSecret(context.Background(), "stripe"); err == nil {
		t.Fatalf("expected error when no provider can open the secret")
	}
}

func TestSecretResolver_BoundByServiceConfig(t *testing.T) {
	ctx := context.Background()
	appKey, err := NewAppKeySecretProviderFromString("service-app-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	sealed, err := SealSecret(ctx, appKey, "gh-secret")
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}

	cfg := core.DefaultConfig()
	cfg.Retry.Enabled = false
	cfg.Providers = map[string]core.ProviderConfig{githubprovider.ProviderID: {Secret: sealed}}
	svc, err := core.NewService(cfg,
		core.WithProviders(githubprovider.Definition()),
		core.WithSecretResolver(NewSecretResolver(appKey, core.Config{})),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	payload := []byte(`{"zen":"Keep it logically awesome."}`)
	result, err := svc.Receive(ctx, core.InboundDelivery{
		Provider: githubprovider.ProviderID,
		Body:     payload,
		Headers: map[string]string{
			githubprovider.HeaderSignature: githubprovider.Sign(payload, "gh-secret"),
			githubprovider.HeaderEvent:     "ping",
			githubprovider.HeaderDelivery:  "dlv_ping",
		},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.Validation.Status != core.ValidationStatusValid {
		t.Fatalf("expected valid delivery with sealed secret, got %#v", result.Validation)
	}

	wrongKey, err := NewAppKeySecretProviderFromString("rotated-away")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	broken, err := core.NewService(cfg,
		core.WithProviders(githubprovider.Definition()),
		core.WithSecretResolver(NewSecretResolver(wrongKey, core.Config{})),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = broken.Receive(ctx, core.InboundDelivery{
		Provider: githubprovider.ProviderID,
		Body:     payload,
		Headers: map[string]string{
			githubprovider.HeaderSignature: githubprovider.Sign(payload, "gh-secret"),
			githubprovider.HeaderDelivery:  "dlv_ping_2",
		},
	})
	if !core.IsKind(err, core.WebhookErrorSecretNotConfigured) {
		t.Fatalf("expected secret not configured when the secret cannot be opened, got %v", err)
	}
}
