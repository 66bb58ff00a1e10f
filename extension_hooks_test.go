package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
)

func TestExtensionHooks_RegisterAndApplyProviderPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	pack := ProviderPack{
		Name:      "downstream-pack",
		Providers: []ProviderDefinition{customDefinition("acme")},
	}
	if err := hooks.RegisterProviderPack(pack); err != nil {
		t.Fatalf("register provider pack: %v", err)
	}
	if err := hooks.RegisterProviderPack(pack); err == nil {
		t.Fatalf("expected duplicate provider pack registration error")
	}
	if err := hooks.RegisterProviderPack(ProviderPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty provider pack error")
	}

	registry := core.NewProviderRegistry()
	if err := hooks.ApplyProviderPacks(registry); err != nil {
		t.Fatalf("apply provider packs: %v", err)
	}
	if _, ok := registry.Get("acme"); !ok {
		t.Fatalf("expected provider pack registration in registry")
	}
	if err := hooks.ApplyProviderPacks(registry); err == nil {
		t.Fatalf("expected duplicate provider registration error on second apply")
	}
}

func TestExtensionHooks_ChannelPacksAreOrderedByName(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterChannelPack(ChannelPack{
		Name:     "pack_b",
		Channels: []NotificationChannel{&recordingChannel{name: "pager"}},
	}); err != nil {
		t.Fatalf("register channel pack b: %v", err)
	}
	if err := hooks.RegisterChannelPack(ChannelPack{
		Name:     "pack_a",
		Channels: []NotificationChannel{&recordingChannel{name: "chat"}},
	}); err != nil {
		t.Fatalf("register channel pack a: %v", err)
	}
	if err := hooks.RegisterChannelPack(ChannelPack{Name: "pack_nil", Channels: []NotificationChannel{nil}}); err == nil {
		t.Fatalf("expected nil channel error")
	}

	channels := hooks.Channels()
	if len(channels) != 2 {
		t.Fatalf("expected two channels, got %d", len(channels))
	}
	if channels[0].Name() != "chat" || channels[1].Name() != "pager" {
		t.Fatalf("expected deterministic channel pack ordering, got %s,%s", channels[0].Name(), channels[1].Name())
	}
	if opts := hooks.Options(); len(opts) != 1 {
		t.Fatalf("expected a single channel option, got %d", len(opts))
	}
}

func TestExtensionHooks_CommandQueryBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterCommandQueryBundle("ops_bundle", func(service CommandQueryService) (any, error) {
		return map[string]any{
			"clear_fn":    service.ClearCooldown,
			"evaluate_fn": service.EvaluateFailures,
		}, nil
	}); err != nil {
		t.Fatalf("register bundle: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("ops_bundle", func(CommandQueryService) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}

	bundles, err := hooks.BuildCommandQueryBundles(&stubFacadeService{})
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("expected one bundle, got %d", len(bundles))
	}
	if _, ok := bundles["ops_bundle"]; !ok {
		t.Fatalf("expected ops_bundle entry in built bundles")
	}

	failing := NewExtensionHooks()
	_ = failing.RegisterCommandQueryBundle("broken", func(CommandQueryService) (any, error) {
		return nil, errors.New("boom")
	})
	if _, err := failing.BuildCommandQueryBundles(&stubFacadeService{}); err == nil {
		t.Fatalf("expected bundle factory error")
	}
}

func TestExtensionHooks_NilHooksAreInert(t *testing.T) {
	var hooks *ExtensionHooks
	if err := hooks.ApplyProviderPacks(core.NewProviderRegistry()); err != nil {
		t.Fatalf("expected nil hooks to apply nothing: %v", err)
	}
	if opts := hooks.Options(); opts != nil {
		t.Fatalf("expected no options from nil hooks")
	}
	bundles, err := hooks.BuildCommandQueryBundles(nil)
	if err != nil || len(bundles) != 0 {
		t.Fatalf("expected empty bundles from nil hooks, got %v %v", bundles, err)
	}
}

// customDefinition accepts a signature equal to the secret.
func customDefinition(id string) ProviderDefinition {
	return ProviderDefinition{
		ID: id,
		Validator: core.SignatureValidatorFunc(func(_ []byte, signature string, secret string, _ time.Duration) error {
			if signature != secret {
				return core.NewSignatureMismatchError("")
			}
			return nil
		}),
		Parser:           customParser{id: id},
		SignatureHeader:  "X-Acme-Signature",
		ExternalIDHeader: "X-Acme-Delivery",
	}
}

type customParser struct {
	id string
}

func (p customParser) ServiceName() string { return p.id }

func (customParser) ExtractEventType(data map[string]any, _ map[string]string) string {
	if event, ok := data["type"].(string); ok {
		return event
	}
	return ""
}

func (customParser) ExtractMetadata(map[string]any, map[string]string) map[string]any {
	return map[string]any{}
}

func (customParser) ExtractExternalID(_ map[string]any, headerValue string) string {
	return headerValue
}

type recordingChannel struct {
	name string
	sent []core.FailureNotification
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, notification core.FailureNotification) error {
	c.sent = append(c.sent, notification)
	return nil
}
