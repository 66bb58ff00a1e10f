package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
)

var burstDefinition = core.ProviderDefinition{ID: "github", ExternalIDHeader: "X-GitHub-Delivery"}

func burstDelivery(id string) core.InboundDelivery {
	return core.InboundDelivery{
		Provider: "GitHub",
		Body:     []byte(`{"zen":"x"}`),
		Headers:  map[string]string{"X-GitHub-Delivery": id},
	}
}

func TestBurstController_CoalescesRepeatsInsideWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	controller := NewBurstController(BurstOptions{
		Mode:   BurstModeCoalesce,
		Window: 2 * time.Second,
		Now:    func() time.Time { return now },
	})
	ctx := context.Background()

	first, err := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition)
	if err != nil || !first.Allow {
		t.Fatalf("expected first delivery to pass: %#v %v", first, err)
	}
	if first.Key != "github:d-1" {
		t.Fatalf("unexpected burst key %q", first.Key)
	}

	now = now.Add(500 * time.Millisecond)
	second, _ := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition)
	if second.Allow || second.Mode != BurstModeCoalesce {
		t.Fatalf("expected repeat to be coalesced, got %#v", second)
	}
	if second.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("expected remaining window as retry hint, got %s", second.RetryAfter)
	}

	other, _ := controller.Allow(ctx, burstDelivery("d-2"), burstDefinition)
	if !other.Allow {
		t.Fatalf("expected a different delivery id to pass")
	}

	now = now.Add(2 * time.Second)
	third, _ := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition)
	if !third.Allow {
		t.Fatalf("expected delivery after the window to pass")
	}
}

func TestBurstController_DebounceExtendsWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	controller := NewBurstController(BurstOptions{
		Mode:   BurstModeDebounce,
		Window: time.Second,
		Now:    func() time.Time { return now },
	})
	ctx := context.Background()

	_, _ = controller.Allow(ctx, burstDelivery("d-1"), burstDefinition)
	now = now.Add(800 * time.Millisecond)
	if decision, _ := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition); decision.Allow {
		t.Fatalf("expected debounced repeat")
	}
	now = now.Add(800 * time.Millisecond)
	if decision, _ := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition); decision.Allow {
		t.Fatalf("expected debounce window to restart on each repeat")
	}
	now = now.Add(1100 * time.Millisecond)
	if decision, _ := controller.Allow(ctx, burstDelivery("d-1"), burstDefinition); !decision.Allow {
		t.Fatalf("expected delivery after a quiet window to pass")
	}
}

func TestBurstController_NoneModeAndBodyDigest(t *testing.T) {
	ctx := context.Background()
	off := NewBurstController(BurstOptions{})
	for i := 0; i < 3; i++ {
		if decision, _ := off.Allow(ctx, burstDelivery("d-1"), burstDefinition); !decision.Allow {
			t.Fatalf("expected none mode to allow everything")
		}
	}

	delivery := burstDelivery("")
	key, ok := DefaultBurstKeyExtractor(delivery, burstDefinition)
	if !ok || len(key) <= len("github:sha256:") || key[:len("github:sha256:")] != "github:sha256:" {
		t.Fatalf("expected body digest key, got %q", key)
	}
	if _, ok := DefaultBurstKeyExtractor(core.InboundDelivery{Provider: "github"}, burstDefinition); ok {
		t.Fatalf("expected no key without id or body")
	}
	if ParseBurstMode(" Debounce ") != BurstModeDebounce || ParseBurstMode("other") != BurstModeNone {
		t.Fatalf("unexpected burst mode parsing")
	}
}
