package shopify

import (
	"testing"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

func TestValidator_Scheme(t *testing.T) {
	payload := []byte(`{"id":820982911946154508,"email":"jon@example.com"}`)
	validator := Validator{}

	if err := validator.Validate(payload, Sign(payload, "shpss_S"), "shpss_S", 0); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := validator.Validate(payload, "", "shpss_S", 0); !core.IsKind(err, core.WebhookErrorMissingSignature) {
		t.Fatalf("expected missing signature, got %v", err)
	}
	if err := validator.Validate(payload, Sign(payload, "shpss_T"), "shpss_S", 0); !core.IsKind(err, core.WebhookErrorSignatureMismatch) {
		t.Fatalf("expected wrong secret to mismatch, got %v", err)
	}
	if err := validator.Validate(append(payload, ' '), Sign(payload, "shpss_S"), "shpss_S", 0); !core.IsKind(err, core.WebhookErrorSignatureMismatch) {
		t.Fatalf("expected mutated payload to mismatch, got %v", err)
	}
}

func TestParser_HeadersWinOverPayload(t *testing.T) {
	parser := Parser{}
	data := webhooks.DecodePayload([]byte(`{"topic":"orders/paid","webhook_id":"wh_payload","id":42}`), "application/json")
	headers := map[string]string{
		HeaderTopic:      "Orders/Create",
		HeaderWebhookID:  "wh_header",
		HeaderShopDomain: "acme.myshopify.com",
	}

	if got := parser.ExtractEventType(data, headers); got != "orders/create" {
		t.Fatalf("unexpected event %q", got)
	}
	if got := parser.ExtractEventType(data, nil); got != "orders/paid" {
		t.Fatalf("expected payload topic fallback, got %q", got)
	}
	if got := parser.ExtractEventType(map[string]any{}, nil); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
	if got := parser.ExtractExternalID(data, "wh_header"); got != "wh_header" {
		t.Fatalf("unexpected external id %q", got)
	}
	if got := parser.ExtractExternalID(data, ""); got != "wh_payload" {
		t.Fatalf("expected payload webhook id fallback, got %q", got)
	}
	metadata := parser.ExtractMetadata(data, headers)
	if metadata["shop_domain"] != "acme.myshopify.com" || metadata["resource_id"] != "42" {
		t.Fatalf("unexpected metadata %#v", metadata)
	}
}
