package github

import (
	"testing"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

func TestValidator_Scheme(t *testing.T) {
	payload := []byte(`{"action":"opened"}`)
	validator := Validator{}

	if err := validator.Validate(payload, "sha256="+webhooks.SignHex("S", payload), "S", 0); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := validator.Validate(payload, "sha1="+webhooks.SignHex("S", payload), "S", 0); !core.IsKind(err, core.WebhookErrorMalformedSignature) {
		t.Fatalf("expected malformed for sha1 prefix, got %v", err)
	}
	if err := validator.Validate(payload, "", "S", 0); !core.IsKind(err, core.WebhookErrorMalformedSignature) {
		t.Fatalf("expected malformed for empty signature, got %v", err)
	}
}

func TestValidator_MutationsMismatch(t *testing.T) {
	payload := []byte(`{"action":"opened"}`)
	signature := Sign(payload, "S")
	validator := Validator{}

	mutated := append([]byte(nil), payload...)
	mutated[2] = 'b'
	if err := validator.Validate(mutated, signature, "S", 0); !core.IsKind(err, core.WebhookErrorSignatureMismatch) {
		t.Fatalf("expected mutated payload to mismatch, got %v", err)
	}
	if err := validator.Validate(payload, signature, "S2", 0); !core.IsKind(err, core.WebhookErrorSignatureMismatch) {
		t.Fatalf("expected wrong secret to mismatch, got %v", err)
	}
}

func TestParser_EventType(t *testing.T) {
	parser := Parser{}
	cases := []struct {
		name    string
		data    map[string]any
		headers map[string]string
		want    string
	}{
		{name: "action and header event", data: map[string]any{"action": "opened"}, headers: map[string]string{"x-github-event": "pull_request"}, want: "opened.pull_request"},
		{name: "action only", data: map[string]any{"action": "created"}, want: "created"},
		{name: "event only", data: map[string]any{"event": "push"}, want: "unknown.push"},
		{name: "nothing", data: map[string]any{}, want: "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parser.ExtractEventType(tc.data, tc.headers); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParser_ExternalIDAndMetadata(t *testing.T) {
	parser := Parser{}
	data := webhooks.DecodePayload([]byte(`{"repository":{"full_name":"acme/api"},"sender":{"login":"octo"}}`), "application/json")

	if got := parser.ExtractExternalID(data, " 72d3162e-cc78 "); got != "72d3162e-cc78" {
		t.Fatalf("unexpected external id %q", got)
	}
	if got := parser.ExtractExternalID(data, ""); got != "" {
		t.Fatalf("expected no payload fallback, got %q", got)
	}
	metadata := parser.ExtractMetadata(data, map[string]string{HeaderEvent: "push"})
	if metadata["repository"] != "acme/api" || metadata["sender"] != "octo" || metadata["event"] != "push" {
		t.Fatalf("unexpected metadata %#v", metadata)
	}
}
