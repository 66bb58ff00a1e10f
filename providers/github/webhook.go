package github

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

const (
	ProviderID = "github"

	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderHookID    = "X-GitHub-Hook-ID"

	signaturePrefix = "sha256="
)

// Validator checks "sha256=<hex>" signatures. GitHub signs no timestamp so
// tolerance is ignored.
type Validator struct{}

func (Validator) Validate(payload []byte, signature string, secret string, _ time.Duration) error {
	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return core.NewMalformedSignatureError("Invalid signature format")
	}
	scheme := webhooks.HeaderHMAC{Prefix: signaturePrefix, Encoding: "hex"}
	return scheme.Validate(payload, signature, secret, 0)
}

type Parser struct{}

func (Parser) ServiceName() string { return ProviderID }

// ExtractEventType joins action and event as "<action>.<event>". An event
// without an action keeps the "unknown.<event>" form existing consumers
// already match on.
func (Parser) ExtractEventType(data map[string]any, headers map[string]string) string {
	action := webhooks.ReadString(data, "action")
	event := webhooks.FirstNonEmpty(
		webhooks.ReadString(data, "event"),
		webhooks.HeaderValue(headers, HeaderEvent),
	)
	switch {
	case event != "":
		if action == "" {
			action = "unknown"
		}
		return action + "." + event
	case action != "":
		return action
	default:
		return "unknown"
	}
}

func (Parser) ExtractMetadata(data map[string]any, headers map[string]string) map[string]any {
	metadata := map[string]any{}
	if event := webhooks.HeaderValue(headers, HeaderEvent); event != "" {
		metadata["event"] = event
	}
	if hookID := webhooks.HeaderValue(headers, HeaderHookID); hookID != "" {
		metadata["hook_id"] = hookID
	}
	if repository := webhooks.ReadNestedString(data, "repository", "full_name"); repository != "" {
		metadata["repository"] = repository
	}
	if sender := webhooks.ReadNestedString(data, "sender", "login"); sender != "" {
		metadata["sender"] = sender
	}
	if installation := webhooks.ReadNestedString(data, "installation", "id"); installation != "" {
		metadata["installation_id"] = installation
	}
	return metadata
}

// ExtractExternalID uses the X-GitHub-Delivery header; payloads carry no
// delivery id.
func (Parser) ExtractExternalID(_ map[string]any, headerValue string) string {
	return strings.TrimSpace(headerValue)
}

func Definition() core.ProviderDefinition {
	return core.ProviderDefinition{
		ID:               ProviderID,
		Validator:        Validator{},
		Parser:           Parser{},
		SignatureHeader:  HeaderSignature,
		ExternalIDHeader: HeaderDelivery,
		EventHeader:      HeaderEvent,
	}
}

// Sign returns the X-Hub-Signature-256 value for payload.
func Sign(payload []byte, secret string) string {
	return signaturePrefix + webhooks.SignHex(secret, payload)
}
