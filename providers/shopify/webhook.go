package shopify

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

const (
	ProviderID = "shopify"

	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
	HeaderTopic       = "X-Shopify-Topic"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderAPIVersion  = "X-Shopify-API-Version"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
)

// Validator checks base64(HMAC-SHA256(secret, payload)). Shopify signs no
// timestamp so tolerance is ignored.
type Validator struct{}

func (Validator) Validate(payload []byte, signature string, secret string, _ time.Duration) error {
	return webhooks.HeaderHMAC{Encoding: "base64"}.Validate(payload, signature, secret, 0)
}

// Parser reads topic and webhook id from headers and falls back to payload
// fields, which replayed fixtures carry.
type Parser struct{}

func (Parser) ServiceName() string { return ProviderID }

func (Parser) ExtractEventType(data map[string]any, headers map[string]string) string {
	topic := webhooks.FirstNonEmpty(
		webhooks.HeaderValue(headers, HeaderTopic),
		webhooks.ReadString(data, "topic"),
	)
	if topic == "" {
		return "unknown"
	}
	return strings.ToLower(topic)
}

func (Parser) ExtractMetadata(data map[string]any, headers map[string]string) map[string]any {
	metadata := map[string]any{}
	if shop := webhooks.FirstNonEmpty(webhooks.HeaderValue(headers, HeaderShopDomain), webhooks.ReadString(data, "shop_domain")); shop != "" {
		metadata["shop_domain"] = shop
	}
	if version := webhooks.HeaderValue(headers, HeaderAPIVersion); version != "" {
		metadata["api_version"] = version
	}
	if triggered := webhooks.HeaderValue(headers, HeaderTriggeredAt); triggered != "" {
		metadata["triggered_at"] = triggered
	}
	if id := webhooks.ReadString(data, "admin_graphql_api_id", "id"); id != "" {
		metadata["resource_id"] = id
	}
	return metadata
}

func (Parser) ExtractExternalID(data map[string]any, headerValue string) string {
	return webhooks.FirstNonEmpty(headerValue, webhooks.ReadString(data, "webhook_id"))
}

func Definition() core.ProviderDefinition {
	return core.ProviderDefinition{
		ID:               ProviderID,
		Validator:        Validator{},
		Parser:           Parser{},
		SignatureHeader:  HeaderHMAC,
		ExternalIDHeader: HeaderWebhookID,
		EventHeader:      HeaderTopic,
	}
}

// Sign returns the X-Shopify-Hmac-Sha256 value for payload.
func Sign(payload []byte, secret string) string {
	return webhooks.SignBase64(secret, payload)
}
