package stripe

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

const (
	ProviderID      = "stripe"
	HeaderSignature = "Stripe-Signature"
)

// Validator checks "t=<unix>,v1=<hex>" headers. Any v1 entry may match,
// which covers secret rotation where Stripe signs with both secrets.
type Validator struct {
	Now func() time.Time
}

func (v Validator) Validate(payload []byte, signature string, secret string, tolerance time.Duration) error {
	timestamp, signatures := parseHeader(signature)
	if timestamp == "" || len(signatures) == 0 {
		return core.NewMalformedSignatureError("Unable to extract timestamp and signatures from header")
	}
	if _, err := webhooks.CheckTimestamp(timestamp, tolerance, webhooks.Clock(v.Now)); err != nil {
		return err
	}
	expected := webhooks.SignHex(secret, []byte(timestamp), []byte("."), payload)
	for _, candidate := range signatures {
		if webhooks.Equal(expected, candidate) {
			return nil
		}
	}
	return core.NewSignatureMismatchError("No signatures found matching the expected signature for payload")
}

func parseHeader(header string) (string, []string) {
	var (
		timestamp  string
		signatures []string
	)
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "t":
			if timestamp == "" {
				timestamp = value
			}
		case "v1":
			if value != "" {
				signatures = append(signatures, value)
			}
		}
	}
	return timestamp, signatures
}

type Parser struct{}

func (Parser) ServiceName() string { return ProviderID }

func (Parser) ExtractEventType(data map[string]any, _ map[string]string) string {
	if event := webhooks.ReadString(data, "type"); event != "" {
		return event
	}
	return "unknown"
}

func (Parser) ExtractMetadata(data map[string]any, _ map[string]string) map[string]any {
	metadata := map[string]any{}
	if value, ok := data["livemode"].(bool); ok {
		metadata["livemode"] = value
	}
	if value := webhooks.ReadString(data, "api_version"); value != "" {
		metadata["api_version"] = value
	}
	if value := webhooks.ReadString(data, "account"); value != "" {
		metadata["account"] = value
	}
	if object := webhooks.ReadMap(webhooks.ReadMap(data, "data"), "object"); object != nil {
		if id := webhooks.ReadString(object, "id"); id != "" {
			metadata["object_id"] = id
		}
		if kind := webhooks.ReadString(object, "object"); kind != "" {
			metadata["object_type"] = kind
		}
	}
	if request := webhooks.ReadMap(data, "request"); request != nil {
		if id := webhooks.ReadString(request, "id"); id != "" {
			metadata["request_id"] = id
		}
	}
	return metadata
}

func (Parser) ExtractExternalID(data map[string]any, headerValue string) string {
	return webhooks.FirstNonEmpty(headerValue, webhooks.ReadString(data, "id"))
}

func Definition() core.ProviderDefinition {
	return DefinitionWithClock(nil)
}

// DefinitionWithClock pins the clock used for tolerance checks.
func DefinitionWithClock(now func() time.Time) core.ProviderDefinition {
	return core.ProviderDefinition{
		ID:              ProviderID,
		Validator:       Validator{Now: now},
		Parser:          Parser{},
		SignatureHeader: HeaderSignature,
	}
}

// SignatureHeaderValue builds a Stripe-Signature value for payload signed at
// the given time.
func SignatureHeaderValue(payload []byte, secret string, at time.Time) string {
	timestamp := fmt.Sprintf("%d", at.Unix())
	return "t=" + timestamp + ",v1=" + webhooks.SignHex(secret, []byte(timestamp), []byte("."), payload)
}
