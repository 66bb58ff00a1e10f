package slack

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

const (
	ProviderID = "slack"

	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
	HeaderRetryNum  = "X-Slack-Retry-Num"

	versionPrefix = "v0="
)

// Validator checks "<timestamp>:v0=<hex>" values, the form
// core.ProviderDefinition.ComposeSignature builds from the two headers. The
// signed base string is "v0:<timestamp>:<payload>".
type Validator struct {
	Now func() time.Time
}

func (v Validator) Validate(payload []byte, signature string, secret string, tolerance time.Duration) error {
	timestamp, sig, ok := strings.Cut(strings.TrimSpace(signature), ":")
	timestamp = strings.TrimSpace(timestamp)
	sig = strings.TrimSpace(sig)
	if !ok || timestamp == "" || sig == "" {
		return core.NewMalformedSignatureError("Invalid signature format")
	}
	if !strings.HasPrefix(sig, versionPrefix) {
		return core.NewMalformedSignatureError("Invalid signature version")
	}
	if _, err := webhooks.CheckTimestamp(timestamp, tolerance, webhooks.Clock(v.Now)); err != nil {
		return err
	}
	expected := versionPrefix + webhooks.SignHex(secret, []byte("v0:"+timestamp+":"), payload)
	if !webhooks.Equal(expected, sig) {
		return core.NewSignatureMismatchError("")
	}
	return nil
}

type Parser struct{}

func (Parser) ServiceName() string { return ProviderID }

// ExtractEventType resolves Events API callbacks, interactive components and
// slash commands in that order.
func (Parser) ExtractEventType(data map[string]any, _ map[string]string) string {
	if event := webhooks.ReadNestedString(data, "event", "type"); event != "" {
		return event
	}
	if kind := webhooks.ReadString(data, "type"); kind != "" {
		return kind
	}
	if _, ok := data["command"]; ok {
		return "slash_command"
	}
	return "unknown"
}

func (Parser) ExtractMetadata(data map[string]any, headers map[string]string) map[string]any {
	metadata := map[string]any{}
	team := webhooks.FirstNonEmpty(
		webhooks.ReadString(data, "team_id"),
		webhooks.ReadNestedString(data, "team", "id"),
	)
	if team != "" {
		metadata["team_id"] = team
	}
	if app := webhooks.ReadString(data, "api_app_id"); app != "" {
		metadata["api_app_id"] = app
	}
	if command := webhooks.ReadString(data, "command"); command != "" {
		metadata["command"] = command
	}
	channel := webhooks.FirstNonEmpty(
		webhooks.ReadString(data, "channel_id"),
		webhooks.ReadNestedString(data, "channel", "id"),
		webhooks.ReadNestedString(data, "event", "channel"),
	)
	if channel != "" {
		metadata["channel_id"] = channel
	}
	user := webhooks.FirstNonEmpty(
		webhooks.ReadString(data, "user_id"),
		webhooks.ReadNestedString(data, "user", "id"),
		webhooks.ReadNestedString(data, "event", "user"),
	)
	if user != "" {
		metadata["user_id"] = user
	}
	if retry := webhooks.HeaderValue(headers, HeaderRetryNum); retry != "" {
		metadata["retry_num"] = retry
	}
	return metadata
}

func (Parser) ExtractExternalID(data map[string]any, headerValue string) string {
	if id := webhooks.FirstNonEmpty(
		headerValue,
		webhooks.ReadString(data, "event_id"),
		webhooks.ReadString(data, "trigger_id"),
	); id != "" {
		return id
	}
	actions, _ := data["actions"].([]any)
	if len(actions) == 0 {
		return ""
	}
	first, _ := actions[0].(map[string]any)
	return webhooks.ReadString(first, "action_ts")
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
		TimestampHeader: HeaderTimestamp,
	}
}

// Sign returns the X-Slack-Signature value for payload sent at timestamp.
func Sign(payload []byte, secret string, timestamp string) string {
	return versionPrefix + webhooks.SignHex(secret, []byte("v0:"+timestamp+":"), payload)
}
