package webhooks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-webhook-guard/core"
)

// DecodePayload decodes a webhook body the same way the orchestrator does
// before logging it.
func DecodePayload(body []byte, contentType string) map[string]any {
	return core.DecodePayload(body, contentType)
}

// ReadString returns the first non-empty string value among keys.
func ReadString(data map[string]any, keys ...string) string {
	if len(data) == 0 {
		return ""
	}
	for _, key := range keys {
		raw, ok := data[key]
		if !ok || raw == nil {
			continue
		}
		var value string
		switch typed := raw.(type) {
		case string:
			value = typed
		case fmt.Stringer:
			value = typed.String()
		case float64:
			value = strconv.FormatFloat(typed, 'f', -1, 64)
		case int, int64, bool:
			value = fmt.Sprint(typed)
		default:
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

// ReadMap returns data[key] when it is an object.
func ReadMap(data map[string]any, key string) map[string]any {
	if len(data) == 0 {
		return nil
	}
	nested, _ := data[key].(map[string]any)
	return nested
}

// ReadNestedString reads key from the object stored under parent.
func ReadNestedString(data map[string]any, parent string, key string) string {
	return ReadString(ReadMap(data, parent), key)
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// HeaderValue looks key up case-insensitively.
func HeaderValue(headers map[string]string, key string) string {
	return core.HeaderValue(headers, key)
}
