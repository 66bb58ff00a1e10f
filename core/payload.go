package core

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

const RawPayloadKey = "raw"

// DecodePayload turns a webhook body into the structured form stored on log
// entries. JSON objects decode as-is, form bodies decode to first values with
// an embedded JSON "payload" field expanded, anything else is wrapped under
// RawPayloadKey.
func DecodePayload(body []byte, contentType string) map[string]any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	if decoded, ok := decodeJSONObject(trimmed); ok {
		return decoded
	}
	if isFormContentType(contentType) || looksLikeForm(trimmed) {
		if decoded, ok := decodeForm(trimmed); ok {
			return decoded
		}
	}
	return map[string]any{RawPayloadKey: string(body)}
}

func decodeJSONObject(body []byte) (map[string]any, bool) {
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func decodeForm(body []byte) (map[string]any, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil || len(values) == 0 {
		return nil, false
	}
	if embedded := strings.TrimSpace(values.Get("payload")); embedded != "" {
		if decoded, ok := decodeJSONObject([]byte(embedded)); ok {
			return decoded, true
		}
	}
	out := make(map[string]any, len(values))
	for key, list := range values {
		if len(list) == 0 {
			out[key] = ""
			continue
		}
		out[key] = list[0]
	}
	return out, true
}

func isFormContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/x-www-form-urlencoded")
}

func looksLikeForm(body []byte) bool {
	if !bytes.Contains(body, []byte("=")) {
		return false
	}
	return !bytes.ContainsAny(body, " \n\t{}[]")
}
