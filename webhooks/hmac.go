package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
)

type (
	SignatureValidator     = core.SignatureValidator
	SignatureValidatorFunc = core.SignatureValidatorFunc
	PayloadParser          = core.PayloadParser
)

// DefaultTolerance applies when a validator is called with a non-positive
// tolerance.
const DefaultTolerance = core.DefaultToleranceSeconds * time.Second

// Sum returns HMAC-SHA256(secret, parts...) as raw bytes.
func Sum(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, part := range parts {
		_, _ = mac.Write(part)
	}
	return mac.Sum(nil)
}

// SignHex returns the lowercase hex HMAC-SHA256 digest of parts.
func SignHex(secret string, parts ...[]byte) string {
	return hex.EncodeToString(Sum(secret, parts...))
}

// SignBase64 returns the standard base64 HMAC-SHA256 digest of parts.
func SignBase64(secret string, parts ...[]byte) string {
	return base64.StdEncoding.EncodeToString(Sum(secret, parts...))
}

// Equal compares two signature strings in constant time.
func Equal(expected string, actual string) bool {
	return hmac.Equal([]byte(expected), []byte(actual))
}

// HeaderHMAC describes a signature carried in a single header with an
// optional prefix, over the raw payload.
type HeaderHMAC struct {
	Prefix   string
	Encoding string // hex | base64
}

// Validate checks signature against HMAC-SHA256(secret, payload). An empty
// signature is MissingSignature, an absent prefix is MalformedSignature.
func (h HeaderHMAC) Validate(payload []byte, signature string, secret string, _ time.Duration) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return core.NewMissingSignatureError("")
	}
	if prefix := h.Prefix; prefix != "" {
		if !strings.HasPrefix(signature, prefix) {
			return core.NewMalformedSignatureError("Invalid signature format")
		}
		signature = strings.TrimPrefix(signature, prefix)
	}
	var expected string
	switch strings.ToLower(strings.TrimSpace(h.Encoding)) {
	case "base64":
		expected = SignBase64(secret, payload)
	default:
		expected = SignHex(secret, payload)
	}
	if !Equal(expected, signature) {
		return core.NewSignatureMismatchError("")
	}
	return nil
}

// CheckTimestamp parses a unix timestamp and rejects it when it is older
// than tolerance relative to now.
func CheckTimestamp(raw string, tolerance time.Duration, now time.Time) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, core.NewMalformedSignatureError("Invalid signature format")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.NewMalformedSignatureError("Invalid signature timestamp")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if now.Sub(time.Unix(ts, 0)) > tolerance {
		return ts, core.NewExpiredError("Timestamp outside the tolerance zone")
	}
	return ts, nil
}

// Clock returns now, or the wall clock in UTC when now is nil.
func Clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
