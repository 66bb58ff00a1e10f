package core

import (
	"strconv"
	"strings"
	"time"
)

const (
	ProviderStripe  = "stripe"
	ProviderGitHub  = "github"
	ProviderShopify = "shopify"
	ProviderSlack   = "slack"
)

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// WebhookLogEntry is one verification attempt. Entries are written once and
// never updated.
type WebhookLogEntry struct {
	ID           string
	Provider     string
	Event        string
	Status       LogStatus
	Payload      map[string]any
	ErrorMessage string
	ErrorCode    string
	Attempt      int
	ExternalID   string
	// AttemptKey identifies a deferred attempt of a retry chain. Stores keep
	// it unique when set.
	AttemptKey   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (e WebhookLogEntry) Failed() bool {
	return e.Status == LogStatusFailed
}

type ValidationRequest struct {
	Provider    string
	Payload     []byte
	ContentType string
	Decoded     map[string]any
	Signature   string
	Event       string
	Attempt     int
	ExternalID  string
	AttemptKey  string
	Metadata    map[string]any
}

type ValidationStatus string

const (
	ValidationStatusValid            ValidationStatus = "valid"
	ValidationStatusInvalid          ValidationStatus = "invalid"
	ValidationStatusAlreadyProcessed ValidationStatus = "already_processed"
)

type ValidationResult struct {
	Status     ValidationStatus
	Entry      *WebhookLogEntry
	ExternalID string
	Attempts   int
}

func (r ValidationResult) AlreadyProcessed() bool {
	return r.Status == ValidationStatusAlreadyProcessed
}

// InboundDelivery is the raw request handed over by a transport.
type InboundDelivery struct {
	Provider    string
	Body        []byte
	Headers     map[string]string
	ContentType string
	ReceivedAt  time.Time
}

type ReceiveResult struct {
	Validation ValidationResult
	Event      string
	ExternalID string
	Metadata   map[string]any
	Scheduled  bool
}

type LogFilter struct {
	Provider     string
	Status       LogStatus
	Event        string
	Attempt      *int
	ExternalID   string
	CreatedFrom  *time.Time
	CreatedUntil *time.Time
	Page         int
	PerPage      int
}

type LogPage struct {
	Items      []WebhookLogEntry
	Page       int
	PerPage    int
	Total      int
	HasNext    bool
	NextCursor string
}

type RetentionPolicy struct {
	TTL    time.Duration
	RowCap int
}

type FailureEvaluation struct {
	Provider       string
	Event          string
	FailureCount   int
	Threshold      int
	LastFailure    *WebhookLogEntry
	CooldownActive bool
	CooldownUntil  *time.Time
	ShouldNotify   bool
}

type FailureNotification struct {
	Provider     string
	Event        string
	FailureCount int
	LastError    string
	LastErrorAt  time.Time
	Timestamp    time.Time
	DashboardURL string
	Channels     []string
	Recipients   []string
}

type NotificationDecisionReason string

const (
	NotificationSent           NotificationDecisionReason = "sent"
	NotificationDisabled       NotificationDecisionReason = "disabled"
	NotificationBelowThreshold NotificationDecisionReason = "below_threshold"
	NotificationCooldownActive NotificationDecisionReason = "cooldown_active"
	NotificationNoChannels     NotificationDecisionReason = "no_channels"
	NotificationDispatchFailed NotificationDecisionReason = "dispatch_failed"
)

type NotificationDecision struct {
	Sent         bool
	Reason       NotificationDecisionReason
	Evaluation   FailureEvaluation
	Notification *FailureNotification
}

type NotificationDispatchRecord struct {
	ID           string
	Provider     string
	Event        string
	Channel      string
	Recipients   []string
	FailureCount int
	Status       string
	Error        string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// RetryTask carries one deferred attempt of a retry chain.
type RetryTask struct {
	ChainID     string
	Provider    string
	Payload     []byte
	ContentType string
	Signature   string
	Event       string
	Attempt     int
	Metadata    map[string]any
	RunAt       time.Time
}

func (t RetryTask) Request() ValidationRequest {
	return ValidationRequest{
		Provider:    t.Provider,
		Payload:     append([]byte(nil), t.Payload...),
		ContentType: t.ContentType,
		Signature:   t.Signature,
		Event:       t.Event,
		Attempt:     t.Attempt,
		AttemptKey:  t.AttemptKey(),
		Metadata:    cloneAnyMap(t.Metadata),
	}
}

// AttemptKey is "<chain_id>:<attempt>". Redelivered tasks share it.
func (t RetryTask) AttemptKey() string {
	chainID := strings.TrimSpace(t.ChainID)
	if chainID == "" {
		return ""
	}
	return chainID + ":" + strconv.Itoa(t.Attempt)
}

// NormalizeProvider lowercases and trims a provider identifier the same way
// the registry and the log stores key it.
func NormalizeProvider(provider string) string {
	return normalizeProvider(provider)
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneEntry(entry WebhookLogEntry) WebhookLogEntry {
	cloned := entry
	cloned.Payload = cloneAnyMap(entry.Payload)
	return cloned
}
