package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	testProviderID     = "acme"
	testSecret         = "whsec_test"
	testSignatureHdr   = "X-Acme-Signature"
	testDeliveryHdr    = "X-Acme-Delivery"
	testEventHdr       = "X-Acme-Event"
	testTimestampHdr   = "X-Acme-Timestamp"
	testPayload        = `{"type":"invoice.paid","id":"evt_1"}`
	testExternalID     = "evt_1"
	testEventInvoice   = "invoice.paid"
	testTimestampValue = "1700000000"
)

func signTestPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// countingValidator verifies "sha256=<hex>" signatures and counts calls.
type countingValidator struct {
	calls atomic.Int32
	// failures makes the first n calls fail with a mismatch
	failures int32
}

func (v *countingValidator) Validate(payload []byte, signature string, secret string, _ time.Duration) error {
	call := v.calls.Add(1)
	if call <= v.failures {
		return NewSignatureMismatchError("")
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return NewMalformedSignatureError("Invalid signature format")
	}
	expected := signTestPayload(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return NewSignatureMismatchError("")
	}
	return nil
}

type testParser struct{}

func (testParser) ServiceName() string { return testProviderID }

func (testParser) ExtractEventType(data map[string]any, headers map[string]string) string {
	if value := HeaderValue(headers, testEventHdr); value != "" {
		return value
	}
	if value, ok := data["type"].(string); ok && value != "" {
		return value
	}
	return "unknown"
}

func (testParser) ExtractMetadata(data map[string]any, _ map[string]string) map[string]any {
	return map[string]any{"livemode": data["livemode"]}
}

func (testParser) ExtractExternalID(data map[string]any, headerValue string) string {
	if headerValue != "" {
		return headerValue
	}
	if value, ok := data["id"].(string); ok {
		return value
	}
	return ""
}

func testDefinition(validator SignatureValidator) ProviderDefinition {
	return ProviderDefinition{
		ID:               testProviderID,
		Validator:        validator,
		Parser:           testParser{},
		SignatureHeader:  testSignatureHdr,
		ExternalIDHeader: testDeliveryHdr,
		EventHeader:      testEventHdr,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		testProviderID: {Secret: testSecret},
	}
	cfg.Retry.Delays = []int{0, 0, 0}
	return cfg
}

type orchestratorFixture struct {
	orchestrator *ValidationOrchestrator
	store        *MemoryWebhookLogStore
	validator    *countingValidator
	scheduler    *recordingScheduler
	observed     *recordingObserver
	sleeps       *[]time.Duration
}

func newOrchestratorFixture(cfg Config, validator *countingValidator) orchestratorFixture {
	if validator == nil {
		validator = &countingValidator{}
	}
	store := NewMemoryWebhookLogStore()
	scheduler := &recordingScheduler{}
	observed := &recordingObserver{}
	observers := NewObserverRegistry()
	observers.Register("recorder", observed)
	sleeps := []time.Duration{}
	var mu sync.Mutex
	orchestrator, err := NewValidationOrchestrator(cfg, OrchestratorDependencies{
		Registry:  NewProviderRegistry(testDefinition(validator)),
		Store:     store,
		Scheduler: scheduler,
		Observers: observers,
		Now:       fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return ctx.Err()
		},
	})
	if err != nil {
		panic(err)
	}
	return orchestratorFixture{
		orchestrator: orchestrator,
		store:        store,
		validator:    validator,
		scheduler:    scheduler,
		observed:     observed,
		sleeps:       &sleeps,
	}
}

func validRequest() ValidationRequest {
	payload := []byte(testPayload)
	return ValidationRequest{
		Provider:   testProviderID,
		Payload:    payload,
		Signature:  signTestPayload(testSecret, payload),
		Event:      testEventInvoice,
		ExternalID: testExternalID,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingScheduler struct {
	mu     sync.Mutex
	tasks  []RetryTask
	delays []time.Duration
	err    error
	runner RetryRunner
}

func (s *recordingScheduler) Schedule(_ context.Context, delay time.Duration, task RetryTask) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.delays = append(s.delays, delay)
	return nil
}

func (s *recordingScheduler) BindRunner(runner RetryRunner) {
	s.runner = runner
}

func (s *recordingScheduler) snapshot() []RetryTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RetryTask(nil), s.tasks...)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(_ context.Context, event Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingObserver) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.events))
	for _, event := range o.events {
		names = append(names, event.Name)
	}
	return names
}

func (o *recordingObserver) count(name string) int {
	total := 0
	for _, current := range o.names() {
		if current == name {
			total++
		}
	}
	return total
}

type failingLogStore struct {
	*MemoryWebhookLogStore
	appendErr error
	existsErr error
}

func (s failingLogStore) Append(ctx context.Context, entry WebhookLogEntry) (WebhookLogEntry, error) {
	if s.appendErr != nil {
		return WebhookLogEntry{}, s.appendErr
	}
	return s.MemoryWebhookLogStore.Append(ctx, entry)
}

func (s failingLogStore) ExistsByExternalID(ctx context.Context, provider string, externalID string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.MemoryWebhookLogStore.ExistsByExternalID(ctx, provider, externalID)
}

// racingLogStore reports every external id as unseen so the unique index is
// the only guard, like two workers passing the existence check together.
type racingLogStore struct {
	*MemoryWebhookLogStore
}

func (racingLogStore) ExistsByExternalID(context.Context, string, string) (bool, error) {
	return false, nil
}

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []FailureNotification
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, notification FailureNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, notification)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

var errStoreDown = errors.New("store down")

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}
