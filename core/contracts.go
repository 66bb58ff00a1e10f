package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// SignatureValidator verifies a raw payload against the provider signature.
// Failures are reported as typed errors, never as a false result.
type SignatureValidator interface {
	Validate(payload []byte, signature string, secret string, tolerance time.Duration) error
}

type SignatureValidatorFunc func(payload []byte, signature string, secret string, tolerance time.Duration) error

func (fn SignatureValidatorFunc) Validate(payload []byte, signature string, secret string, tolerance time.Duration) error {
	return fn(payload, signature, secret, tolerance)
}

// PayloadParser extracts event identity from a decoded payload. Header
// values are passed for providers that carry identity out of band.
type PayloadParser interface {
	ServiceName() string
	ExtractEventType(data map[string]any, headers map[string]string) string
	ExtractMetadata(data map[string]any, headers map[string]string) map[string]any
	ExtractExternalID(data map[string]any, headerValue string) string
}

type Registry interface {
	Register(definition ProviderDefinition) error
	Get(provider string) (ProviderDefinition, bool)
	List() []ProviderDefinition
}

type SecretResolver interface {
	ResolveSecret(ctx context.Context, provider string) (string, error)
}

// SecretConfigBinder is implemented by resolvers that read secrets from the
// merged runtime config and need it once NewService has resolved it.
type SecretConfigBinder interface {
	BindConfig(cfg Config)
}

type WebhookLogStore interface {
	// Append stores entry and returns ErrDuplicateExternalID (possibly
	// wrapped) when (provider, external_id) is already present.
	Append(ctx context.Context, entry WebhookLogEntry) (WebhookLogEntry, error)
	ExistsByExternalID(ctx context.Context, provider string, externalID string) (bool, error)
	FindByExternalID(ctx context.Context, provider string, externalID string) (WebhookLogEntry, error)
	List(ctx context.Context, filter LogFilter) (LogPage, error)
	// Recent returns entries for (provider, event) newest first.
	Recent(ctx context.Context, provider string, event string, limit int, since *time.Time) ([]WebhookLogEntry, error)
}

type WebhookLogPruner interface {
	Prune(ctx context.Context, policy RetentionPolicy) (int, error)
}

// CooldownStore keeps per key expiry deadlines. TryAcquire must be atomic
// across concurrent callers.
type CooldownStore interface {
	Until(ctx context.Context, key string) (time.Time, bool, error)
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	Clear(ctx context.Context, key string) error
}

type Scheduler interface {
	Schedule(ctx context.Context, delay time.Duration, task RetryTask) error
}

type RetryRunner interface {
	RunScheduledAttempt(ctx context.Context, task RetryTask) (ValidationResult, error)
}

// RetryRunnerBinder is implemented by in-process schedulers that execute
// tasks themselves and need the runner once the service is built.
type RetryRunnerBinder interface {
	BindRunner(runner RetryRunner)
}

type Notifier interface {
	Notify(ctx context.Context, notification FailureNotification) ([]NotificationDispatchRecord, error)
}

type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, notification FailureNotification) error
}

type NotificationLedger interface {
	Record(ctx context.Context, record NotificationDispatchRecord) error
}

type EventObserver interface {
	Observe(ctx context.Context, event Event) error
}

type EventObserverFunc func(ctx context.Context, event Event) error

func (fn EventObserverFunc) Observe(ctx context.Context, event Event) error {
	return fn(ctx, event)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
