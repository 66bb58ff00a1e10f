package guard

import "github.com/goliatone/go-webhook-guard/core"

type Config = core.Config
type ProviderConfig = core.ProviderConfig
type RetryConfig = core.RetryConfig
type NotificationsConfig = core.NotificationsConfig
type HTTPConfig = core.HTTPConfig

type Option = core.Option

type Service = core.Service

type ProviderDefinition = core.ProviderDefinition
type SignatureValidator = core.SignatureValidator
type PayloadParser = core.PayloadParser
type Registry = core.Registry
type SecretResolver = core.SecretResolver
type WebhookLogStore = core.WebhookLogStore
type CooldownStore = core.CooldownStore
type Scheduler = core.Scheduler
type NotificationChannel = core.NotificationChannel
type NotificationLedger = core.NotificationLedger
type StoreProvider = core.StoreProvider

type InboundDelivery = core.InboundDelivery
type ReceiveResult = core.ReceiveResult
type ValidationRequest = core.ValidationRequest
type ValidationResult = core.ValidationResult
type WebhookLogEntry = core.WebhookLogEntry
type LogFilter = core.LogFilter
type LogPage = core.LogPage
type RetentionPolicy = core.RetentionPolicy
type RetryTask = core.RetryTask
type FailureEvaluation = core.FailureEvaluation
type FailureNotification = core.FailureNotification
type NotificationDecision = core.NotificationDecision

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func WithProviders(definitions ...ProviderDefinition) Option {
	return core.WithProviders(definitions...)
}

func WithRegistry(registry Registry) Option {
	return core.WithRegistry(registry)
}

func WithSecretResolver(resolver SecretResolver) Option {
	return core.WithSecretResolver(resolver)
}

func WithStoreProvider(provider StoreProvider) Option {
	return core.WithStoreProvider(provider)
}

func WithLogStore(store WebhookLogStore) Option {
	return core.WithLogStore(store)
}

func WithCooldownStore(store CooldownStore) Option {
	return core.WithCooldownStore(store)
}

func WithScheduler(scheduler Scheduler) Option {
	return core.WithScheduler(scheduler)
}

func WithNotificationChannels(channels ...NotificationChannel) Option {
	return core.WithNotificationChannels(channels...)
}

func WithNotificationLedger(ledger NotificationLedger) Option {
	return core.WithNotificationLedger(ledger)
}

func WithRetryConfig(retry RetryConfig) Option {
	return core.WithRetryConfig(retry)
}

func WithLogger(logger core.Logger) Option {
	return core.WithLogger(logger)
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return core.WithMetricsRecorder(recorder)
}
