package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        Registry
	secretResolver  SecretResolver
	logStore        WebhookLogStore
	cooldownStore   CooldownStore
	scheduler       Scheduler
	notifier        Notifier
	ledger          NotificationLedger
	observers       *ObserverRegistry
	orchestrator    *ValidationOrchestrator
	detector        *FailureDetector
	sender          *NotificationSender
	instr           instrumentation
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	Registry        Registry
	SecretResolver  SecretResolver
	LogStore        WebhookLogStore
	CooldownStore   CooldownStore
	Scheduler       Scheduler
	Notifier        Notifier
	Ledger          NotificationLedger
	Observers       *ObserverRegistry
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("webhooks", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("webhooks"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.observers == nil {
		builder.observers = NewObserverRegistry()
	}
	if builder.now == nil {
		builder.now = time.Now
	}
	if builder.sleep == nil {
		builder.sleep = ContextSleep
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.retryOverride != nil {
		finalConfig.Retry = *builder.retryOverride
		if err := finalConfig.Validate(); err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	if builder.storeProvider != nil {
		if builder.logStore == nil {
			builder.logStore = builder.storeProvider.WebhookLogStore()
		}
		if builder.ledger == nil {
			builder.ledger = builder.storeProvider.NotificationLedger()
		}
	}
	if builder.logStore == nil {
		builder.logStore = NewMemoryWebhookLogStore()
	}
	if builder.ledger == nil {
		builder.ledger = NewMemoryNotificationLedger()
	}
	if builder.cooldownStore == nil {
		builder.cooldownStore = NewMemoryCooldownStore(MemoryCooldownOptions{Now: builder.now})
	}
	if builder.secretResolver == nil {
		builder.secretResolver = ConfigSecretResolver{Config: finalConfig}
	}
	if binder, ok := builder.secretResolver.(SecretConfigBinder); ok {
		binder.BindConfig(finalConfig)
	}
	if builder.notifier == nil {
		notifier := NewChannelNotifier(LogChannel{Logger: logger})
		for _, channel := range builder.channels {
			notifier.Register(channel)
		}
		builder.notifier = notifier
	}

	orchestrator, err := NewValidationOrchestrator(finalConfig, OrchestratorDependencies{
		Registry:  builder.registry,
		Secrets:   builder.secretResolver,
		Store:     builder.logStore,
		Scheduler: builder.scheduler,
		Observers: builder.observers,
		Logger:    logger,
		Metrics:   builder.metricsRecorder,
		Now:       builder.now,
		Sleep:     builder.sleep,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	detector, err := NewFailureDetector(
		finalConfig.Notifications,
		builder.logStore,
		builder.cooldownStore,
		logger,
		builder.metricsRecorder,
		builder.now,
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	sender, err := NewNotificationSender(finalConfig.Notifications, SenderDependencies{
		Detector:  detector,
		Notifier:  builder.notifier,
		Ledger:    builder.ledger,
		Observers: builder.observers,
		Logger:    logger,
		Metrics:   builder.metricsRecorder,
		Now:       builder.now,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	service := &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		registry:        builder.registry,
		secretResolver:  builder.secretResolver,
		logStore:        builder.logStore,
		cooldownStore:   builder.cooldownStore,
		scheduler:       builder.scheduler,
		notifier:        builder.notifier,
		ledger:          builder.ledger,
		observers:       builder.observers,
		orchestrator:    orchestrator,
		detector:        detector,
		sender:          sender,
		instr:           newInstrumentation(logger, builder.metricsRecorder),
		now:             builder.now,
	}
	if binder, ok := builder.scheduler.(RetryRunnerBinder); ok {
		binder.BindRunner(service)
	}
	return service, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorFactory:    s.errorFactory,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		Registry:        s.registry,
		SecretResolver:  s.secretResolver,
		LogStore:        s.logStore,
		CooldownStore:   s.cooldownStore,
		Scheduler:       s.scheduler,
		Notifier:        s.notifier,
		Ledger:          s.ledger,
		Observers:       s.observers,
	}
}

func (s *Service) Orchestrator() *ValidationOrchestrator {
	return s.orchestrator
}

func (s *Service) Detector() *FailureDetector {
	return s.detector
}

func (s *Service) Sender() *NotificationSender {
	return s.sender
}

func (s *Service) Providers() []ProviderDefinition {
	if s == nil || s.registry == nil {
		return nil
	}
	return s.registry.List()
}

func (s *Service) ValidateAndLog(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	return s.orchestrator.ValidateAndLog(ctx, req)
}

func (s *Service) ValidateWithRetries(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	result, err := s.orchestrator.ValidateWithRetries(ctx, req)
	if err != nil && IsLoggedFailure(err) {
		s.notifyAfterFailure(ctx, req.Provider, eventOrUnknown(req.Event))
	}
	return result, err
}

// Receive runs an inbound delivery through the configured retry mode. Request
// shape errors are rejected before any log entry is written, and a delivery
// already logged for its external id resolves before the secret is looked up.
func (s *Service) Receive(ctx context.Context, delivery InboundDelivery) (result ReceiveResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider": normalizeProvider(delivery.Provider),
		"bytes":    len(delivery.Body),
	}
	defer func() {
		fields["event"] = result.Event
		fields["external_id"] = result.ExternalID
		fields["outcome"] = string(result.Validation.Status)
		fields["scheduled"] = result.Scheduled
		s.instr.observeOperation(ctx, startedAt, "receive", err, fields)
	}()

	if len(bytes.TrimSpace(delivery.Body)) == 0 {
		return ReceiveResult{}, NewEmptyPayloadError()
	}
	provider := normalizeProvider(delivery.Provider)
	definition, ok := s.registry.Get(provider)
	if !ok {
		return ReceiveResult{}, NewServiceUnsupportedError(delivery.Provider)
	}
	if HeaderValue(delivery.Headers, definition.SignatureHeader) == "" {
		return ReceiveResult{}, NewMissingHeaderError(definition.SignatureHeader)
	}
	if definition.TimestampHeader != "" && HeaderValue(delivery.Headers, definition.TimestampHeader) == "" {
		return ReceiveResult{}, NewMissingHeaderError(definition.TimestampHeader)
	}
	contentType := strings.TrimSpace(delivery.ContentType)
	if contentType == "" {
		contentType = HeaderValue(delivery.Headers, "Content-Type")
	}
	decoded := DecodePayload(delivery.Body, contentType)
	event := eventOrUnknown(definition.Parser.ExtractEventType(decoded, delivery.Headers))
	externalID := strings.TrimSpace(definition.Parser.ExtractExternalID(
		decoded,
		HeaderValue(delivery.Headers, definition.ExternalIDHeader),
	))
	metadata := definition.Parser.ExtractMetadata(decoded, delivery.Headers)

	result = ReceiveResult{
		Event:      event,
		ExternalID: externalID,
		Metadata:   cloneAnyMap(metadata),
	}
	if externalID != "" {
		exists, lookupErr := s.logStore.ExistsByExternalID(ctx, definition.ID, externalID)
		if lookupErr != nil {
			return result, NewStorageError(lookupErr, "Webhook idempotency lookup failed")
		}
		if exists {
			result.Validation = s.orchestrator.alreadyProcessed(ctx, definition.ID, event, 0, externalID)
			return result, nil
		}
	}
	if _, err = resolveProvider(ctx, s.registry, s.secretResolver, s.config, provider); err != nil {
		return result, err
	}
	req := ValidationRequest{
		Provider:    definition.ID,
		Payload:     delivery.Body,
		ContentType: contentType,
		Decoded:     decoded,
		Signature:   definition.ComposeSignature(delivery.Headers),
		Event:       event,
		ExternalID:  externalID,
		Metadata:    metadata,
	}

	if s.RetryMode() == RetryModeScheduled {
		result.Validation, result.Scheduled, err = s.orchestrator.ScheduleWithRetries(ctx, req)
	} else {
		result.Validation, err = s.orchestrator.ValidateWithRetries(ctx, req)
	}
	if err != nil && !result.Scheduled && IsLoggedFailure(err) {
		s.notifyAfterFailure(ctx, definition.ID, event)
	}
	return result, err
}

// RetryMode reports how Receive runs retries: RetryModeScheduled or
// RetryModeSync.
func (s *Service) RetryMode() string {
	return s.config.Retry.EffectiveMode(s.scheduler != nil)
}

// RunScheduledAttempt implements RetryRunner for deferred schedulers.
func (s *Service) RunScheduledAttempt(ctx context.Context, task RetryTask) (ValidationResult, error) {
	result, err := s.orchestrator.RunScheduledAttempt(ctx, task)
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		s.notifyAfterFailure(ctx, task.Provider, eventOrUnknown(task.Event))
	}
	return result, err
}

func (s *Service) EvaluateFailures(ctx context.Context, provider string, event string) (FailureEvaluation, error) {
	return s.detector.Evaluate(ctx, provider, event)
}

func (s *Service) NotifyIfNeeded(ctx context.Context, provider string, event string) (NotificationDecision, error) {
	return s.sender.NotifyIfNeeded(ctx, provider, event)
}

func (s *Service) MarkNotificationSent(ctx context.Context, provider string, event string) error {
	return s.detector.MarkNotificationSent(ctx, provider, event)
}

func (s *Service) ClearCooldown(ctx context.Context, provider string, event string) error {
	return s.detector.ClearCooldown(ctx, provider, event)
}

func (s *Service) ListLogs(ctx context.Context, filter LogFilter) (LogPage, error) {
	page, err := s.logStore.List(ctx, filter)
	if err != nil {
		return LogPage{}, s.mapError(err)
	}
	return page, nil
}

func (s *Service) FindLogByExternalID(ctx context.Context, provider string, externalID string) (WebhookLogEntry, error) {
	entry, err := s.logStore.FindByExternalID(ctx, provider, externalID)
	if err != nil {
		if errors.Is(err, ErrLogEntryNotFound) {
			return WebhookLogEntry{}, goerrors.Wrap(err, goerrors.CategoryNotFound, "Webhook log entry not found").
				WithCode(http.StatusNotFound).
				WithTextCode(WebhookErrorLogNotFound)
		}
		return WebhookLogEntry{}, s.mapError(err)
	}
	return entry, nil
}

// PruneLogs applies a retention policy when the configured store supports it.
func (s *Service) PruneLogs(ctx context.Context, policy RetentionPolicy) (deleted int, err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.instr.observeOperation(ctx, startedAt, "prune_logs", err, map[string]any{
			"ttl_seconds": int64(policy.TTL / time.Second),
			"row_cap":     policy.RowCap,
			"deleted":     deleted,
		})
	}()
	pruner, ok := s.logStore.(WebhookLogPruner)
	if !ok {
		return 0, s.mapError(fmt.Errorf("core: webhook log store does not support pruning"))
	}
	deleted, err = pruner.Prune(ctx, policy)
	if err != nil {
		return 0, NewStorageError(err, "Webhook log pruning failed")
	}
	return deleted, nil
}

func (s *Service) notifyAfterFailure(ctx context.Context, provider string, event string) {
	if s.sender == nil || !s.config.Notifications.Enabled {
		return
	}
	if _, err := s.sender.NotifyIfNeeded(ctx, provider, event); err != nil {
		s.instr.logError(ctx, "webhook failure notification failed", map[string]any{
			"provider": normalizeProvider(provider),
			"event":    event,
			"error":    err.Error(),
		})
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
