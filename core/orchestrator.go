package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const unknownEvent = "unknown"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func ContextSleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type OrchestratorDependencies struct {
	Registry  Registry
	Secrets   SecretResolver
	Store     WebhookLogStore
	Scheduler Scheduler
	Observers *ObserverRegistry
	Logger    Logger
	Metrics   MetricsRecorder
	Now       func() time.Time
	Sleep     SleepFunc
}

// ValidationOrchestrator runs one verification attempt per call and writes
// exactly one log entry for every attempt that reaches the validator.
type ValidationOrchestrator struct {
	config    Config
	registry  Registry
	secrets   SecretResolver
	store     WebhookLogStore
	scheduler Scheduler
	observers *ObserverRegistry
	instr     instrumentation
	now       func() time.Time
	sleep     SleepFunc
}

func NewValidationOrchestrator(cfg Config, deps OrchestratorDependencies) (*ValidationOrchestrator, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("core: orchestrator requires a provider registry")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("core: orchestrator requires a webhook log store")
	}
	secrets := deps.Secrets
	if secrets == nil {
		secrets = ConfigSecretResolver{Config: cfg}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	observers := deps.Observers
	if observers == nil {
		observers = NewObserverRegistry()
	}
	return &ValidationOrchestrator{
		config:    cfg,
		registry:  deps.Registry,
		secrets:   secrets,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		observers: observers,
		instr:     newInstrumentation(deps.Logger, deps.Metrics),
		now:       now,
		sleep:     sleep,
	}, nil
}

// ValidateAndLog checks idempotency, verifies the signature and appends the
// attempt outcome. Duplicates resolve to ValidationStatusAlreadyProcessed with
// a nil error. Verification failures return the populated result together
// with the typed error.
func (o *ValidationOrchestrator) ValidateAndLog(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	startedAt := time.Now()
	result, err := o.validateAndLog(ctx, req)
	fields := map[string]any{
		"provider":    normalizeProvider(req.Provider),
		"event":       strings.TrimSpace(req.Event),
		"attempt":     req.Attempt,
		"external_id": strings.TrimSpace(req.ExternalID),
		"outcome":     string(result.Status),
	}
	o.instr.observeOperation(ctx, startedAt, "validate_and_log", err, fields)
	return result, err
}

func (o *ValidationOrchestrator) validateAndLog(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	provider := normalizeProvider(req.Provider)
	externalID := strings.TrimSpace(req.ExternalID)
	attempt := req.Attempt
	if attempt < 0 {
		attempt = 0
	}

	if externalID != "" {
		exists, err := o.store.ExistsByExternalID(ctx, provider, externalID)
		if err != nil {
			return ValidationResult{}, NewStorageError(err, "Webhook idempotency lookup failed")
		}
		if exists {
			return o.alreadyProcessed(ctx, provider, req.Event, attempt, externalID), nil
		}
	}

	resolved, err := resolveProvider(ctx, o.registry, o.secrets, o.config, provider)
	if err != nil {
		return ValidationResult{}, err
	}

	verifyErr := resolved.Definition.Validator.Validate(req.Payload, req.Signature, resolved.Secret, resolved.Tolerance)
	if verifyErr != nil && !IsLoggedFailure(verifyErr) {
		verifyErr = NewSignatureMismatchError(ErrorMessage(verifyErr))
	}

	payload := req.Decoded
	if payload == nil {
		payload = DecodePayload(req.Payload, req.ContentType)
	}
	event := eventOrUnknown(req.Event)
	createdAt := o.now().UTC()
	entry := WebhookLogEntry{
		ID:         uuid.NewString(),
		Provider:   resolved.Definition.ID,
		Event:      event,
		Status:     LogStatusSuccess,
		Payload:    cloneAnyMap(payload),
		Attempt:    attempt,
		ExternalID: externalID,
		AttemptKey: strings.TrimSpace(req.AttemptKey),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if verifyErr != nil {
		entry.Status = LogStatusFailed
		entry.ErrorMessage = ErrorMessage(verifyErr)
		entry.ErrorCode = ErrorKind(verifyErr)
		if strings.TrimSpace(entry.ErrorMessage) == "" {
			entry.ErrorMessage = "Signature verification failed"
		}
	}

	stored, err := o.store.Append(ctx, entry)
	if err != nil {
		if errors.Is(err, ErrDuplicateExternalID) || errors.Is(err, ErrDuplicateAttempt) {
			return o.alreadyProcessed(ctx, provider, event, attempt, externalID), nil
		}
		return ValidationResult{}, NewStorageError(err, "")
	}

	result := ValidationResult{
		Status:     ValidationStatusValid,
		Entry:      &stored,
		ExternalID: externalID,
		Attempts:   1,
	}
	name := EventValidationSucceeded
	if verifyErr != nil {
		result.Status = ValidationStatusInvalid
		name = EventValidationFailed
	}
	o.emit(ctx, Event{
		Name:       name,
		Provider:   stored.Provider,
		Event:      stored.Event,
		Attempt:    stored.Attempt,
		ExternalID: stored.ExternalID,
		EntryID:    stored.ID,
		Error:      stored.ErrorMessage,
		Metadata:   cloneAnyMap(req.Metadata),
	})
	return result, verifyErr
}

func (o *ValidationOrchestrator) alreadyProcessed(
	ctx context.Context,
	provider string,
	event string,
	attempt int,
	externalID string,
) ValidationResult {
	o.emit(ctx, Event{
		Name:       EventValidationDuplicate,
		Provider:   provider,
		Event:      strings.TrimSpace(event),
		Attempt:    attempt,
		ExternalID: externalID,
	})
	return ValidationResult{
		Status:     ValidationStatusAlreadyProcessed,
		ExternalID: externalID,
	}
}

func (o *ValidationOrchestrator) emit(ctx context.Context, event Event) {
	if o.observers == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now().UTC()
	}
	for _, err := range o.observers.Emit(ctx, event) {
		o.instr.logWarn(ctx, "webhook observer failed", map[string]any{
			"event_name": event.Name,
			"provider":   event.Provider,
			"error":      err.Error(),
		})
	}
}
