package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultDetectorLookback = 50

// FailureDetector decides whether failures for a (provider, event) pair
// crossed the notification threshold.
type FailureDetector struct {
	config   NotificationsConfig
	store    WebhookLogStore
	cooldown CooldownStore
	instr    instrumentation
	now      func() time.Time
}

func NewFailureDetector(
	cfg NotificationsConfig,
	store WebhookLogStore,
	cooldown CooldownStore,
	logger Logger,
	metrics MetricsRecorder,
	now func() time.Time,
) (*FailureDetector, error) {
	if store == nil {
		return nil, fmt.Errorf("core: failure detector requires a webhook log store")
	}
	if cooldown == nil {
		cooldown = NewMemoryCooldownStore()
	}
	if now == nil {
		now = time.Now
	}
	return &FailureDetector{
		config:   cfg,
		store:    store,
		cooldown: cooldown,
		instr:    newInstrumentation(logger, metrics),
		now:      now,
	}, nil
}

// Evaluate counts failed entries newest first until the most recent success.
// The scan is bounded by the configured lookback rows and window.
func (d *FailureDetector) Evaluate(ctx context.Context, provider string, event string) (FailureEvaluation, error) {
	startedAt := time.Now()
	evaluation, err := d.evaluate(ctx, provider, event)
	d.instr.observeOperation(ctx, startedAt, "evaluate_failures", err, map[string]any{
		"provider":      normalizeProvider(provider),
		"event":         strings.TrimSpace(event),
		"failure_count": evaluation.FailureCount,
		"should_notify": evaluation.ShouldNotify,
	})
	return evaluation, err
}

func (d *FailureDetector) evaluate(ctx context.Context, provider string, event string) (FailureEvaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	provider = normalizeProvider(provider)
	event = strings.TrimSpace(event)
	evaluation := FailureEvaluation{
		Provider:  provider,
		Event:     event,
		Threshold: d.threshold(),
	}

	lookback := d.config.Lookback
	if lookback <= 0 {
		lookback = defaultDetectorLookback
	}
	var since *time.Time
	if window := d.config.Window(); window > 0 {
		from := d.now().UTC().Add(-window)
		since = &from
	}
	entries, err := d.store.Recent(ctx, provider, event, lookback, since)
	if err != nil {
		return evaluation, NewStorageError(err, "Webhook failure history lookup failed")
	}
	for i := range entries {
		if !entries[i].Failed() {
			break
		}
		if evaluation.LastFailure == nil {
			last := cloneEntry(entries[i])
			evaluation.LastFailure = &last
		}
		evaluation.FailureCount++
	}

	until, active, err := d.cooldown.Until(ctx, CooldownKey(provider, event))
	if err != nil {
		return evaluation, NewStorageError(err, "Webhook notification cooldown lookup failed")
	}
	if active {
		evaluation.CooldownActive = true
		evaluation.CooldownUntil = &until
	}
	evaluation.ShouldNotify = evaluation.FailureCount > 0 &&
		evaluation.FailureCount >= evaluation.Threshold &&
		!evaluation.CooldownActive
	return evaluation, nil
}

// MarkNotificationSent starts or refreshes the cooldown for the pair.
func (d *FailureDetector) MarkNotificationSent(ctx context.Context, provider string, event string) error {
	if err := d.cooldown.Set(ctx, CooldownKey(provider, event), d.config.Cooldown()); err != nil {
		return NewStorageError(err, "Webhook notification cooldown update failed")
	}
	return nil
}

func (d *FailureDetector) ClearCooldown(ctx context.Context, provider string, event string) error {
	if err := d.cooldown.Clear(ctx, CooldownKey(provider, event)); err != nil {
		return NewStorageError(err, "Webhook notification cooldown clear failed")
	}
	d.instr.logInfo(ctx, "webhook notification cooldown cleared", map[string]any{
		"provider": normalizeProvider(provider),
		"event":    strings.TrimSpace(event),
	})
	return nil
}

// TryAcquireCooldown claims the cooldown for the pair. It returns false when
// another caller already holds it.
func (d *FailureDetector) TryAcquireCooldown(ctx context.Context, provider string, event string) (bool, error) {
	acquired, err := d.cooldown.TryAcquire(ctx, CooldownKey(provider, event), d.config.Cooldown())
	if err != nil {
		return false, NewStorageError(err, "Webhook notification cooldown update failed")
	}
	return acquired, nil
}

func (d *FailureDetector) threshold() int {
	if d.config.FailureThreshold <= 0 {
		return 1
	}
	return d.config.FailureThreshold
}
