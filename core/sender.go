package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	LogChannelName = "log"

	DispatchStatusSent   = "sent"
	DispatchStatusFailed = "failed"
)

// NotificationSender turns a failure evaluation into at most one dispatch per
// cooldown window.
type NotificationSender struct {
	config    NotificationsConfig
	detector  *FailureDetector
	notifier  Notifier
	ledger    NotificationLedger
	observers *ObserverRegistry
	instr     instrumentation
	now       func() time.Time
}

type SenderDependencies struct {
	Detector  *FailureDetector
	Notifier  Notifier
	Ledger    NotificationLedger
	Observers *ObserverRegistry
	Logger    Logger
	Metrics   MetricsRecorder
	Now       func() time.Time
}

func NewNotificationSender(cfg NotificationsConfig, deps SenderDependencies) (*NotificationSender, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("core: notification sender requires a failure detector")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("core: notification sender requires a notifier")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &NotificationSender{
		config:    cfg,
		detector:  deps.Detector,
		notifier:  deps.Notifier,
		ledger:    deps.Ledger,
		observers: deps.Observers,
		instr:     newInstrumentation(deps.Logger, deps.Metrics),
		now:       now,
	}, nil
}

func (s *NotificationSender) NotifyIfNeeded(ctx context.Context, provider string, event string) (NotificationDecision, error) {
	startedAt := time.Now()
	decision, err := s.notifyIfNeeded(ctx, provider, event)
	s.instr.observeOperation(ctx, startedAt, "notify_if_needed", err, map[string]any{
		"provider":      normalizeProvider(provider),
		"event":         strings.TrimSpace(event),
		"reason":        string(decision.Reason),
		"failure_count": decision.Evaluation.FailureCount,
	})
	return decision, err
}

func (s *NotificationSender) notifyIfNeeded(ctx context.Context, provider string, event string) (NotificationDecision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	provider = normalizeProvider(provider)
	event = strings.TrimSpace(event)
	if !s.config.Enabled {
		return NotificationDecision{
			Reason:     NotificationDisabled,
			Evaluation: FailureEvaluation{Provider: provider, Event: event},
		}, nil
	}

	evaluation, err := s.detector.Evaluate(ctx, provider, event)
	if err != nil {
		return NotificationDecision{Evaluation: evaluation}, err
	}
	decision := NotificationDecision{Evaluation: evaluation}
	if evaluation.CooldownActive {
		decision.Reason = NotificationCooldownActive
		return decision, nil
	}
	if !evaluation.ShouldNotify {
		decision.Reason = NotificationBelowThreshold
		return decision, nil
	}

	notification := s.buildNotification(evaluation)
	if len(notification.Channels) == 0 {
		decision.Reason = NotificationNoChannels
		return decision, nil
	}
	decision.Notification = &notification

	acquired, err := s.detector.TryAcquireCooldown(ctx, provider, event)
	if err != nil {
		return decision, err
	}
	if !acquired {
		decision.Reason = NotificationCooldownActive
		return decision, nil
	}

	records, dispatchErr := s.notifier.Notify(ctx, notification)
	s.recordDispatches(ctx, records)
	if dispatchErr != nil {
		if clearErr := s.detector.ClearCooldown(ctx, provider, event); clearErr != nil {
			s.instr.logError(ctx, "webhook notification cooldown release failed", map[string]any{
				"provider": provider,
				"event":    event,
				"error":    clearErr.Error(),
			})
		}
		decision.Reason = NotificationDispatchFailed
		return decision, dispatchErr
	}

	if err := s.detector.MarkNotificationSent(ctx, provider, event); err != nil {
		return decision, err
	}
	decision.Sent = true
	decision.Reason = NotificationSent
	s.emitSent(ctx, notification, records)
	return decision, nil
}

func (s *NotificationSender) buildNotification(evaluation FailureEvaluation) FailureNotification {
	notification := FailureNotification{
		Provider:     evaluation.Provider,
		Event:        evaluation.Event,
		FailureCount: evaluation.FailureCount,
		Timestamp:    s.now().UTC(),
		DashboardURL: strings.TrimSpace(s.config.DashboardURL),
		Channels:     normalizeNames(s.config.Channels),
		Recipients:   normalizeNames(s.config.Recipients),
	}
	if evaluation.LastFailure != nil {
		notification.LastError = evaluation.LastFailure.ErrorMessage
		notification.LastErrorAt = evaluation.LastFailure.CreatedAt
	}
	return notification
}

func (s *NotificationSender) recordDispatches(ctx context.Context, records []NotificationDispatchRecord) {
	if s.ledger == nil {
		return
	}
	for _, record := range records {
		if err := s.ledger.Record(ctx, record); err != nil {
			s.instr.logWarn(ctx, "webhook notification ledger write failed", map[string]any{
				"provider": record.Provider,
				"channel":  record.Channel,
				"error":    err.Error(),
			})
		}
	}
}

func (s *NotificationSender) emitSent(ctx context.Context, notification FailureNotification, records []NotificationDispatchRecord) {
	if s.observers == nil {
		return
	}
	channels := make([]string, 0, len(records))
	for _, record := range records {
		if record.Status == DispatchStatusSent {
			channels = append(channels, record.Channel)
		}
	}
	event := Event{
		Name:       EventNotificationSent,
		Provider:   notification.Provider,
		Event:      notification.Event,
		Error:      notification.LastError,
		OccurredAt: notification.Timestamp,
		Metadata: map[string]any{
			"failure_count": notification.FailureCount,
			"channels":      channels,
			"recipients":    append([]string(nil), notification.Recipients...),
		},
	}
	for _, err := range s.observers.Emit(ctx, event) {
		s.instr.logWarn(ctx, "webhook observer failed", map[string]any{
			"event_name": event.Name,
			"provider":   event.Provider,
			"error":      err.Error(),
		})
	}
}

// ChannelNotifier routes a notification to every named channel it lists.
// Delivery succeeds when at least one channel accepted it.
type ChannelNotifier struct {
	mu       sync.RWMutex
	channels map[string]NotificationChannel
	now      func() time.Time
}

func NewChannelNotifier(channels ...NotificationChannel) *ChannelNotifier {
	notifier := &ChannelNotifier{channels: map[string]NotificationChannel{}, now: time.Now}
	for _, channel := range channels {
		notifier.Register(channel)
	}
	return notifier
}

func (n *ChannelNotifier) Register(channel NotificationChannel) {
	if n == nil || channel == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(channel.Name()))
	if name == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.channels == nil {
		n.channels = map[string]NotificationChannel{}
	}
	n.channels[name] = channel
}

func (n *ChannelNotifier) Channels() []string {
	if n == nil {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.channels))
	for name := range n.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *ChannelNotifier) Notify(ctx context.Context, notification FailureNotification) ([]NotificationDispatchRecord, error) {
	if n == nil {
		return nil, fmt.Errorf("core: channel notifier is nil")
	}
	records := make([]NotificationDispatchRecord, 0, len(notification.Channels))
	var failures []error
	delivered := 0
	for _, name := range notification.Channels {
		name = strings.ToLower(strings.TrimSpace(name))
		record := NotificationDispatchRecord{
			ID:           uuid.NewString(),
			Provider:     notification.Provider,
			Event:        notification.Event,
			Channel:      name,
			Recipients:   append([]string(nil), notification.Recipients...),
			FailureCount: notification.FailureCount,
			Status:       DispatchStatusSent,
			CreatedAt:    n.now().UTC(),
		}
		n.mu.RLock()
		channel, ok := n.channels[name]
		n.mu.RUnlock()

		var err error
		if !ok {
			err = fmt.Errorf("core: notification channel %q is not registered", name)
		} else {
			err = channel.Send(ctx, notification)
		}
		if err != nil {
			record.Status = DispatchStatusFailed
			record.Error = err.Error()
			failures = append(failures, err)
		} else {
			delivered++
		}
		records = append(records, record)
	}
	if delivered == 0 {
		if len(failures) == 0 {
			return records, fmt.Errorf("core: no notification channels configured")
		}
		return records, errors.Join(failures...)
	}
	return records, nil
}

// LogChannel writes notifications to the structured logger.
type LogChannel struct {
	Logger Logger
}

func (LogChannel) Name() string {
	return LogChannelName
}

func (c LogChannel) Send(ctx context.Context, notification FailureNotification) error {
	instr := newInstrumentation(c.Logger, nil)
	instr.logWarn(ctx, "webhook failure threshold reached", map[string]any{
		"provider":      notification.Provider,
		"event":         notification.Event,
		"failure_count": notification.FailureCount,
		"last_error":    notification.LastError,
		"last_error_at": notification.LastErrorAt,
		"dashboard_url": notification.DashboardURL,
		"recipients":    notification.Recipients,
	})
	return nil
}

type MemoryNotificationLedger struct {
	mu      sync.Mutex
	records []NotificationDispatchRecord
}

func NewMemoryNotificationLedger() *MemoryNotificationLedger {
	return &MemoryNotificationLedger{}
}

func (l *MemoryNotificationLedger) Record(_ context.Context, record NotificationDispatchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record.Recipients = append([]string(nil), record.Recipients...)
	record.Metadata = cloneAnyMap(record.Metadata)
	l.records = append(l.records, record)
	return nil
}

func (l *MemoryNotificationLedger) Records() []NotificationDispatchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]NotificationDispatchRecord(nil), l.records...)
}

func normalizeNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}
