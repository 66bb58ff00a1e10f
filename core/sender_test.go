package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type senderFixture struct {
	sender   *NotificationSender
	detector *FailureDetector
	store    *MemoryWebhookLogStore
	clock    *steppingClock
	channel  *recordingChannel
	ledger   *MemoryNotificationLedger
	observed *recordingObserver
}

func newSenderFixture(t *testing.T, cfg NotificationsConfig, channel *recordingChannel) senderFixture {
	t.Helper()
	detector, store, clock := newDetectorFixture(t, cfg)
	if channel == nil {
		channel = &recordingChannel{name: "mail"}
	}
	ledger := NewMemoryNotificationLedger()
	observed := &recordingObserver{}
	observers := NewObserverRegistry()
	observers.Register("recorder", observed)
	sender, err := NewNotificationSender(cfg, SenderDependencies{
		Detector:  detector,
		Notifier:  NewChannelNotifier(channel),
		Ledger:    ledger,
		Observers: observers,
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	return senderFixture{
		sender:   sender,
		detector: detector,
		store:    store,
		clock:    clock,
		channel:  channel,
		ledger:   ledger,
		observed: observed,
	}
}

func enabledNotifications() NotificationsConfig {
	return NotificationsConfig{
		Enabled:          true,
		Channels:         []string{"mail"},
		Recipients:       []string{"ops@example.com"},
		CooldownSeconds:  3600,
		FailureThreshold: 3,
		Lookback:         50,
		DashboardURL:     "https://ops.example.com/webhooks",
	}
}

func TestNotificationSender_DispatchesOnceThenCoolsDown(t *testing.T) {
	fx := newSenderFixture(t, enabledNotifications(), nil)
	seedEntries(t, fx.store, fx.clock, "stripe", "invoice.paid",
		LogStatusFailed, LogStatusFailed, LogStatusFailed, LogStatusFailed)
	ctx := context.Background()

	decision, err := fx.sender.NotifyIfNeeded(ctx, "stripe", "invoice.paid")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !decision.Sent || decision.Reason != NotificationSent {
		t.Fatalf("expected notification sent, got %#v", decision)
	}
	notification := decision.Notification
	if notification == nil || notification.FailureCount != 4 || notification.LastError != "failure 3" {
		t.Fatalf("unexpected notification payload: %#v", notification)
	}
	if notification.DashboardURL != "https://ops.example.com/webhooks" {
		t.Fatalf("expected dashboard reference, got %q", notification.DashboardURL)
	}
	if len(notification.Recipients) != 1 || notification.Recipients[0] != "ops@example.com" {
		t.Fatalf("expected recipients from config, got %#v", notification.Recipients)
	}
	if fx.channel.count() != 1 {
		t.Fatalf("expected one channel delivery, got %d", fx.channel.count())
	}
	records := fx.ledger.Records()
	if len(records) != 1 || records[0].Status != DispatchStatusSent || records[0].Channel != "mail" {
		t.Fatalf("expected sent ledger record, got %#v", records)
	}
	if fx.observed.count(EventNotificationSent) != 1 {
		t.Fatalf("expected notification sent event")
	}

	decision, err = fx.sender.NotifyIfNeeded(ctx, "stripe", "invoice.paid")
	if err != nil {
		t.Fatalf("second notify: %v", err)
	}
	if decision.Sent || decision.Reason != NotificationCooldownActive {
		t.Fatalf("expected cooldown to suppress, got %#v", decision)
	}
	if fx.channel.count() != 1 {
		t.Fatalf("expected no second delivery")
	}
}

func TestNotificationSender_Disabled(t *testing.T) {
	cfg := enabledNotifications()
	cfg.Enabled = false
	fx := newSenderFixture(t, cfg, nil)
	seedEntries(t, fx.store, fx.clock, "stripe", "x", LogStatusFailed, LogStatusFailed, LogStatusFailed)

	decision, err := fx.sender.NotifyIfNeeded(context.Background(), "stripe", "x")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if decision.Sent || decision.Reason != NotificationDisabled {
		t.Fatalf("expected disabled decision, got %#v", decision)
	}
	if fx.channel.count() != 0 {
		t.Fatalf("expected no delivery when disabled")
	}
}

func TestNotificationSender_BelowThreshold(t *testing.T) {
	fx := newSenderFixture(t, enabledNotifications(), nil)
	seedEntries(t, fx.store, fx.clock, "stripe", "x", LogStatusFailed)

	decision, err := fx.sender.NotifyIfNeeded(context.Background(), "stripe", "x")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if decision.Reason != NotificationBelowThreshold || decision.Evaluation.FailureCount != 1 {
		t.Fatalf("expected below threshold, got %#v", decision)
	}
}

func TestNotificationSender_DispatchFailureReleasesCooldown(t *testing.T) {
	channel := &recordingChannel{name: "mail", err: errors.New("smtp down")}
	fx := newSenderFixture(t, enabledNotifications(), channel)
	seedEntries(t, fx.store, fx.clock, "github", "push", LogStatusFailed, LogStatusFailed, LogStatusFailed)
	ctx := context.Background()

	decision, err := fx.sender.NotifyIfNeeded(ctx, "github", "push")
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if decision.Sent || decision.Reason != NotificationDispatchFailed {
		t.Fatalf("expected dispatch failed decision, got %#v", decision)
	}
	records := fx.ledger.Records()
	if len(records) != 1 || records[0].Status != DispatchStatusFailed || records[0].Error == "" {
		t.Fatalf("expected failed ledger record, got %#v", records)
	}

	evaluation, err := fx.detector.Evaluate(ctx, "github", "push")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if evaluation.CooldownActive {
		t.Fatalf("expected cooldown released after failed dispatch")
	}
}

func TestNotificationSender_ConcurrentCallersSendOnce(t *testing.T) {
	fx := newSenderFixture(t, enabledNotifications(), nil)
	seedEntries(t, fx.store, fx.clock, "slack", "app_mention",
		LogStatusFailed, LogStatusFailed, LogStatusFailed)

	var (
		wg   sync.WaitGroup
		sent atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := fx.sender.NotifyIfNeeded(context.Background(), "slack", "app_mention")
			if err != nil {
				t.Errorf("notify: %v", err)
				return
			}
			if decision.Sent {
				sent.Add(1)
			}
		}()
	}
	wg.Wait()
	if sent.Load() != 1 || fx.channel.count() != 1 {
		t.Fatalf("expected exactly one dispatch, got sent=%d deliveries=%d", sent.Load(), fx.channel.count())
	}
}

func TestChannelNotifier_PartialSuccessAndUnknownChannel(t *testing.T) {
	ok := &recordingChannel{name: "mail"}
	notifier := NewChannelNotifier(ok)

	records, err := notifier.Notify(context.Background(), FailureNotification{
		Provider:  "stripe",
		Event:     "x",
		Channels:  []string{"mail", "pager"},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("expected partial success to be accepted, got %v", err)
	}
	if len(records) != 2 || records[0].Status != DispatchStatusSent || records[1].Status != DispatchStatusFailed {
		t.Fatalf("unexpected dispatch records: %#v", records)
	}

	if _, err := notifier.Notify(context.Background(), FailureNotification{Channels: []string{"pager"}}); err == nil {
		t.Fatalf("expected error when no channel delivers")
	}
	if names := notifier.Channels(); len(names) != 1 || names[0] != "mail" {
		t.Fatalf("unexpected channel names: %#v", names)
	}
}

func TestNotificationSender_NoChannels(t *testing.T) {
	cfg := enabledNotifications()
	cfg.Channels = nil
	fx := newSenderFixture(t, cfg, nil)
	seedEntries(t, fx.store, fx.clock, "stripe", "x", LogStatusFailed, LogStatusFailed, LogStatusFailed)

	decision, err := fx.sender.NotifyIfNeeded(context.Background(), "stripe", "x")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if decision.Reason != NotificationNoChannels {
		t.Fatalf("expected no channels decision, got %#v", decision)
	}
}
