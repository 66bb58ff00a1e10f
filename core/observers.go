package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventValidationSucceeded = "webhook.validation.succeeded"
	EventValidationFailed    = "webhook.validation.failed"
	EventValidationDuplicate = "webhook.validation.duplicate"
	EventRetriesExhausted    = "webhook.retries.exhausted"
	EventRetryScheduled      = "webhook.retry.scheduled"
	EventNotificationSent    = "webhook.notification.sent"
)

type Event struct {
	ID         string
	Name       string
	Provider   string
	Event      string
	Attempt    int
	ExternalID string
	EntryID    string
	Error      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ObserverRegistry fans events out to named observers in name order.
type ObserverRegistry struct {
	mu        sync.RWMutex
	observers map[string]EventObserver
	order     []string
}

func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{
		observers: make(map[string]EventObserver),
		order:     make([]string, 0),
	}
}

func (r *ObserverRegistry) Register(name string, observer EventObserver) {
	if r == nil || observer == nil {
		return
	}
	key := strings.TrimSpace(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observers == nil {
		r.observers = make(map[string]EventObserver)
	}
	if _, exists := r.observers[key]; !exists {
		r.order = append(r.order, key)
		sort.Strings(r.order)
	}
	r.observers[key] = observer
}

func (r *ObserverRegistry) Observers() []EventObserver {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventObserver, 0, len(r.order))
	for _, key := range r.order {
		if observer := r.observers[key]; observer != nil {
			out = append(out, observer)
		}
	}
	return out
}

// Emit delivers event to every observer and returns the failures keyed by
// observer position. Observer failures never stop delivery to the rest.
func (r *ObserverRegistry) Emit(ctx context.Context, event Event) []error {
	if r == nil {
		return nil
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	var failures []error
	for _, observer := range r.Observers() {
		if err := observer.Observe(ctx, cloneEvent(event)); err != nil {
			failures = append(failures, err)
		}
	}
	return failures
}

func cloneEvent(event Event) Event {
	cloned := event
	cloned.Metadata = cloneAnyMap(event.Metadata)
	return cloned
}
