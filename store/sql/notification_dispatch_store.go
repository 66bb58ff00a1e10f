package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhook-guard/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NotificationDispatchStore records one row per channel dispatch attempt.
type NotificationDispatchStore struct {
	repo repository.Repository[*notificationDispatchRecord]
	now  func() time.Time
}

func NewNotificationDispatchStore(db *bun.DB) (*NotificationDispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationDispatchRecord](db, notificationDispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification dispatch repository wiring: %w", err)
		}
	}
	return &NotificationDispatchStore{repo: repo, now: time.Now}, nil
}

func (s *NotificationDispatchStore) Record(ctx context.Context, input core.NotificationDispatchRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}
	provider := core.NormalizeProvider(input.Provider)
	if provider == "" {
		return fmt.Errorf("sqlstore: provider is required")
	}
	if strings.TrimSpace(input.Event) == "" {
		return fmt.Errorf("sqlstore: event is required")
	}
	if strings.TrimSpace(input.Channel) == "" {
		return fmt.Errorf("sqlstore: channel is required")
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = core.DispatchStatusSent
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	recipients := append([]string{}, input.Recipients...)
	record := &notificationDispatchRecord{
		ID:           id,
		Provider:     provider,
		Event:        strings.TrimSpace(input.Event),
		Channel:      strings.TrimSpace(input.Channel),
		Status:       status,
		Recipients:   recipients,
		FailureCount: input.FailureCount,
		Error:        strings.TrimSpace(input.Error),
		Metadata:     copyAnyMap(input.Metadata),
		CreatedAt:    createdAt.UTC(),
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

// ListByPair returns dispatch rows for (provider, event), newest first.
func (s *NotificationDispatchStore) ListByPair(
	ctx context.Context,
	provider string,
	event string,
	limit int,
) ([]core.NotificationDispatchRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: notification dispatch store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", core.NormalizeProvider(provider)),
		repository.SelectBy("event", "=", strings.TrimSpace(event)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.NotificationDispatchRecord, 0, len(records))
	for _, record := range records {
		out = append(out, core.NotificationDispatchRecord{
			ID:           record.ID,
			Provider:     record.Provider,
			Event:        record.Event,
			Channel:      record.Channel,
			Recipients:   append([]string{}, record.Recipients...),
			FailureCount: record.FailureCount,
			Status:       record.Status,
			Error:        record.Error,
			Metadata:     copyAnyMap(record.Metadata),
			CreatedAt:    record.CreatedAt.UTC(),
		})
	}
	return out, nil
}
