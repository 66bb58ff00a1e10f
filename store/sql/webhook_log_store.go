package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-webhook-guard/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookLogStore persists webhook log entries in webhook_logs. Rows are
// insert only; the partial unique indexes on (provider, external_id) and
// attempt_key are the source of truth for deduplication.
type WebhookLogStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookLogRecord]
	now  func() time.Time
}

func NewWebhookLogStore(db *bun.DB) (*WebhookLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookLogRecord](db, webhookLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook log repository wiring: %w", err)
		}
	}
	return &WebhookLogStore{
		db:   db,
		repo: repo,
		now:  time.Now,
	}, nil
}

func (s *WebhookLogStore) Append(ctx context.Context, entry core.WebhookLogEntry) (core.WebhookLogEntry, error) {
	if s == nil || s.db == nil {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	entry.Provider = core.NormalizeProvider(entry.Provider)
	if entry.Provider == "" {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: provider is required")
	}
	if entry.Status != core.LogStatusSuccess && entry.Status != core.LogStatusFailed {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: invalid log status %q", entry.Status)
	}
	if entry.Status == core.LogStatusFailed && strings.TrimSpace(entry.ErrorMessage) == "" {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: failed entries require an error message")
	}
	if entry.Attempt < 0 {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: attempt must be non-negative")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if strings.TrimSpace(entry.Event) == "" {
		entry.Event = "unknown"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.CreatedAt
	entry.ExternalID = strings.TrimSpace(entry.ExternalID)
	entry.AttemptKey = strings.TrimSpace(entry.AttemptKey)

	record := webhookLogFromDomain(entry)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) && isAttemptKeyViolation(err) {
			return core.WebhookLogEntry{}, fmt.Errorf(
				"sqlstore: webhook log for attempt key %q: %w",
				entry.AttemptKey,
				core.ErrDuplicateAttempt,
			)
		}
		if isUniqueViolation(err) {
			return core.WebhookLogEntry{}, fmt.Errorf(
				"sqlstore: webhook log for provider %q external id %q: %w",
				entry.Provider,
				entry.ExternalID,
				core.ErrDuplicateExternalID,
			)
		}
		return core.WebhookLogEntry{}, err
	}
	return webhookLogToDomain(record), nil
}

func (s *WebhookLogStore) ExistsByExternalID(ctx context.Context, provider string, externalID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	return s.db.NewSelect().
		Model((*webhookLogRecord)(nil)).
		Where("?TableAlias.provider = ?", core.NormalizeProvider(provider)).
		Where("?TableAlias.external_id = ?", externalID).
		Exists(ctx)
}

func (s *WebhookLogStore) FindByExternalID(ctx context.Context, provider string, externalID string) (core.WebhookLogEntry, error) {
	if s == nil || s.db == nil {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return core.WebhookLogEntry{}, core.ErrLogEntryNotFound
	}
	record := &webhookLogRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", core.NormalizeProvider(provider)).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookLogEntry{}, core.ErrLogEntryNotFound
		}
		return core.WebhookLogEntry{}, err
	}
	return webhookLogToDomain(record), nil
}

func (s *WebhookLogStore) List(ctx context.Context, filter core.LogFilter) (core.LogPage, error) {
	if s == nil || s.repo == nil {
		return core.LogPage{}, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	page, perPage := core.NormalizeLogPaging(filter.Page, filter.PerPage)
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.OrderBy("attempt DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if provider := core.NormalizeProvider(filter.Provider); provider != "" {
		selectors = append(selectors, repository.SelectBy("provider", "=", provider))
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if event := strings.TrimSpace(filter.Event); event != "" {
		selectors = append(selectors, repository.SelectBy("event", "=", event))
	}
	if externalID := strings.TrimSpace(filter.ExternalID); externalID != "" {
		selectors = append(selectors, repository.SelectBy("external_id", "=", externalID))
	}
	if filter.Attempt != nil {
		attempt := *filter.Attempt
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.attempt = ?", attempt)
		}))
	}
	if filter.CreatedFrom != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.CreatedFrom.UTC()))
	}
	if filter.CreatedUntil != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.CreatedUntil.UTC()))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.LogPage{}, err
	}
	items := make([]core.WebhookLogEntry, 0, len(records))
	for _, record := range records {
		items = append(items, webhookLogToDomain(record))
	}
	hasNext := offset+len(items) < total
	nextCursor := ""
	if hasNext {
		nextCursor = strconv.Itoa(page + 1)
	}
	return core.LogPage{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		HasNext:    hasNext,
		NextCursor: nextCursor,
	}, nil
}

func (s *WebhookLogStore) Recent(
	ctx context.Context,
	provider string,
	event string,
	limit int,
	since *time.Time,
) ([]core.WebhookLogEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	records := make([]*webhookLogRecord, 0)
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.provider = ?", core.NormalizeProvider(provider)).
		Where("?TableAlias.event = ?", strings.TrimSpace(event)).
		OrderExpr("?TableAlias.created_at DESC").
		OrderExpr("?TableAlias.attempt DESC")
	if since != nil {
		query = query.Where("?TableAlias.created_at >= ?", since.UTC())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []core.WebhookLogEntry{}, nil
		}
		return nil, err
	}
	out := make([]core.WebhookLogEntry, 0, len(records))
	for _, record := range records {
		out = append(out, webhookLogToDomain(record))
	}
	return out, nil
}

// Prune deletes rows older than policy.TTL, then the oldest rows above
// policy.RowCap.
func (s *WebhookLogStore) Prune(ctx context.Context, policy core.RetentionPolicy) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	deleted := 0

	if policy.TTL > 0 {
		cutoff := s.now().UTC().Add(-policy.TTL)
		res, err := s.db.NewDelete().
			Model((*webhookLogRecord)(nil)).
			Where("created_at < ?", cutoff).
			Exec(ctx)
		if err != nil {
			return deleted, err
		}
		affected, _ := res.RowsAffected()
		deleted += int(affected)
	}

	if policy.RowCap > 0 {
		total, err := s.db.NewSelect().Model((*webhookLogRecord)(nil)).Count(ctx)
		if err != nil {
			return deleted, err
		}
		excess := total - policy.RowCap
		if excess > 0 {
			res, err := s.db.NewRaw(
				"DELETE FROM webhook_logs WHERE id IN (SELECT id FROM webhook_logs ORDER BY created_at ASC LIMIT ?)",
				excess,
			).Exec(ctx)
			if err != nil {
				return deleted, err
			}
			affected, _ := res.RowsAffected()
			deleted += int(affected)
		}
	}

	return deleted, nil
}

func webhookLogFromDomain(entry core.WebhookLogEntry) *webhookLogRecord {
	record := &webhookLogRecord{
		ID:           entry.ID,
		Provider:     entry.Provider,
		Event:        entry.Event,
		Status:       string(entry.Status),
		Payload:      copyAnyMap(entry.Payload),
		ErrorMessage: strings.TrimSpace(entry.ErrorMessage),
		ErrorCode:    strings.TrimSpace(entry.ErrorCode),
		Attempt:      entry.Attempt,
		CreatedAt:    entry.CreatedAt,
		UpdatedAt:    entry.UpdatedAt,
	}
	if entry.ExternalID != "" {
		externalID := entry.ExternalID
		record.ExternalID = &externalID
	}
	if entry.AttemptKey != "" {
		attemptKey := entry.AttemptKey
		record.AttemptKey = &attemptKey
	}
	return record
}

func webhookLogToDomain(record *webhookLogRecord) core.WebhookLogEntry {
	if record == nil {
		return core.WebhookLogEntry{}
	}
	entry := core.WebhookLogEntry{
		ID:           record.ID,
		Provider:     record.Provider,
		Event:        record.Event,
		Status:       core.LogStatus(record.Status),
		Payload:      copyAnyMap(record.Payload),
		ErrorMessage: record.ErrorMessage,
		ErrorCode:    record.ErrorCode,
		Attempt:      record.Attempt,
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
	}
	if record.ExternalID != nil {
		entry.ExternalID = *record.ExternalID
	}
	if record.AttemptKey != nil {
		entry.AttemptKey = *record.AttemptKey
	}
	return entry
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

// isAttemptKeyViolation matches the postgres index name and the sqlite
// "webhook_logs.attempt_key" column reference.
func isAttemptKeyViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "attempt_key")
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
