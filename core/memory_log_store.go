package core

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 500
)

// MemoryWebhookLogStore is an append-only in-process log. The unique indexes
// over (provider, external_id) and attempt_key are checked under the same lock
// as the insert.
type MemoryWebhookLogStore struct {
	mu      sync.RWMutex
	entries  []WebhookLogEntry
	unique   map[string]int
	attempts map[string]struct{}
	now      func() time.Time
}

func NewMemoryWebhookLogStore() *MemoryWebhookLogStore {
	return &MemoryWebhookLogStore{
		unique:   map[string]int{},
		attempts: map[string]struct{}{},
		now:      time.Now,
	}
}

func (s *MemoryWebhookLogStore) Append(_ context.Context, entry WebhookLogEntry) (WebhookLogEntry, error) {
	entry.Provider = normalizeProvider(entry.Provider)
	entry.ExternalID = strings.TrimSpace(entry.ExternalID)
	entry.AttemptKey = strings.TrimSpace(entry.AttemptKey)
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	entry.UpdatedAt = entry.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unique == nil {
		s.unique = map[string]int{}
	}
	if s.attempts == nil {
		s.attempts = map[string]struct{}{}
	}
	var key string
	if entry.ExternalID != "" {
		key = uniqueLogKey(entry.Provider, entry.ExternalID)
		if _, exists := s.unique[key]; exists {
			return WebhookLogEntry{}, ErrDuplicateExternalID
		}
	}
	if entry.AttemptKey != "" {
		if _, exists := s.attempts[entry.AttemptKey]; exists {
			return WebhookLogEntry{}, ErrDuplicateAttempt
		}
		s.attempts[entry.AttemptKey] = struct{}{}
	}
	if key != "" {
		s.unique[key] = len(s.entries)
	}
	stored := cloneEntry(entry)
	s.entries = append(s.entries, stored)
	return cloneEntry(stored), nil
}

func (s *MemoryWebhookLogStore) ExistsByExternalID(_ context.Context, provider string, externalID string) (bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.unique[uniqueLogKey(normalizeProvider(provider), externalID)]
	return exists, nil
}

func (s *MemoryWebhookLogStore) FindByExternalID(_ context.Context, provider string, externalID string) (WebhookLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, exists := s.unique[uniqueLogKey(normalizeProvider(provider), strings.TrimSpace(externalID))]
	if !exists {
		return WebhookLogEntry{}, ErrLogEntryNotFound
	}
	return cloneEntry(s.entries[index]), nil
}

func (s *MemoryWebhookLogStore) List(_ context.Context, filter LogFilter) (LogPage, error) {
	page, perPage := normalizePaging(filter.Page, filter.PerPage)

	s.mu.RLock()
	matched := make([]WebhookLogEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if matchesLogFilter(s.entries[i], filter) {
			matched = append(matched, s.entries[i])
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(matched)

	total := len(matched)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	items := make([]WebhookLogEntry, 0, end-start)
	for _, entry := range matched[start:end] {
		items = append(items, cloneEntry(entry))
	}
	result := LogPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: end < total,
	}
	if result.HasNext {
		result.NextCursor = strconv.Itoa(page + 1)
	}
	return result, nil
}

func (s *MemoryWebhookLogStore) Recent(
	_ context.Context,
	provider string,
	event string,
	limit int,
	since *time.Time,
) ([]WebhookLogEntry, error) {
	provider = normalizeProvider(provider)
	event = strings.TrimSpace(event)
	s.mu.RLock()
	matched := make([]WebhookLogEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if entry.Provider != provider || entry.Event != event {
			continue
		}
		if since != nil && entry.CreatedAt.Before(*since) {
			continue
		}
		matched = append(matched, cloneEntry(entry))
	}
	s.mu.RUnlock()
	sortNewestFirst(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Prune drops entries older than policy.TTL and then the oldest entries
// above policy.RowCap.
func (s *MemoryWebhookLogStore) Prune(_ context.Context, policy RetentionPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.entries)
	kept := s.entries[:0:0]
	if policy.TTL > 0 {
		cutoff := s.now().UTC().Add(-policy.TTL)
		for _, entry := range s.entries {
			if entry.CreatedAt.Before(cutoff) {
				continue
			}
			kept = append(kept, entry)
		}
	} else {
		kept = append(kept, s.entries...)
	}
	if policy.RowCap > 0 && len(kept) > policy.RowCap {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].CreatedAt.Before(kept[j].CreatedAt)
		})
		kept = kept[len(kept)-policy.RowCap:]
	}
	s.entries = kept
	s.unique = map[string]int{}
	s.attempts = map[string]struct{}{}
	for i, entry := range s.entries {
		if entry.ExternalID != "" {
			s.unique[uniqueLogKey(entry.Provider, entry.ExternalID)] = i
		}
		if entry.AttemptKey != "" {
			s.attempts[entry.AttemptKey] = struct{}{}
		}
	}
	return before - len(s.entries), nil
}

func (s *MemoryWebhookLogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matchesLogFilter(entry WebhookLogEntry, filter LogFilter) bool {
	if provider := normalizeProvider(filter.Provider); provider != "" && entry.Provider != provider {
		return false
	}
	if filter.Status != "" && entry.Status != filter.Status {
		return false
	}
	if event := strings.TrimSpace(filter.Event); event != "" && entry.Event != event {
		return false
	}
	if filter.Attempt != nil && entry.Attempt != *filter.Attempt {
		return false
	}
	if externalID := strings.TrimSpace(filter.ExternalID); externalID != "" && entry.ExternalID != externalID {
		return false
	}
	if filter.CreatedFrom != nil && entry.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedUntil != nil && entry.CreatedAt.After(*filter.CreatedUntil) {
		return false
	}
	return true
}

func sortNewestFirst(entries []WebhookLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// NormalizeLogPaging clamps page and per-page values for LogFilter queries.
func NormalizeLogPaging(page int, perPage int) (int, int) {
	return normalizePaging(page, perPage)
}

func normalizePaging(page int, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultLogPageSize
	}
	if perPage > maxLogPageSize {
		perPage = maxLogPageSize
	}
	return page, perPage
}

func uniqueLogKey(provider string, externalID string) string {
	return provider + "\x00" + externalID
}
