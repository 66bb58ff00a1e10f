package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhook-guard/core"
)

const webhookLogCacheKeyPrefix = "go-webhook-guard::webhook_log::v1"

// LogStore is the persistence contract wrapped by CachedWebhookLogStore.
type LogStore interface {
	core.WebhookLogStore
	core.WebhookLogPruner
}

// CachedWebhookLogStore serves external id lookups from a read-through
// cache. Log rows are immutable, so a cached hit stays valid until the row
// is pruned; misses are never cached.
type CachedWebhookLogStore struct {
	base  LogStore
	cache repositorycache.CacheService

	mu     sync.Mutex
	cached map[string]struct{}
}

func NewCachedWebhookLogStore(
	base LogStore,
	cacheService repositorycache.CacheService,
) (*CachedWebhookLogStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook log store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook log cache service is required")
	}
	return &CachedWebhookLogStore{
		base:   base,
		cache:  cacheService,
		cached: map[string]struct{}{},
	}, nil
}

// WebhookLogCacheKey returns the cache key for an external id lookup:
// go-webhook-guard::webhook_log::v1::<provider>::<external_id> with each
// segment URL-path escaped after normalization.
func WebhookLogCacheKey(provider string, externalID string) (string, error) {
	provider = core.NormalizeProvider(provider)
	externalID = strings.TrimSpace(externalID)
	if provider == "" || externalID == "" {
		return "", fmt.Errorf("sqlstore: provider and external id are required for cache key")
	}
	segments := []string{url.PathEscape(provider), url.PathEscape(externalID)}
	return strings.Join(append([]string{webhookLogCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedWebhookLogStore) Append(ctx context.Context, entry core.WebhookLogEntry) (core.WebhookLogEntry, error) {
	if s == nil || s.base == nil {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: cached webhook log store is not configured")
	}
	return s.base.Append(ctx, entry)
}

func (s *CachedWebhookLogStore) ExistsByExternalID(ctx context.Context, provider string, externalID string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, nil
	}
	_, err := s.FindByExternalID(ctx, provider, externalID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrLogEntryNotFound) {
		return false, nil
	}
	return false, err
}

func (s *CachedWebhookLogStore) FindByExternalID(ctx context.Context, provider string, externalID string) (core.WebhookLogEntry, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookLogEntry{}, fmt.Errorf("sqlstore: cached webhook log store is not configured")
	}
	cacheKey, err := WebhookLogCacheKey(provider, externalID)
	if err != nil {
		return core.WebhookLogEntry{}, core.ErrLogEntryNotFound
	}
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.WebhookLogEntry, error) {
		return s.base.FindByExternalID(ctx, provider, externalID)
	})
	if err != nil {
		return core.WebhookLogEntry{}, err
	}
	s.mu.Lock()
	s.cached[cacheKey] = struct{}{}
	s.mu.Unlock()
	return cloneLogEntry(entry), nil
}

func (s *CachedWebhookLogStore) List(ctx context.Context, filter core.LogFilter) (core.LogPage, error) {
	if s == nil || s.base == nil {
		return core.LogPage{}, fmt.Errorf("sqlstore: cached webhook log store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedWebhookLogStore) Recent(
	ctx context.Context,
	provider string,
	event string,
	limit int,
	since *time.Time,
) ([]core.WebhookLogEntry, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook log store is not configured")
	}
	return s.base.Recent(ctx, provider, event, limit, since)
}

// Prune deletes through the base store and then evicts every lookup this
// store has cached, since the removed external ids are not known individually.
func (s *CachedWebhookLogStore) Prune(ctx context.Context, policy core.RetentionPolicy) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached webhook log store is not configured")
	}
	deleted, err := s.base.Prune(ctx, policy)
	if err != nil {
		return deleted, err
	}
	if deleted == 0 {
		return 0, nil
	}
	s.mu.Lock()
	keys := make([]string, 0, len(s.cached))
	for key := range s.cached {
		keys = append(keys, key)
	}
	s.cached = map[string]struct{}{}
	s.mu.Unlock()
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func cloneLogEntry(entry core.WebhookLogEntry) core.WebhookLogEntry {
	cloned := entry
	cloned.Payload = copyAnyMap(entry.Payload)
	return cloned
}
