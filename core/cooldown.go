package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrCooldownCapacity is returned when a new key would exceed MaxEntries
// while every tracked cooldown is still active.
var ErrCooldownCapacity = errors.New("core: cooldown store at capacity")

type MemoryCooldownOptions struct {
	MaxEntries int
	Now        func() time.Time
}

// MemoryCooldownStore keeps cooldown deadlines in process. All operations
// hold a single mutex so TryAcquire is a compare-and-set. Only expired
// deadlines are evicted; a full store refuses new keys.
type MemoryCooldownStore struct {
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryCooldownStore(opts ...MemoryCooldownOptions) *MemoryCooldownStore {
	var options MemoryCooldownOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	maxEntries := options.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryCooldownStore{
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (s *MemoryCooldownStore) Until(_ context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return time.Time{}, false, nil
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.entries[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !until.After(now) {
		delete(s.entries, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *MemoryCooldownStore) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return false, nil
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.entries[key]; ok && until.After(now) {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return true, nil
	}
	if err := s.admit(key, now); err != nil {
		return false, err
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryCooldownStore) Set(_ context.Context, key string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return nil
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	if err := s.admit(key, now); err != nil {
		return err
	}
	s.entries[key] = now.Add(ttl)
	return nil
}

func (s *MemoryCooldownStore) Clear(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return nil
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// admit makes room for key by dropping expired deadlines. Tracked keys are
// always admitted.
func (s *MemoryCooldownStore) admit(key string, now time.Time) error {
	if _, tracked := s.entries[key]; tracked {
		return nil
	}
	if len(s.entries) < s.maxEntries {
		return nil
	}
	for existing, until := range s.entries {
		if !until.After(now) {
			delete(s.entries, existing)
		}
	}
	if len(s.entries) >= s.maxEntries {
		return ErrCooldownCapacity
	}
	return nil
}

// CooldownKey is the store key for a (provider, event) pair.
func CooldownKey(provider string, event string) string {
	return normalizeProvider(provider) + ":" + strings.TrimSpace(event)
}
