// Package redisstore keeps notification cooldown deadlines in Redis so that
// every process behind a load balancer shares one suppression window.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "go-webhook-guard:cooldown:"

// CooldownStore stores the deadline in unix milliseconds under a key that
// expires with it. TryAcquire relies on SET NX so concurrent processes race
// on Redis rather than in memory.
type CooldownStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

type Option func(*CooldownStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *CooldownStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CooldownStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewCooldownStore(client redis.Cmdable, opts ...Option) (*CooldownStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &CooldownStore{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// NewClient builds a client from an address and verifies the connection.
func NewClient(ctx context.Context, addr string, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redisstore: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *CooldownStore) Key(key string) string {
	return s.prefix + strings.TrimSpace(key)
}

func (s *CooldownStore) Until(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return time.Time{}, false, nil
	}
	raw, err := s.client.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redisstore: invalid cooldown value for %q: %w", key, err)
	}
	until := time.UnixMilli(millis).UTC()
	if !until.After(s.now().UTC()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *CooldownStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return false, nil
	}
	if ttl <= 0 {
		if _, active, err := s.Until(ctx, key); err != nil || active {
			return false, err
		}
		return true, s.Clear(ctx, key)
	}
	until := s.now().UTC().Add(ttl)
	return s.client.SetNX(ctx, s.Key(key), strconv.FormatInt(until.UnixMilli(), 10), ttl).Result()
}

func (s *CooldownStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return nil
	}
	if ttl <= 0 {
		return s.Clear(ctx, key)
	}
	until := s.now().UTC().Add(ttl)
	return s.client.Set(ctx, s.Key(key), strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
}

func (s *CooldownStore) Clear(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if s == nil || key == "" {
		return nil
	}
	return s.client.Del(ctx, s.Key(key)).Err()
}

var _ core.CooldownStore = (*CooldownStore)(nil)
