package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhook-guard/core"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
	BurstModeDebounce BurstMode = "debounce"
)

type BurstDecision struct {
	Allow      bool
	Mode       BurstMode
	Key        string
	RetryAfter time.Duration
}

// BurstController suppresses repeated deliveries that arrive inside a short
// window, such as a sender replaying the same delivery id in a tight loop.
type BurstController interface {
	Allow(ctx context.Context, delivery core.InboundDelivery, definition core.ProviderDefinition) (BurstDecision, error)
}

type BurstKeyExtractor func(delivery core.InboundDelivery, definition core.ProviderDefinition) (string, bool)

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	ExtractKey BurstKeyExtractor
	Now        func() time.Time
}

type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	extractKey BurstKeyExtractor
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	extractKey := opts.ExtractKey
	if extractKey == nil {
		extractKey = DefaultBurstKeyExtractor
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DefaultBurstController{
		mode:       ParseBurstMode(string(opts.Mode)),
		window:     window,
		maxEntries: maxEntries,
		extractKey: extractKey,
		now:        now,
		entries:    map[string]time.Time{},
	}
}

func (c *DefaultBurstController) Allow(
	_ context.Context,
	delivery core.InboundDelivery,
	definition core.ProviderDefinition,
) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key, ok := c.extractKey(delivery, definition)
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	lastSeen, exists := c.entries[key]
	c.cleanup(now)
	switch {
	case !exists, now.Sub(lastSeen) >= c.window:
		c.entries[key] = now
		return BurstDecision{Allow: true, Key: key}, nil
	case c.mode == BurstModeDebounce:
		// debounce pushes the window out on every repeat
		c.entries[key] = now
		return BurstDecision{Mode: c.mode, Key: key, RetryAfter: c.window}, nil
	default:
		return BurstDecision{Mode: c.mode, Key: key, RetryAfter: c.window - now.Sub(lastSeen)}, nil
	}
}

func (c *DefaultBurstController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		for key, seenAt := range c.entries {
			if now.Sub(seenAt) > c.window*4 {
				delete(c.entries, key)
			}
		}
		return
	}
	for key, seenAt := range c.entries {
		if now.Sub(seenAt) > c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			break
		}
	}
}

// DefaultBurstKeyExtractor keys on the provider delivery id header, falling
// back to a digest of the body.
func DefaultBurstKeyExtractor(delivery core.InboundDelivery, definition core.ProviderDefinition) (string, bool) {
	provider := core.NormalizeProvider(delivery.Provider)
	if provider == "" {
		return "", false
	}
	if id := core.HeaderValue(delivery.Headers, definition.ExternalIDHeader); id != "" {
		return provider + ":" + id, true
	}
	if len(delivery.Body) == 0 {
		return "", false
	}
	sum := sha256.Sum256(delivery.Body)
	return provider + ":sha256:" + hex.EncodeToString(sum[:]), true
}

func ParseBurstMode(mode string) BurstMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	case string(BurstModeDebounce):
		return BurstModeDebounce
	default:
		return BurstModeNone
	}
}

var _ BurstController = (*DefaultBurstController)(nil)
