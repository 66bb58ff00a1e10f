package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RetryModeAuto      = "auto"
	RetryModeSync      = "sync"
	RetryModeScheduled = "scheduled"

	DefaultToleranceSeconds = 300
)

type ProviderConfig struct {
	Secret           string `koanf:"secret" mapstructure:"secret"`
	ToleranceSeconds int    `koanf:"tolerance_seconds" mapstructure:"tolerance_seconds"`
}

type RetryConfig struct {
	Enabled     bool   `koanf:"enabled" mapstructure:"enabled"`
	Mode        string `koanf:"mode" mapstructure:"mode"`
	MaxAttempts int    `koanf:"max_attempts" mapstructure:"max_attempts"`
	Delays      []int  `koanf:"delays" mapstructure:"delays"`
}

type NotificationsConfig struct {
	Enabled          bool     `koanf:"enabled" mapstructure:"enabled"`
	Channels         []string `koanf:"channels" mapstructure:"channels"`
	Recipients       []string `koanf:"recipients" mapstructure:"recipients"`
	CooldownSeconds  int      `koanf:"cooldown_seconds" mapstructure:"cooldown_seconds"`
	FailureThreshold int      `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	Lookback         int      `koanf:"lookback" mapstructure:"lookback"`
	WindowMinutes    int      `koanf:"window_minutes" mapstructure:"window_minutes"`
	DashboardURL     string   `koanf:"dashboard_url" mapstructure:"dashboard_url"`
}

type HTTPConfig struct {
	RoutePrefix  string `koanf:"route_prefix" mapstructure:"route_prefix"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type Config struct {
	ServiceName   string                    `koanf:"service_name" mapstructure:"service_name"`
	Providers     map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
	Retry         RetryConfig               `koanf:"retry" mapstructure:"retry"`
	Notifications NotificationsConfig       `koanf:"notifications" mapstructure:"notifications"`
	HTTP          HTTPConfig                `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "webhooks",
		Providers:   map[string]ProviderConfig{},
		Retry: RetryConfig{
			Enabled:     true,
			Mode:        RetryModeAuto,
			MaxAttempts: 3,
			Delays:      []int{1, 5, 10},
		},
		Notifications: NotificationsConfig{
			Enabled:          false,
			Channels:         []string{"log"},
			CooldownSeconds:  3600,
			FailureThreshold: 5,
			Lookback:         50,
		},
		HTTP: HTTPConfig{
			RoutePrefix:  "/webhooks",
			MaxBodyBytes: 1 << 20,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Retry.Mode)) {
	case "", RetryModeAuto, RetryModeSync, RetryModeScheduled:
	default:
		return fmt.Errorf(
			"core: retry.mode must be %q, %q or %q",
			RetryModeAuto,
			RetryModeSync,
			RetryModeScheduled,
		)
	}
	for i, delay := range c.Retry.Delays {
		if delay < 0 {
			return fmt.Errorf("core: retry.delays[%d] must not be negative", i)
		}
	}
	for provider, cfg := range c.Providers {
		if cfg.ToleranceSeconds < 0 {
			return fmt.Errorf("core: providers.%s.tolerance_seconds must not be negative", provider)
		}
	}
	if c.Notifications.CooldownSeconds < 0 {
		return fmt.Errorf("core: notifications.cooldown_seconds must not be negative")
	}
	if c.Notifications.FailureThreshold < 0 {
		return fmt.Errorf("core: notifications.failure_threshold must not be negative")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("core: http.max_body_bytes must not be negative")
	}
	return nil
}

func (c Config) Provider(provider string) (ProviderConfig, bool) {
	if len(c.Providers) == 0 {
		return ProviderConfig{}, false
	}
	key := normalizeProvider(provider)
	for name, cfg := range c.Providers {
		if normalizeProvider(name) == key {
			return cfg, true
		}
	}
	return ProviderConfig{}, false
}

func (c ProviderConfig) Tolerance() time.Duration {
	if c.ToleranceSeconds <= 0 {
		return DefaultToleranceSeconds * time.Second
	}
	return time.Duration(c.ToleranceSeconds) * time.Second
}

// NormalizedMode returns the configured mode; empty and unknown values are
// RetryModeAuto.
func (c RetryConfig) NormalizedMode() string {
	switch strings.ToLower(strings.TrimSpace(c.Mode)) {
	case RetryModeScheduled:
		return RetryModeScheduled
	case RetryModeSync:
		return RetryModeSync
	default:
		return RetryModeAuto
	}
}

// EffectiveMode resolves RetryModeAuto: deferred when a scheduler is bound,
// in the caller goroutine otherwise.
func (c RetryConfig) EffectiveMode(schedulerBound bool) string {
	mode := c.NormalizedMode()
	if mode != RetryModeAuto {
		return mode
	}
	if schedulerBound {
		return RetryModeScheduled
	}
	return RetryModeSync
}

// Delay returns the wait before the attempt following attempt. Indexes past
// the schedule reuse the last configured delay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if len(c.Delays) == 0 || attempt < 0 {
		return 0
	}
	index := attempt
	if index >= len(c.Delays) {
		index = len(c.Delays) - 1
	}
	return time.Duration(c.Delays[index]) * time.Second
}

func (c NotificationsConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c NotificationsConfig) Window() time.Duration {
	if c.WindowMinutes <= 0 {
		return 0
	}
	return time.Duration(c.WindowMinutes) * time.Minute
}
