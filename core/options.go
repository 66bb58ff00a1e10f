package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        Registry
	secretResolver  SecretResolver
	storeProvider   StoreProvider
	logStore        WebhookLogStore
	cooldownStore   CooldownStore
	scheduler       Scheduler
	notifier        Notifier
	channels        []NotificationChannel
	ledger          NotificationLedger
	observers       *ObserverRegistry
	now             func() time.Time
	sleep           SleepFunc
	retryOverride   *RetryConfig
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

// WithProviders registers definitions on the builder registry.
func WithProviders(definitions ...ProviderDefinition) Option {
	return func(b *serviceBuilder) {
		if b.registry == nil {
			b.registry = NewProviderRegistry()
		}
		for _, definition := range definitions {
			_ = b.registry.Register(definition)
		}
	}
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(b *serviceBuilder) {
		b.secretResolver = resolver
	}
}

// StoreProvider supplies persistent stores built outside core, typically a
// repository factory over a shared database handle.
type StoreProvider interface {
	WebhookLogStore() WebhookLogStore
	NotificationLedger() NotificationLedger
}

func WithStoreProvider(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.storeProvider = provider
	}
}

func WithLogStore(store WebhookLogStore) Option {
	return func(b *serviceBuilder) {
		b.logStore = store
	}
}

func WithCooldownStore(store CooldownStore) Option {
	return func(b *serviceBuilder) {
		b.cooldownStore = store
	}
}

func WithScheduler(scheduler Scheduler) Option {
	return func(b *serviceBuilder) {
		b.scheduler = scheduler
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(b *serviceBuilder) {
		b.notifier = notifier
	}
}

func WithNotificationChannels(channels ...NotificationChannel) Option {
	return func(b *serviceBuilder) {
		b.channels = append(b.channels, channels...)
	}
}

func WithNotificationLedger(ledger NotificationLedger) Option {
	return func(b *serviceBuilder) {
		b.ledger = ledger
	}
}

func WithObserver(name string, observer EventObserver) Option {
	return func(b *serviceBuilder) {
		if b.observers == nil {
			b.observers = NewObserverRegistry()
		}
		b.observers.Register(name, observer)
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

// WithRetryConfig replaces the resolved retry section with retry, zero
// values included. The runtime Config passed to NewService cannot express an
// all-zero retry section since empty sections are not layered.
func WithRetryConfig(retry RetryConfig) Option {
	return func(b *serviceBuilder) {
		override := retry
		override.Delays = append([]int(nil), retry.Delays...)
		b.retryOverride = &override
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(b *serviceBuilder) {
		b.sleep = sleep
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("webhooks", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewProviderRegistry(),
		observers:       NewObserverRegistry(),
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return webhookErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// YAMLConfigLoader reads a YAML document into the raw map consumed by
// CfgxConfigProvider. A missing file yields an empty map when Optional is set.
type YAMLConfigLoader struct {
	Path     string
	Optional bool
	Expand   bool
}

func NewYAMLConfigLoader(path string) *YAMLConfigLoader {
	return &YAMLConfigLoader{Path: strings.TrimSpace(path), Expand: true}
}

func (l *YAMLConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil || strings.TrimSpace(l.Path) == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if l.Optional && os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config %s: %w", l.Path, err)
	}
	return ParseYAMLConfig(data, l.Expand)
}

// ParseYAMLConfig decodes data into a string keyed map. When expand is set,
// ${VAR} references are resolved from the environment first.
func ParseYAMLConfig(data []byte, expand bool) (map[string]any, error) {
	text := string(data)
	if expand {
		text = os.ExpandEnv(text)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("core: parse yaml config: %w", err)
	}
	return normalizeYAMLMap(raw), nil
}

func normalizeYAMLMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normalizeYAMLValue(value)
	}
	return out
}

func normalizeYAMLValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return normalizeYAMLMap(typed)
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeYAMLValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return value
	}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap emits a section only when one of its fields is set, so a
// section supplied by a higher layer replaces the lower one as a unit. An
// all-zero runtime section is indistinguishable from an absent one; callers
// disabling retries from zero values use WithRetryConfig.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	if includeZero || len(cfg.Providers) > 0 {
		providers := make(map[string]any, len(cfg.Providers))
		for name, provider := range cfg.Providers {
			providers[normalizeProvider(name)] = map[string]any{
				"secret":            provider.Secret,
				"tolerance_seconds": provider.ToleranceSeconds,
			}
		}
		layer["providers"] = providers
	}

	retry := cfg.Retry
	if includeZero || retry.Enabled || retry.MaxAttempts != 0 || strings.TrimSpace(retry.Mode) != "" || len(retry.Delays) > 0 {
		layer["retry"] = map[string]any{
			"enabled":      retry.Enabled,
			"mode":         retry.Mode,
			"max_attempts": retry.MaxAttempts,
			"delays":       append([]int(nil), retry.Delays...),
		}
	}

	notifications := cfg.Notifications
	if includeZero || notifications.Enabled || len(notifications.Channels) > 0 || len(notifications.Recipients) > 0 ||
		notifications.CooldownSeconds != 0 || notifications.FailureThreshold != 0 || notifications.Lookback != 0 ||
		notifications.WindowMinutes != 0 || strings.TrimSpace(notifications.DashboardURL) != "" {
		layer["notifications"] = map[string]any{
			"enabled":           notifications.Enabled,
			"channels":          append([]string(nil), notifications.Channels...),
			"recipients":        append([]string(nil), notifications.Recipients...),
			"cooldown_seconds":  notifications.CooldownSeconds,
			"failure_threshold": notifications.FailureThreshold,
			"lookback":          notifications.Lookback,
			"window_minutes":    notifications.WindowMinutes,
			"dashboard_url":     notifications.DashboardURL,
		}
	}

	if includeZero || strings.TrimSpace(cfg.HTTP.RoutePrefix) != "" || cfg.HTTP.MaxBodyBytes != 0 {
		layer["http"] = map[string]any{
			"route_prefix":   cfg.HTTP.RoutePrefix,
			"max_body_bytes": cfg.HTTP.MaxBodyBytes,
		}
	}
	return layer
}
