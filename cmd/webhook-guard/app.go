package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	command "github.com/goliatone/go-command"
	persistence "github.com/goliatone/go-persistence-bun"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	guard "github.com/goliatone/go-webhook-guard"
	"github.com/goliatone/go-webhook-guard/adapters/gocommand"
	"github.com/goliatone/go-webhook-guard/adapters/gojob"
	"github.com/goliatone/go-webhook-guard/adapters/gologger"
	"github.com/goliatone/go-webhook-guard/core"
	"github.com/goliatone/go-webhook-guard/inbound"
	guardmigrations "github.com/goliatone/go-webhook-guard/migrations"
	"github.com/goliatone/go-webhook-guard/security"
	redisstore "github.com/goliatone/go-webhook-guard/store/redis"
	sqlstore "github.com/goliatone/go-webhook-guard/store/sql"
	"github.com/goliatone/go-webhook-guard/webhooks"
)

// app owns every long lived dependency of the process.
type app struct {
	runtime  runtimeConfig
	logger   glog.Logger
	service  *core.Service
	router   *inbound.Router
	client   *persistence.Client
	redis    *redis.Client
	timer    *webhooks.TimerScheduler
	worker   *gojob.RetryWorker
	commands *gocommand.Registration

	closeOnce sync.Once
}

func buildApp(ctx context.Context, configPath string, out io.Writer) (*app, error) {
	runtime, err := loadRuntimeConfig(configPath)
	if err != nil {
		return nil, err
	}

	provider := gologger.NewJSONProvider(out, runtime.Log.Level)
	logger := provider.GetLogger("webhook-guard")
	a := &app{runtime: runtime, logger: logger}

	client, err := openPersistence(ctx, runtime.Storage)
	if err != nil {
		return nil, err
	}
	a.client = client

	factory := sqlstore.NewRepositoryFactory()
	if runtime.Storage.CacheTTLSeconds > 0 {
		cacheCfg := repositorycache.DefaultConfig()
		cacheCfg.TTL = time.Duration(runtime.Storage.CacheTTLSeconds) * time.Second
		cacheService, cacheErr := repositorycache.NewCacheService(cacheCfg)
		if cacheErr != nil {
			a.Close()
			return nil, fmt.Errorf("build webhook log cache: %w", cacheErr)
		}
		factory.WithCache(cacheService)
	}
	stores, err := factory.BuildStores(client)
	if err != nil {
		a.Close()
		return nil, err
	}

	metrics := core.NewMemoryMetricsRecorder()
	opts := []guard.Option{
		core.WithLoggerProvider(provider),
		core.WithConfigProvider(core.NewCfgxConfigProvider(pipelineSections{inner: core.NewYAMLConfigLoader(configPath)})),
		guard.WithStoreProvider(stores),
		guard.WithMetricsRecorder(metrics),
	}

	cooldown, err := a.buildCooldownStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cooldown != nil {
		opts = append(opts, guard.WithCooldownStore(cooldown))
	}

	resolver, err := buildSecretResolver(runtime.Security)
	if err != nil {
		a.Close()
		return nil, err
	}
	if resolver != nil {
		opts = append(opts, guard.WithSecretResolver(resolver))
	}

	var q *gojob.MemoryQueue
	switch runtime.Worker.Scheduler {
	case schedulerQueue:
		q = gojob.NewMemoryQueue()
		opts = append(opts, guard.WithScheduler(gojob.NewScheduler(q)))
	default:
		a.timer = webhooks.NewTimerScheduler(logger)
		opts = append(opts, guard.WithScheduler(a.timer))
	}

	service, err := guard.New(core.Config{}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service

	if q != nil {
		a.worker, err = gojob.NewRetryWorker(q, service, gojob.RetryPolicy{
			MaxAttempts:     runtime.Worker.MaxAttempts,
			DeadLetterOnMax: runtime.Worker.DeadLetterOnMax,
		},
			gojob.WithHook(gojob.NewObservabilityHook(logger, metrics)),
			gojob.WithLogger(logger),
			gojob.WithIdleWait(time.Duration(runtime.Worker.IdleMillis)*time.Millisecond),
		)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := adapter.AddQueueResolver("queue", jobqueuecommand.NewRegistry()); err != nil {
		a.Close()
		return nil, err
	}
	a.commands, err = gocommand.RegisterWebhookHandlers(adapter, service)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		a.Close()
		return nil, err
	}

	routerOpts := []inbound.RouterOption{inbound.WithLogger(logger)}
	if mode := webhooks.ParseBurstMode(runtime.Burst.Mode); mode != webhooks.BurstModeNone {
		routerOpts = append(routerOpts, inbound.WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   mode,
			Window: time.Duration(runtime.Burst.WindowMillis) * time.Millisecond,
		})))
	}
	a.router, err = inbound.NewRouter(service, service.Config().HTTP, routerOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// pipelineSections hands core only the sections it owns; the rest of the
// file is process configuration.
type pipelineSections struct {
	inner core.RawConfigLoader
}

var pipelineKeys = []string{"service_name", "providers", "retry", "notifications", "http"}

func (l pipelineSections) LoadRaw(ctx context.Context) (map[string]any, error) {
	raw, err := l.inner.LoadRaw(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(pipelineKeys))
	for _, key := range pipelineKeys {
		if value, ok := raw[key]; ok {
			out[key] = value
		}
	}
	return out, nil
}

func openPersistence(ctx context.Context, cfg storageConfig) (*persistence.Client, error) {
	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if cfg.Driver == driverPostgres {
		dialect = pgdialect.New()
	} else {
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(persistenceConfig{storage: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("new persistence client: %w", err)
	}

	target := cfg.dialect()
	_, err = guardmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, guardmigrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func (a *app) buildCooldownStore(ctx context.Context) (core.CooldownStore, error) {
	cfg := a.runtime.Cooldown
	if cfg.Backend != cooldownRedis {
		return nil, nil
	}
	client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.Password, cfg.DB)
	if err != nil {
		return nil, err
	}
	a.redis = client
	var opts []redisstore.Option
	if cfg.KeyPrefix != "" {
		opts = append(opts, redisstore.WithKeyPrefix(cfg.KeyPrefix))
	}
	return redisstore.NewCooldownStore(client, opts...)
}

// buildSecretResolver returns nil when no app key is configured, which keeps
// plain secrets from the config.
func buildSecretResolver(cfg securityConfig) (core.SecretResolver, error) {
	if cfg.AppKey == "" {
		return nil, nil
	}
	var keyOpts []security.Option
	if cfg.KeyID != "" {
		keyOpts = append(keyOpts, security.WithKeyID(cfg.KeyID))
	}
	retired := make([]*security.AppKeySecretProvider, 0, len(cfg.RetiredKey))
	for i, key := range cfg.RetiredKey {
		provider, err := security.NewAppKeySecretProviderFromString(key, append(keyOpts, security.WithVersion(i+1))...)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i+1, err)
		}
		retired = append(retired, provider)
	}
	active, err := security.NewAppKeySecretProviderFromString(cfg.AppKey, append(keyOpts, security.WithVersion(len(retired)+1))...)
	if err != nil {
		return nil, fmt.Errorf("app key: %w", err)
	}
	ring, err := security.NewKeyRing(active, retired...)
	if err != nil {
		return nil, err
	}
	return security.NewSecretResolver(ring, core.Config{}), nil
}

func (a *app) Handler() http.Handler {
	return a.router.Handler()
}

// Serve runs the HTTP server and the retry worker until ctx is done.
func (a *app) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.runtime.Server.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerDone := make(chan struct{})
	if a.worker != nil {
		go func() {
			defer close(workerDone)
			_ = a.worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	a.logger.Info("webhook guard starting",
		"listen", server.Addr,
		"route", a.router.String(),
		"providers", len(a.service.Providers()),
		"retry_mode", a.service.RetryMode(),
		"scheduler", a.runtime.Worker.Scheduler,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("webhook guard shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.runtime.Server.shutdownTimeout())
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		<-workerDone
		if err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

func (a *app) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		if a.commands != nil {
			a.commands.Close()
		}
		if a.redis != nil {
			_ = a.redis.Close()
		}
		if a.client != nil {
			_ = a.client.Close()
		}
	})
}
