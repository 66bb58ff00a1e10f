package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"

	cooldownMemory = "memory"
	cooldownRedis  = "redis"

	schedulerTimer = "timer"
	schedulerQueue = "queue"
)

// runtimeConfig holds the process level settings. Pipeline settings live in
// the same file and are loaded by core through cfgx.
type runtimeConfig struct {
	Server   serverConfig   `yaml:"server"`
	Storage  storageConfig  `yaml:"storage"`
	Cooldown cooldownConfig `yaml:"cooldown"`
	Security securityConfig `yaml:"security"`
	Log      logConfig      `yaml:"log"`
	Worker   workerConfig   `yaml:"worker"`
	Burst    burstConfig    `yaml:"burst"`
}

type serverConfig struct {
	Listen          string `yaml:"listen"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

type storageConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	Debug           bool   `yaml:"debug"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type cooldownConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	Password  string `yaml:"redis_password"`
	DB        int    `yaml:"redis_db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type securityConfig struct {
	AppKey     string   `yaml:"app_key"`
	KeyID      string   `yaml:"key_id"`
	RetiredKey []string `yaml:"retired_keys"`
}

type logConfig struct {
	Level string `yaml:"level"`
}

type workerConfig struct {
	Scheduler       string `yaml:"scheduler"`
	MaxAttempts     int    `yaml:"max_attempts"`
	IdleMillis      int    `yaml:"idle_millis"`
	DeadLetterOnMax bool   `yaml:"dead_letter_on_max"`
}

type burstConfig struct {
	Mode         string `yaml:"mode"`
	WindowMillis int    `yaml:"window_millis"`
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Server: serverConfig{
			Listen:          ":8080",
			ShutdownSeconds: 10,
		},
		Storage: storageConfig{
			Driver: driverSQLite,
			DSN:    "file:webhook-guard.db?cache=shared&_foreign_keys=on",
		},
		Cooldown: cooldownConfig{Backend: cooldownMemory},
		Log:      logConfig{Level: "info"},
		Worker: workerConfig{
			Scheduler:       schedulerTimer,
			MaxAttempts:     5,
			IdleMillis:      500,
			DeadLetterOnMax: true,
		},
		Burst: burstConfig{
			Mode:         "none",
			WindowMillis: 2000,
		},
	}
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	return parseRuntimeConfig(data)
}

func parseRuntimeConfig(data []byte) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Storage.Driver = normalizeDriver(cfg.Storage.Driver)
	cfg.Cooldown.Backend = strings.ToLower(strings.TrimSpace(cfg.Cooldown.Backend))
	cfg.Worker.Scheduler = strings.ToLower(strings.TrimSpace(cfg.Worker.Scheduler))
	return cfg, cfg.validate()
}

func (c runtimeConfig) validate() error {
	switch c.Storage.Driver {
	case driverSQLite, driverPostgres:
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	switch c.Cooldown.Backend {
	case cooldownMemory:
	case cooldownRedis:
		if strings.TrimSpace(c.Cooldown.RedisAddr) == "" {
			return fmt.Errorf("cooldown.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cooldown.backend must be memory or redis, got %q", c.Cooldown.Backend)
	}
	switch c.Worker.Scheduler {
	case schedulerTimer, schedulerQueue:
	default:
		return fmt.Errorf("worker.scheduler must be timer or queue, got %q", c.Worker.Scheduler)
	}
	return nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return driverSQLite
	case "postgres", "postgresql", "pg":
		return driverPostgres
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

func (c storageConfig) dialect() string {
	if c.Driver == driverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (c serverConfig) shutdownTimeout() time.Duration {
	if c.ShutdownSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// persistenceConfig satisfies go-persistence-bun's config contract.
type persistenceConfig struct {
	storage storageConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.storage.Debug }
func (c persistenceConfig) GetDriver() string             { return c.storage.Driver }
func (c persistenceConfig) GetServer() string             { return c.storage.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-webhook-guard" }
