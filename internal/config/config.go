// Package config loads service configuration from the environment.
//
// Values come from (lowest to highest precedence) built-in defaults, an optional
// config.yaml, a .env file and ORS_* environment variables. Nested keys map to
// env names by replacing dots with underscores: database.dsn -> ORS_DATABASE_DSN.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"orseries/internal/core/validation"
)

const envPrefix = "ORS"

// Config is the root configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Allocator   AllocatorConfig   `mapstructure:"allocator"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Env  string `mapstructure:"env" validate:"oneof=development staging production test"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN              string        `mapstructure:"dsn" validate:"required"`
	MaxConns         int32         `mapstructure:"max_conns" validate:"gte=1"`
	MinConns         int32         `mapstructure:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
	Issuer    string `mapstructure:"issuer"`
}

// AllocatorConfig tunes OR number allocation.
type AllocatorConfig struct {
	MaxRetries       uint64        `mapstructure:"max_retries"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval"`
	MaxJump          int           `mapstructure:"max_jump" validate:"gte=1"`
	NearLimitPercent float64       `mapstructure:"near_limit_percent" validate:"gt=0,lte=100"`
}

type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// WorkerConfig drives the background worker. A zero interval disables a job.
type WorkerConfig struct {
	OutboxInterval    time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize   int           `mapstructure:"outbox_batch_size" validate:"gte=1"`
	OutboxRetention   time.Duration `mapstructure:"outbox_retention"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	AlertRule         string        `mapstructure:"alert_rule"`
	AlertDedupeWindow time.Duration `mapstructure:"alert_dedupe_window"`
	ExpireInterval    time.Duration `mapstructure:"expire_interval"`
	ExpireAfter       time.Duration `mapstructure:"expire_after"`
	ExpireBatchSize   int           `mapstructure:"expire_batch_size" validate:"gte=1"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	LeaderLockTTL     time.Duration `mapstructure:"leader_lock_ttl"`
}

// RedisConfig is used by the worker only; see ValidateWorker.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	EventsChannel string `mapstructure:"events_channel"`
	AlertsChannel string `mapstructure:"alerts_channel"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// DefaultAlertRule fires when the active series is close to or at its end.
const DefaultAlertRule = "is_near_limit || has_reached_limit"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "orseries")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.statement_timeout", 30*time.Second)
	v.SetDefault("database.lock_timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("allocator.max_retries", 3)
	v.SetDefault("allocator.retry_interval", 50*time.Millisecond)
	v.SetDefault("allocator.max_retry_interval", time.Second)
	v.SetDefault("allocator.max_jump", 1000)
	v.SetDefault("allocator.near_limit_percent", 90.0)

	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("worker.outbox_interval", time.Second)
	v.SetDefault("worker.outbox_batch_size", 100)
	v.SetDefault("worker.outbox_retention", 7*24*time.Hour)
	v.SetDefault("worker.monitor_interval", 5*time.Minute)
	v.SetDefault("worker.alert_rule", DefaultAlertRule)
	v.SetDefault("worker.alert_dedupe_window", time.Hour)
	v.SetDefault("worker.expire_interval", time.Hour)
	v.SetDefault("worker.expire_after", time.Duration(0))
	v.SetDefault("worker.expire_batch_size", 100)
	v.SetDefault("worker.cleanup_interval", time.Hour)
	v.SetDefault("worker.leader_lock_ttl", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.events_channel", "orseries.events")
	v.SetDefault("redis.alerts_channel", "orseries.alerts")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads and validates configuration.
func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

type workerSettings struct {
	RedisAddr     string `validate:"required"`
	EventsChannel string `validate:"required"`
	AlertsChannel string `validate:"required"`
	AlertRule     string `validate:"required"`
}

// ValidateWorker checks the settings only the worker needs.
func (c *Config) ValidateWorker() error {
	if err := validation.Struct(workerSettings{
		RedisAddr:     c.Redis.Addr,
		EventsChannel: c.Redis.EventsChannel,
		AlertsChannel: c.Redis.AlertsChannel,
		AlertRule:     c.Worker.AlertRule,
	}); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
