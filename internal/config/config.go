// Package config loads notifyqueued configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Notification NotificationConfig `yaml:"notification"`
	Queue        QueueDefaults      `yaml:"queue_defaults"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	HTTP         HTTPConfig         `yaml:"http"`
}

// NotificationConfig drives the retry policy engine (C1) and dispatcher (C3).
type NotificationConfig struct {
	MaxNotifierRetries int           `yaml:"max_notifier_retries"`
	DispatchWorkers    int           `yaml:"dispatch_workers"`
	MaxDispatchWorkers int           `yaml:"max_dispatch_workers"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout"`
	WebhookRPS         float64       `yaml:"webhook_rps"`
	WebhookBurst       int           `yaml:"webhook_burst"`
}

// QueueDefaults holds the queue default values. Only DefaultMessageTTL is
// read outside this package: it seeds the reserved _default_message_ttl of
// new topics. The queue delivery task, the consume path and the in-memory
// queue store apply their own built-in defaults (3600s TTL, 0 delay, 1s
// claim TTL) and do not read this struct.
type QueueDefaults struct {
	DefaultMessageTTL int `yaml:"default_message_ttl"`
	DelayTTL          int `yaml:"delay_ttl"`
	ClaimTTL          int `yaml:"claim_ttl"`
}

// RedisConfig configures the monitor counter store (drivers:storage:redis).
type RedisConfig struct {
	URI                   string        `yaml:"uri" env:"NOTIFYQUEUE_REDIS_URI"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts" env:"NOTIFYQUEUE_REDIS_MAX_RECONNECT_ATTEMPTS"`
	ReconnectSleep        time.Duration `yaml:"reconnect_sleep" env:"NOTIFYQUEUE_REDIS_RECONNECT_SLEEP"`
}

// PostgresConfig configures the durable topic/subscription store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" env:"NOTIFYQUEUE_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"NOTIFYQUEUE_PG_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"NOTIFYQUEUE_PG_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"NOTIFYQUEUE_PG_CONN_MAX_LIFETIME"`
	QueryTimeout    time.Duration `yaml:"query_timeout" env:"NOTIFYQUEUE_PG_QUERY_TIMEOUT"`
}

// HTTPConfig configures the transport surface.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns the baseline defaults: 3600s message TTL, 0 delay,
// 1s claim TTL, plus reasonable ambient defaults.
func Default() Config {
	return Config{
		Notification: NotificationConfig{
			MaxNotifierRetries: 3,
			DispatchWorkers:    0, // 0 => one worker per subscription
			MaxDispatchWorkers: 64,
			WebhookTimeout:     10 * time.Second,
			WebhookRPS:         5,
			WebhookBurst:       10,
		},
		Queue: QueueDefaults{
			DefaultMessageTTL: 3600,
			DelayTTL:          0,
			ClaimTTL:          1,
		},
		Redis: RedisConfig{
			MaxReconnectAttempts: 10,
			ReconnectSleep:       time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8783,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads configPath (if non-empty and present) over the defaults, then
// applies environment variable overrides, then validates.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTIFYQUEUE_REDIS_URI"); v != "" {
		cfg.Redis.URI = v
	}
	if v := os.Getenv("NOTIFYQUEUE_REDIS_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("NOTIFYQUEUE_REDIS_RECONNECT_SLEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.ReconnectSleep = d
		}
	}
	if v := os.Getenv("NOTIFYQUEUE_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("NOTIFYQUEUE_MAX_NOTIFIER_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notification.MaxNotifierRetries = n
		}
	}
	if v := os.Getenv("NOTIFYQUEUE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
}

// Validate rejects configuration combinations that would fail at runtime
// rather than at startup.
func (c Config) Validate() error {
	if c.Notification.MaxNotifierRetries < 0 {
		return fmt.Errorf("notification.max_notifier_retries must be non-negative")
	}
	if c.Queue.DefaultMessageTTL <= 0 {
		return fmt.Errorf("queue_defaults.default_message_ttl must be positive")
	}
	if c.Postgres.MaxIdleConns > c.Postgres.MaxOpenConns && c.Postgres.MaxOpenConns > 0 {
		return fmt.Errorf("postgres.max_idle_conns cannot exceed max_open_conns")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range")
	}
	return nil
}
