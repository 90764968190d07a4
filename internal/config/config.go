// Package config loads the engine configuration from YAML with
// environment overrides, in the platform's viper convention.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration consumed by the engine.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Repos    ReposConfig    `mapstructure:"repositories"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
}

// DatabaseConfig names the durable relational store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig names the optional entity cache.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// ReposConfig selects a backend per business entity kind.
type ReposConfig struct {
	OrdersBackend string `mapstructure:"orders_backend"` // memory_durable or memory_legacy
	DealsBackend  string `mapstructure:"deals_backend"`
}

// SyncConfig tunes the write-through worker pools.
type SyncConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// StreamKindConfig bounds one streaming buffer.
type StreamKindConfig struct {
	MemoryLimitBytes   int64 `mapstructure:"memory_limit_bytes"`
	DumpThresholdBytes int64 `mapstructure:"dump_threshold_bytes"`
}

// StreamConfig tunes the batch-dump stores and their retention sweep.
type StreamConfig struct {
	DumpDir       string                      `mapstructure:"dump_dir"`
	RetentionDays int                         `mapstructure:"retention_days"`
	SweepInterval time.Duration               `mapstructure:"sweep_interval"`
	Kinds         map[string]StreamKindConfig `mapstructure:"kinds"`
}

// MonitorConfig tunes the stale-order monitor.
type MonitorConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MaxAge              time.Duration `mapstructure:"max_age"`
	MaxDeviationPercent float64       `mapstructure:"max_deviation_percent"`
	OffsetPercent       float64       `mapstructure:"offset_percent"` // replacement price % below market
	RecreateCooldown    time.Duration `mapstructure:"recreate_cooldown"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
}

// ExchangeConfig selects the connector driver.
type ExchangeConfig struct {
	Driver string `mapstructure:"driver"` // paper is the only in-tree driver
}

// ShutdownConfig bounds the termination sequence.
type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	BackendMemoryDurable = "memory_durable"
	BackendMemoryLegacy  = "memory_legacy"
)

// Load reads the YAML file at path (optional) merged with TRADECORE_*
// environment variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRADECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("repositories.orders_backend", BackendMemoryDurable)
	v.SetDefault("repositories.deals_backend", BackendMemoryDurable)
	v.SetDefault("sync.queue_size", 4096)
	v.SetDefault("sync.workers", 2)
	v.SetDefault("sync.write_timeout", 5*time.Second)
	v.SetDefault("sync.drain_timeout", 10*time.Second)
	v.SetDefault("stream.dump_dir", "data/dumps")
	v.SetDefault("stream.retention_days", 14)
	v.SetDefault("stream.sweep_interval", time.Hour)
	v.SetDefault("stream.kinds.ticks.memory_limit_bytes", 64<<20)
	v.SetDefault("stream.kinds.ticks.dump_threshold_bytes", 48<<20)
	v.SetDefault("stream.kinds.booktops.memory_limit_bytes", 128<<20)
	v.SetDefault("stream.kinds.booktops.dump_threshold_bytes", 96<<20)
	v.SetDefault("stream.kinds.indicators.memory_limit_bytes", 32<<20)
	v.SetDefault("stream.kinds.indicators.dump_threshold_bytes", 24<<20)
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.max_age", 15*time.Minute)
	v.SetDefault("monitor.max_deviation_percent", 3.0)
	v.SetDefault("monitor.offset_percent", 0.1)
	v.SetDefault("monitor.recreate_cooldown", 2*time.Minute)
	v.SetDefault("monitor.call_timeout", 10*time.Second)
	v.SetDefault("exchange.driver", "paper")
	v.SetDefault("shutdown.timeout", 30*time.Second)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	for _, backend := range []string{c.Repos.OrdersBackend, c.Repos.DealsBackend} {
		switch backend {
		case BackendMemoryDurable, BackendMemoryLegacy:
		default:
			return fmt.Errorf("unknown repository backend %q", backend)
		}
	}
	for kind, sk := range c.Stream.Kinds {
		if sk.MemoryLimitBytes <= 0 {
			return fmt.Errorf("stream kind %s: memory limit must be positive", kind)
		}
		if sk.DumpThresholdBytes <= 0 || sk.DumpThresholdBytes > sk.MemoryLimitBytes {
			return fmt.Errorf("stream kind %s: dump threshold must be in (0, memory limit]", kind)
		}
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.MaxDeviationPercent < 0 || c.Monitor.OffsetPercent < 0 {
		return fmt.Errorf("monitor percentages must be non-negative")
	}
	if c.Stream.RetentionDays < 0 {
		return fmt.Errorf("stream retention days must be non-negative")
	}
	return nil
}
