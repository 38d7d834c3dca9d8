// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig          `mapstructure:"server"`
	Logging LoggingConfig         `mapstructure:"logging"`
	DB      DBConfig              `mapstructure:"db"`
	Replica ReplicaConfig         `mapstructure:"replica"`
	Storage StorageConfig         `mapstructure:"storage"`
	Queue   QueueConfig           `mapstructure:"queue"`
	Worker  WorkerConfig          `mapstructure:"worker"`
	Tools   map[string]ToolConfig `mapstructure:"tools"`
}

// ServerConfig controls the query/admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Debug       bool `mapstructure:"debug"`
}

// DBConfig controls the primary Postgres store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ReplicaConfig controls the optional secondary store and dual-write policy.
type ReplicaConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DSN           string `mapstructure:"dsn"`
	FailureMode   string `mapstructure:"failure_mode"`
	LazyMigration bool   `mapstructure:"lazy_migration"`
}

// StorageConfig selects the blob store for finished captures.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// QueueConfig selects the inbound job queue provider.
type QueueConfig struct {
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	Depth          int    `mapstructure:"depth"`
}

// WorkerConfig governs the capture worker loop.
type WorkerConfig struct {
	WorkDir               string `mapstructure:"work_dir"`
	DefaultTimeoutSeconds int    `mapstructure:"default_timeout_seconds"`
}

// ToolConfig overrides a capture tool's command template or timeout.
type ToolConfig struct {
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	OutputFile     string `mapstructure:"output_file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HTBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.debug", false)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.migrate", true)
	v.SetDefault("replica.enabled", false)
	v.SetDefault("replica.failure_mode", "log_and_continue")
	v.SetDefault("replica.lazy_migration", true)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "./blobs")
	v.SetDefault("storage.prefix", "captures")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("worker.work_dir", "./work")
	v.SetDefault("worker.default_timeout_seconds", 300)
}

// Validate checks cross-field constraints the zero value cannot express.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.Replica.FailureMode {
	case "fail_fast", "log_and_continue":
	default:
		return fmt.Errorf("replica.failure_mode must be fail_fast or log_and_continue, got %q", c.Replica.FailureMode)
	}
	if c.Replica.Enabled && c.Replica.DSN == "" {
		return fmt.Errorf("replica.dsn is required when replica.enabled is true")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id and queue.subscription_id are required for the pubsub provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	if c.Worker.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.default_timeout_seconds must be positive")
	}
	return nil
}
