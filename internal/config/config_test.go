package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
  debug: true
db:
  dsn: postgres://ht:ht@localhost:5432/htbase
  max_conns: 4
replica:
  enabled: true
  dsn: /tmp/replica.db
  failure_mode: fail_fast
  lazy_migration: false
storage:
  provider: gcs
  gcs_bucket: ht-artifacts
  prefix: captures
queue:
  provider: memory
  depth: 16
worker:
  work_dir: /tmp/work
  default_timeout_seconds: 120
tools:
  pdf:
    timeout_seconds: 90
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Logging.Development || !cfg.Logging.Debug {
		t.Fatalf("expected logging overrides to apply")
	}
	if cfg.Replica.FailureMode != "fail_fast" || cfg.Replica.LazyMigration {
		t.Fatalf("expected replica overrides to apply, got %+v", cfg.Replica)
	}
	if cfg.Storage.Provider != "gcs" || cfg.Storage.GCSBucket != "ht-artifacts" {
		t.Fatalf("expected gcs storage config, got %+v", cfg.Storage)
	}
	if cfg.Tools["pdf"].TimeoutSeconds != 90 {
		t.Fatalf("expected pdf tool timeout override, got %+v", cfg.Tools["pdf"])
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
db:
  dsn: postgres://ht:ht@localhost:5432/htbase
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Replica.FailureMode != "log_and_continue" {
		t.Fatalf("expected default failure mode, got %q", cfg.Replica.FailureMode)
	}
	if cfg.Worker.DefaultTimeoutSeconds != 300 {
		t.Fatalf("expected default timeout, got %d", cfg.Worker.DefaultTimeoutSeconds)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.DB.DSN = "" }},
		{"bad failure mode", func(c *Config) { c.Replica.FailureMode = "retry_later" }},
		{"replica without dsn", func(c *Config) { c.Replica.Enabled = true; c.Replica.DSN = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
		{"unknown queue", func(c *Config) { c.Queue.Provider = "rabbit" }},
		{"zero timeout", func(c *Config) { c.Worker.DefaultTimeoutSeconds = 0 }},
	}

	base := Config{
		Server:  ServerConfig{Port: 8080},
		DB:      DBConfig{DSN: "postgres://x"},
		Replica: ReplicaConfig{FailureMode: "log_and_continue"},
		Storage: StorageConfig{Provider: "local", LocalDir: "./blobs"},
		Queue:   QueueConfig{Provider: "memory"},
		Worker:  WorkerConfig{DefaultTimeoutSeconds: 300},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
