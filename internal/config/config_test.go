package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Backend != BackendMemory || cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backends by default, got %q/%q", cfg.Database.Backend, cfg.Storage.Backend)
	}
	if cfg.Pipeline.StageDelay != 2*time.Second {
		t.Fatalf("expected 2s stage delay, got %v", cfg.Pipeline.StageDelay)
	}
	if cfg.Sweeper.TTL != 24*time.Hour || cfg.Sweeper.Schedule != "@every 10m" {
		t.Fatalf("unexpected sweeper defaults: %+v", cfg.Sweeper)
	}
	if cfg.PubSubEnabled() {
		t.Fatalf("pubsub must be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 30s
  cors_origins: ["http://localhost:5173"]
auth:
  enabled: true
  api_key: secret
database:
  backend: sqlite
  sqlite_path: /tmp/insignia.db
pipeline:
  concurrency: 6
  queue_depth: 128
  stage_delay: 500ms
  products_per_platform: 3
  reviews_per_product: 4
  max_keywords: 15
  seed: 42
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: reports
pubsub:
  project_id: proj
  topic_name: analyses
sweeper:
  enabled: false
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("expected cors origin, got %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Database.Backend != BackendSQLite || cfg.Database.SQLitePath != "/tmp/insignia.db" {
		t.Fatalf("expected sqlite backend, got %+v", cfg.Database)
	}
	if cfg.Pipeline.Concurrency != 6 || cfg.Pipeline.StageDelay != 500*time.Millisecond || cfg.Pipeline.Seed != 42 {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCSBucket != "bucket" || cfg.Storage.Prefix != "reports" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if !cfg.PubSubEnabled() {
		t.Fatalf("expected pubsub to be enabled")
	}
	if cfg.Sweeper.Enabled {
		t.Fatalf("expected sweeper disabled")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INSIGNIA_SERVER_PORT", "7070")
	t.Setenv("INSIGNIA_PIPELINE_STAGE_DELAY", "0s")
	t.Setenv("INSIGNIA_SERVER_CORS_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.StageDelay != 0 {
		t.Fatalf("expected zero stage delay, got %v", cfg.Pipeline.StageDelay)
	}
	if strings.Join(cfg.Server.CORSOrigins, "|") != "http://a.test|http://b.test" {
		t.Fatalf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("INSIGNIA_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("INSIGNIA_TEST_DOTENV") })

	if err := LoadDotEnv(path, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("INSIGNIA_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected variable from .env, got %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown database", func(c *Config) { c.Database.Backend = "mysql" }, "database.backend"},
		{"postgres without dsn", func(c *Config) { c.Database.Backend = BackendPostgres }, "database.dsn"},
		{"sqlite without path", func(c *Config) {
			c.Database.Backend = BackendSQLite
			c.Database.SQLitePath = ""
		}, "database.sqlite_path"},
		{"invalid concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"invalid queue depth", func(c *Config) { c.Pipeline.QueueDepth = 0 }, "pipeline.queue_depth"},
		{"negative stage delay", func(c *Config) { c.Pipeline.StageDelay = -time.Second }, "pipeline.stage_delay"},
		{"zero reviews", func(c *Config) { c.Pipeline.ReviewsPerProduct = 0 }, "reviews_per_product"},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "pipeline.max_attempts"},
		{"negative rate", func(c *Config) { c.Pipeline.RatePerSecond = -1 }, "pipeline.rate_per_second"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"pubsub half set", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub"},
		{"sweeper without ttl", func(c *Config) { c.Sweeper.TTL = 0 }, "sweeper.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
