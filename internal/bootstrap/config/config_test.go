package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Worker.Version != "v1" {
		t.Fatalf("worker.version = %q", cfg.Worker.Version)
	}
	if cfg.Storage.Retention != 7*24*time.Hour {
		t.Fatalf("storage.retention = %s", cfg.Storage.Retention)
	}
	if cfg.Storage.ImageSizeThreshold != 1<<20 {
		t.Fatalf("storage.image_size_threshold = %d", cfg.Storage.ImageSizeThreshold)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Fatalf("queue.max_retries = %d", cfg.Queue.MaxRetries)
	}
	if len(cfg.Worker.APIPrefixes) != 1 || cfg.Worker.APIPrefixes[0] != "/api/" {
		t.Fatalf("worker.api_prefixes = %v", cfg.Worker.APIPrefixes)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := []byte(`
worker:
  version: v7
  origin: https://app.example.com
queue:
  retry_base: 250ms
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STASH_DATABASE_DSN", filepath.Join(dir, "state.sqlite"))

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Version != "v7" {
		t.Fatalf("worker.version = %q", cfg.Worker.Version)
	}
	if cfg.Worker.Origin != "https://app.example.com" {
		t.Fatalf("worker.origin = %q", cfg.Worker.Origin)
	}
	if cfg.Queue.RetryBase != 250*time.Millisecond {
		t.Fatalf("queue.retry_base = %s", cfg.Queue.RetryBase)
	}
	if cfg.Database.DSN != filepath.Join(dir, "state.sqlite") {
		t.Fatalf("database.dsn = %q", cfg.Database.DSN)
	}
}

func TestValidateRejectsRelativeOrigin(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{DSN: "x.sqlite"},
		Worker:   WorkerConfig{Version: "v1", Origin: "/relative"},
		Storage:  StorageConfig{Retention: time.Hour},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for relative origin")
	}
}

func TestLoadNilContext(t *testing.T) {
	if _, err := Load(nil, ""); err == nil {
		t.Fatalf("Load(nil) expected error")
	}
}
