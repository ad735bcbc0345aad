package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Worker.BatchSize != 5 {
		t.Errorf("expected BatchSize=5, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.PoolSize != 3 {
		t.Errorf("expected PoolSize=3, got %d", cfg.Worker.PoolSize)
	}
	if cfg.Worker.IdleSleep != 10*time.Second {
		t.Errorf("expected IdleSleep=10s, got %s", cfg.Worker.IdleSleep)
	}
	if cfg.Dedup.Threshold != 1.9 {
		t.Errorf("expected Threshold=1.9, got %f", cfg.Dedup.Threshold)
	}
	if cfg.Embedding.Dimension != 512 {
		t.Errorf("expected Dimension=512, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Image.HosterPrefix != "https://images.hive.blog/p" {
		t.Errorf("unexpected HosterPrefix %s", cfg.Image.HosterPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "clipworker.yaml")

	content := `
worker:
  batch_size: 20
  idle_sleep: 3s
store:
  backend: bolt
  bolt_path: /tmp/x.db
image:
  excludes: ["**/*.svg"]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Worker.BatchSize != 20 {
		t.Errorf("expected BatchSize=20, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.IdleSleep != 3*time.Second {
		t.Errorf("expected IdleSleep=3s, got %s", cfg.Worker.IdleSleep)
	}
	if cfg.Worker.PoolSize != 3 {
		t.Errorf("expected PoolSize default to survive, got %d", cfg.Worker.PoolSize)
	}
	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected bolt backend, got %s", cfg.Store.Backend)
	}
	if len(cfg.Image.Excludes) != 1 {
		t.Errorf("expected 1 exclude pattern, got %v", cfg.Image.Excludes)
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("OPENSEARCH_HOSTS", "http://a:9200, http://b:9200")
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("NUM_IMAGE_WORKERS", "not-a-number")
	t.Setenv("CLIP_API_ADDRESS", "http://clip:8080")

	cfg := DefaultConfig()
	cfg.ResolveEnv()

	if len(cfg.Store.Hosts) != 2 || cfg.Store.Hosts[1] != "http://b:9200" {
		t.Errorf("unexpected hosts %v", cfg.Store.Hosts)
	}
	if cfg.Worker.BatchSize != 7 {
		t.Errorf("expected BatchSize=7, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.PoolSize != 3 {
		t.Errorf("expected invalid NUM_IMAGE_WORKERS to be ignored, got %d", cfg.Worker.PoolSize)
	}
	if cfg.Embedding.BaseURL != "http://clip:8080" {
		t.Errorf("unexpected BaseURL %s", cfg.Embedding.BaseURL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Worker.PoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero pool size")
	}

	cfg = DefaultConfig()
	cfg.Store.Backend = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown store backend")
	}

	cfg = DefaultConfig()
	cfg.Quality.Provider = "http"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for http quality provider without url")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clipworker.yaml")
	cfg := DefaultConfig()
	cfg.Worker.BatchSize = 11
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Worker.BatchSize != 11 {
		t.Errorf("expected BatchSize=11, got %d", loaded.Worker.BatchSize)
	}
	if loaded.Worker.TaskTimeout != cfg.Worker.TaskTimeout {
		t.Errorf("expected TaskTimeout %s, got %s", cfg.Worker.TaskTimeout, loaded.Worker.TaskTimeout)
	}
}
