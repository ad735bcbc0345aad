package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hive-discover/clip-api/internal/domain"
)

// Config holds all configuration for the image description worker.
type Config struct {
	Worker    WorkerConfig    `yaml:"worker"`
	Image     ImageConfig     `yaml:"image"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Quality   QualityConfig   `yaml:"quality"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Store     StoreConfig     `yaml:"store"`
	Vector    VectorConfig    `yaml:"vector"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkerConfig holds batch loop configuration.
type WorkerConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	PoolSize           int           `yaml:"pool_size"`
	IdleSleep          time.Duration `yaml:"idle_sleep"`
	TaskTimeout        time.Duration `yaml:"task_timeout"`
	AbortOnHardFailure bool          `yaml:"abort_on_hard_failure"`
	RequireCommitAck   bool          `yaml:"require_commit_ack"`
	Seed               int64         `yaml:"seed"` // 0 = time based
}

// ImageConfig holds image resolving and fetching configuration.
type ImageConfig struct {
	HosterPrefix string        `yaml:"hoster_prefix"`
	MaxWidth     int           `yaml:"max_width"`
	MaxHeight    int           `yaml:"max_height"`
	Excludes     []string      `yaml:"excludes"` // doublestar patterns on the URL path
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRPS     float64       `yaml:"fetch_rps"` // 0 = unlimited
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "clip", "mock"
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	RPS       float64       `yaml:"rps"`
}

// QualityConfig holds image quality scoring configuration.
type QualityConfig struct {
	Provider string        `yaml:"provider"` // "laplacian", "http", "none"
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	Ceiling  float64       `yaml:"ceiling"`
	Sentinel float64       `yaml:"sentinel"`
}

// DedupConfig holds near-duplicate detection configuration.
type DedupConfig struct {
	Threshold     float64 `yaml:"threshold"`
	TopK          int     `yaml:"top_k"`
	SearchBackend string  `yaml:"search_backend"` // "docstore", "vectorstore"
	Serialize     bool    `yaml:"serialize"`
	CacheSize     int     `yaml:"cache_size"`
}

// StoreConfig holds document store configuration.
type StoreConfig struct {
	Backend     string        `yaml:"backend"` // "opensearch", "bolt", "memory"
	Hosts       []string      `yaml:"hosts"`
	PostsIndex  string        `yaml:"posts_index"`
	ImagesIndex string        `yaml:"images_index"`
	JobField    string        `yaml:"job_field"`
	BoltPath    string        `yaml:"bolt_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorConfig holds vector store configuration.
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "qdrant", "bolt", "memory"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// HeartbeatConfig holds heartbeat monitor configuration.
type HeartbeatConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig holds prometheus exposition configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json", "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			BatchSize:        5,
			PoolSize:         3,
			IdleSleep:        10 * time.Second,
			TaskTimeout:      2 * time.Minute,
			RequireCommitAck: true,
		},
		Image: ImageConfig{
			HosterPrefix: "https://images.hive.blog/p",
			MaxWidth:     1024,
			MaxHeight:    1024,
			FetchTimeout: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:  "clip",
			BaseURL:   "http://127.0.0.1:8080",
			Dimension: domain.EmbeddingDimension,
			Timeout:   60 * time.Second,
		},
		Quality: QualityConfig{
			Provider: "laplacian",
			Timeout:  30 * time.Second,
			Ceiling:  domain.QualityCeiling,
			Sentinel: domain.QualitySentinel,
		},
		Dedup: DedupConfig{
			Threshold:     domain.DuplicateThreshold,
			TopK:          10,
			SearchBackend: "docstore",
			Serialize:     true,
			CacheSize:     10000,
		},
		Store: StoreConfig{
			Backend:     "opensearch",
			Hosts:       []string{"http://127.0.0.1:9200"},
			PostsIndex:  domain.DefaultPostsIndex,
			ImagesIndex: domain.DefaultImagesIndex,
			JobField:    domain.DefaultJobField,
			BoltPath:    "clipworker.db",
			Timeout:     30 * time.Second,
		},
		Vector: VectorConfig{
			Backend:    "qdrant",
			Host:       "127.0.0.1",
			Port:       6334,
			Collection: domain.DefaultVectorsClass,
		},
		Heartbeat: HeartbeatConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file and overlays the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ResolveEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ResolveEnv()
	return cfg, nil
}

// ResolveEnv overrides fields from the worker's environment variables.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("OPENSEARCH_HOSTS"); v != "" {
		c.Store.Hosts = splitList(v)
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.Vector.Host = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Vector.APIKey = v
	}
	if v := os.Getenv("IMAGE_HOSTER_PREFIX"); v != "" {
		c.Image.HosterPrefix = v
	}
	if v := os.Getenv("CLIP_API_ADDRESS"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("CLIP_WORKER_HEARBEAT_URL"); v != "" {
		c.Heartbeat.URL = v
	}
	if n, err := strconv.Atoi(os.Getenv("BATCH_SIZE")); err == nil && n > 0 {
		c.Worker.BatchSize = n
	}
	if n, err := strconv.Atoi(os.Getenv("NUM_IMAGE_WORKERS")); err == nil && n > 0 {
		c.Worker.PoolSize = n
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for values the worker cannot run with.
func (c *Config) Validate() error {
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive, got %d", c.Worker.BatchSize)
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive, got %d", c.Worker.PoolSize)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "clip", "mock"); err != nil {
		return err
	}
	if err := oneOf("quality.provider", c.Quality.Provider, "laplacian", "http", "none"); err != nil {
		return err
	}
	if err := oneOf("dedup.search_backend", c.Dedup.SearchBackend, "docstore", "vectorstore"); err != nil {
		return err
	}
	if err := oneOf("store.backend", c.Store.Backend, "opensearch", "bolt", "memory"); err != nil {
		return err
	}
	if err := oneOf("vector.backend", c.Vector.Backend, "qdrant", "bolt", "memory"); err != nil {
		return err
	}
	if c.Store.Backend == "opensearch" && len(c.Store.Hosts) == 0 {
		return fmt.Errorf("store.hosts is required for the opensearch backend")
	}
	if c.Quality.Provider == "http" && c.Quality.URL == "" {
		return fmt.Errorf("quality.url is required for the http provider")
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported %s: %q", field, value)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
