// Package config loads and validates lexindex configuration.
// Configuration comes from a YAML file with environment overrides for
// the data directory and log level. Fusion weights and boost factors are
// ranking semantics, not configuration, and live as constants in the
// search package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Env override variables.
const (
	EnvDataDir  = "LEXINDEX_DATA_DIR"
	EnvLogLevel = "LEXINDEX_LOG_LEVEL"
)

// Config represents the complete lexindex configuration.
type Config struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SearchConfig configures result selection defaults.
// These are the thresholding knobs of the ranker, not its scoring
// semantics: weights and boost factors are fixed.
type SearchConfig struct {
	// TopK is the default candidate window per query.
	TopK int `yaml:"top_k"`

	// ScoreThreshold is the minimum normalized final score (0-1).
	ScoreThreshold float64 `yaml:"score_threshold"`

	// MinResults is the floor backfilled in non-strict mode.
	MinResults int `yaml:"min_results"`

	// MaxResults caps the returned result list.
	MaxResults int `yaml:"max_results"`

	// StrictThreshold disables below-threshold backfill.
	StrictThreshold bool `yaml:"strict_threshold"`

	// RerankDepth is how many head candidates the optional reranker rescores.
	RerankDepth int `yaml:"rerank_depth"`
}

// EmbeddingsConfig configures batched embedding generation during rebuilds.
type EmbeddingsConfig struct {
	// Dimensions is the expected vector dimension. 0 means take it from
	// the embedder on first build.
	Dimensions int `yaml:"dimensions"`

	// BatchSize is the number of chunk texts per embedding call.
	BatchSize int `yaml:"batch_size"`

	// Workers is the number of concurrent embedding batches.
	Workers int `yaml:"workers"`

	// CacheSize is the query-embedding LRU cache capacity.
	CacheSize int `yaml:"cache_size"`
}

// WatcherConfig configures the source-folder watcher.
type WatcherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			TopK:           20,
			ScoreThreshold: 0.3,
			MinResults:     3,
			MaxResults:     10,
			RerankDepth:    20,
		},
		Embeddings: EmbeddingsConfig{
			BatchSize: 32,
			Workers:   4,
			CacheSize: 256,
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: "2s",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".lexindex")
	}
	return filepath.Join(home, ".lexindex")
}

// Load reads configuration from path, falling back to defaults for any
// unset field and applying environment overrides last. A missing file is
// not an error; an unreadable or malformed file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.applyEnv()
				return cfg, cfg.Validate()
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.ScoreThreshold < 0 || c.Search.ScoreThreshold > 1 {
		return fmt.Errorf("search.score_threshold must be in [0,1], got %g", c.Search.ScoreThreshold)
	}
	if c.Search.MinResults < 0 {
		return fmt.Errorf("search.min_results must not be negative")
	}
	if c.Search.MaxResults < c.Search.MinResults {
		return fmt.Errorf("search.max_results (%d) must be >= search.min_results (%d)",
			c.Search.MaxResults, c.Search.MinResults)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.Workers <= 0 {
		return fmt.Errorf("embeddings.workers must be positive, got %d", c.Embeddings.Workers)
	}
	if _, err := c.DebounceDuration(); err != nil {
		return fmt.Errorf("watcher.debounce: %w", err)
	}
	return nil
}

// DebounceDuration parses the watcher debounce interval.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Watcher.Debounce == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(c.Watcher.Debounce)
}

// LogFilePath returns the configured log file path, defaulting to a file
// under the data directory.
func (c *Config) LogFilePath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.DataDir, "logs", "lexindex.log")
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
