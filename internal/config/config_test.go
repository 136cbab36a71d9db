package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.Search.TopK)
	assert.Equal(t, 0.3, cfg.Search.ScoreThreshold)
	assert.Equal(t, 3, cfg.Search.MinResults)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Search.TopK, cfg.Search.TopK)
}

func TestLoad_ParsesYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
data_dir: /tmp/lexindex-test
search:
  top_k: 50
  score_threshold: 0.5
  min_results: 2
  max_results: 25
  strict_threshold: true
embeddings:
  batch_size: 16
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/lexindex-test", cfg.DataDir)
	assert.Equal(t, 50, cfg.Search.TopK)
	assert.Equal(t, 0.5, cfg.Search.ScoreThreshold)
	assert.True(t, cfg.Search.StrictThreshold)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	// Unset fields keep defaults.
	assert.Equal(t, 256, cfg.Embeddings.CacheSize)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/env-data")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-data", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_k", func(c *Config) { c.Search.TopK = 0 }},
		{"threshold above 1", func(c *Config) { c.Search.ScoreThreshold = 1.5 }},
		{"max below min", func(c *Config) { c.Search.MinResults = 5; c.Search.MaxResults = 2 }},
		{"zero batch size", func(c *Config) { c.Embeddings.BatchSize = 0 }},
		{"bad debounce", func(c *Config) { c.Watcher.Debounce = "soon" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDebounceDuration(t *testing.T) {
	cfg := Default()
	cfg.Watcher.Debounce = "500ms"
	d, err := cfg.DebounceDuration()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d)

	cfg.Watcher.Debounce = ""
	d, err = cfg.DebounceDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Search.TopK = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Search.TopK)
}
