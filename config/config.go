// Package config loads the vecindex-mcp configuration from a YAML file,
// applying defaults first and environment overrides last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/ignore"
)

// FileName is the project-level config file looked up in the root directory.
const FileName = ".vecindex.yaml"

// Config is the complete vecindex-mcp configuration.
type Config struct {
	Root        string            `yaml:"root"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retry       RetryConfig       `yaml:"retry"`
	Freshness   FreshnessConfig   `yaml:"freshness"`
	Watch       WatchConfig       `yaml:"watch"`
	Sync        SyncConfig        `yaml:"sync"`
	Exclusion   ignore.Config     `yaml:"exclusion"`
	Log         LogConfig         `yaml:"log"`
}

// IndexingConfig controls the indexing engine.
type IndexingConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	BatchSize      int    `yaml:"batch_size"`
	Incremental    bool   `yaml:"incremental"`
	Persist        bool   `yaml:"persist"`
	StateDir       string `yaml:"state_dir"` // relative to Root unless absolute
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider         string        `yaml:"provider"` // openai | ollama
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	Dimensions       int           `yaml:"dimensions"`
	StrictDimensions bool          `yaml:"strict_dimensions"`
	MaxInputChars    int           `yaml:"max_input_chars"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheSize        int           `yaml:"cache_size"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Backend    string        `yaml:"backend"` // qdrant | local
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RetryConfig is the retry ceiling shared by embedding and store calls.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// FreshnessConfig bounds how long vector entries stay searchable.
type FreshnessConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
	PurgeEnabled  bool          `yaml:"purge_enabled"`
	Overfetch     int           `yaml:"overfetch"`
	ValidateIndex bool          `yaml:"validate_index"`
}

// WatchConfig controls the file watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// SyncConfig controls the periodic consistency check. Zero disables it.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	retry := errs.DefaultRetryConfig()
	return Config{
		Indexing: IndexingConfig{
			MaxConcurrency: 4,
			BatchSize:      10,
			Incremental:    true,
			Persist:        true,
			StateDir:       ".vecindex",
		},
		Embedding: EmbeddingConfig{
			Provider:      "openai",
			URL:           "http://localhost:11434/v1",
			Model:         "nomic-embed-text",
			Dimensions:    768,
			MaxInputChars: 8000,
			Timeout:       60 * time.Second,
			CacheSize:     1000,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "qdrant",
			URL:        "http://localhost:6333",
			Collection: "vecindex",
			Timeout:    30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:   retry.MaxRetries,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
		},
		Freshness: FreshnessConfig{
			TTL:           30 * 24 * time.Hour,
			PurgeInterval: time.Hour,
			PurgeEnabled:  true,
			Overfetch:     3,
			ValidateIndex: true,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
		Exclusion: ignore.DefaultConfig(),
	}
}

// Load reads the config file at path over the defaults. An empty path means
// <root>/.vecindex.yaml; a missing file is not an error.
func Load(root, path string) (Config, error) {
	cfg := Default()
	cfg.Root = root

	if path == "" {
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errs.New(errs.KindConfig, "parsing "+path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, errs.New(errs.KindConfig, "reading "+path, err)
	}

	if cfg.Root == "" {
		cfg.Root = root
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"VECINDEX_EMBEDDING_API_KEY", &c.Embedding.APIKey},
		{"VECINDEX_EMBEDDING_URL", &c.Embedding.URL},
		{"VECINDEX_EMBEDDING_MODEL", &c.Embedding.Model},
		{"VECINDEX_QDRANT_URL", &c.VectorStore.URL},
		{"VECINDEX_QDRANT_API_KEY", &c.VectorStore.APIKey},
		{"VECINDEX_COLLECTION", &c.VectorStore.Collection},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			*o.target = v
		}
	}
}

// StatePath returns the absolute state directory.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.Indexing.StateDir) {
		return c.Indexing.StateDir
	}
	return filepath.Join(c.Root, c.Indexing.StateDir)
}

// Validate checks values the engine cannot work around.
func (c *Config) Validate() error {
	var problems []string

	if c.Root == "" {
		problems = append(problems, "root is required")
	}
	if c.Indexing.MaxConcurrency <= 0 {
		problems = append(problems, "indexing.max_concurrency must be positive")
	}
	if c.Indexing.BatchSize <= 0 {
		problems = append(problems, "indexing.batch_size must be positive")
	}
	if c.Indexing.StateDir == "" {
		problems = append(problems, "indexing.state_dir is required")
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider %q is not one of openai|ollama", c.Embedding.Provider))
	}
	if c.Embedding.Model == "" {
		problems = append(problems, "embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	switch c.VectorStore.Backend {
	case "qdrant":
		if c.VectorStore.URL == "" {
			problems = append(problems, "vector_store.url is required for qdrant")
		}
	case "local":
	default:
		problems = append(problems, fmt.Sprintf("vector_store.backend %q is not one of qdrant|local", c.VectorStore.Backend))
	}
	if c.VectorStore.Collection == "" {
		problems = append(problems, "vector_store.collection is required")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Freshness.TTL <= 0 {
		problems = append(problems, "freshness.ttl must be positive")
	}
	if c.Freshness.Overfetch < 1 {
		problems = append(problems, "freshness.overfetch must be at least 1")
	}

	if len(problems) > 0 {
		return errs.New(errs.KindConfig, "validating config", fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}

// RetryPolicy converts the YAML retry section to the errs form.
func (c *Config) RetryPolicy() errs.RetryConfig {
	return errs.RetryConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
	}
}
