// Package config loads and validates engine configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Config file (specup.yaml)
//  3. Environment variables (SPECUP_*)
//
// Validation is fail-fast: a pipeline built from an invalid config must
// refuse to construct rather than degrade at query time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specup-ai/specup/internal/errors"
)

// Duration wraps time.Duration with YAML support for strings like "8s".
type Duration time.Duration

// UnmarshalYAML parses either a duration string or a bare number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root engine configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// DataDir is the root for engine state (default ~/.specup).
	DataDir string `yaml:"data_dir"`
	// PassageDB is the SQLite passage store path. Defaults under DataDir.
	PassageDB string `yaml:"passage_db"`
	// VectorIndex is the HNSW index path. Defaults under DataDir.
	VectorIndex string `yaml:"vector_index"`
}

// SearchConfig tunes retrieval, fusion, and caching.
type SearchConfig struct {
	// MaxEvidence caps the final evidence set size.
	MaxEvidence int `yaml:"max_evidence"`

	// LexicalLimit and VectorLimit cap per-origin candidates.
	LexicalLimit int `yaml:"lexical_limit"`
	VectorLimit  int `yaml:"vector_limit"`

	// WebWeight and InternalWeight blend origins after reranking. The
	// defaults bias toward fresh web evidence for patch-sensitive answers.
	WebWeight      float64 `yaml:"web_weight"`
	InternalWeight float64 `yaml:"internal_weight"`

	// ClassMatchBoost multiplies scores of passages tagged with the
	// asking character's class.
	ClassMatchBoost float64 `yaml:"class_match_boost"`

	// PopularityBoost multiplies scores of passages whose view or like
	// counts clear the thresholds below.
	PopularityBoost float64 `yaml:"popularity_boost"`
	ViewsThreshold  int     `yaml:"views_threshold"`
	LikesThreshold  int     `yaml:"likes_threshold"`

	// QueryCacheTTL bounds memoized query results; IndexCacheTTL bounds
	// built lexical indexes.
	QueryCacheTTL Duration `yaml:"query_cache_ttl"`
	IndexCacheTTL Duration `yaml:"index_cache_ttl"`

	// QueryCacheSize caps memoized query results.
	QueryCacheSize int `yaml:"query_cache_size"`
}

// EmbeddingsConfig configures the embedding service client.
type EmbeddingsConfig struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	BatchSize  int      `yaml:"batch_size"`
	Timeout    Duration `yaml:"timeout"`
}

// RerankConfig configures the cross-encoder client.
type RerankConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Model     string   `yaml:"model"`
	BatchSize int      `yaml:"batch_size"`
	Timeout   Duration `yaml:"timeout"`
}

// WebSearchConfig configures web augmentation.
type WebSearchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Timeout     Duration `yaml:"timeout"`
	MaxSnippets int      `yaml:"max_snippets"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:     dataDir,
			PassageDB:   filepath.Join(dataDir, "passages.db"),
			VectorIndex: filepath.Join(dataDir, "vectors.hnsw"),
		},
		Search: SearchConfig{
			MaxEvidence:     10,
			LexicalLimit:    20,
			VectorLimit:     20,
			WebWeight:       2.3,
			InternalWeight:  1.0,
			ClassMatchBoost: 1.15,
			PopularityBoost: 1.1,
			ViewsThreshold:  10000,
			LikesThreshold:  100,
			QueryCacheTTL:   Duration(12 * time.Hour),
			IndexCacheTTL:   Duration(24 * time.Hour),
			QueryCacheSize:  512,
		},
		Embeddings: EmbeddingsConfig{
			BaseURL:    "http://localhost:8001/v1",
			Model:      "bge-m3",
			Dimensions: 1024,
			BatchSize:  32,
			Timeout:    Duration(30 * time.Second),
		},
		Rerank: RerankConfig{
			Enabled:   true,
			BaseURL:   "http://localhost:8002",
			Model:     "bge-reranker-v2-m3",
			BatchSize: 32,
			Timeout:   Duration(10 * time.Second),
		},
		WebSearch: WebSearchConfig{
			Enabled:     true,
			BaseURL:     "https://api.perplexity.ai",
			Model:       "sonar",
			Timeout:     Duration(8 * time.Second),
			MaxSnippets: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".specup")
	}
	return filepath.Join(home, ".specup")
}

// Load builds the config from defaults, an optional YAML file, and SPECUP_*
// environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.ConfigError(fmt.Sprintf("read config %s", path), err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("parse config %s", path), err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SPECUP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPECUP_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SPECUP_PASSAGE_DB"); v != "" {
		c.Paths.PassageDB = v
	}
	if v := os.Getenv("SPECUP_WEB_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.WebWeight = f
		}
	}
	if v := os.Getenv("SPECUP_MAX_EVIDENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.MaxEvidence = n
		}
	}
	if v := os.Getenv("SPECUP_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("SPECUP_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("SPECUP_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SPECUP_RERANK_BASE_URL"); v != "" {
		c.Rerank.BaseURL = v
	}
	if v := os.Getenv("SPECUP_RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SPECUP_WEB_SEARCH_API_KEY"); v != "" {
		c.WebSearch.APIKey = v
	}
	if v := os.Getenv("SPECUP_WEB_SEARCH_ENABLED"); v != "" {
		c.WebSearch.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SPECUP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks invariants that would otherwise surface as wrong answers
// at query time.
func (c *Config) Validate() error {
	s := c.Search
	if s.MaxEvidence <= 0 {
		return errors.ConfigError(fmt.Sprintf("search.max_evidence must be positive, got %d", s.MaxEvidence), nil)
	}
	if s.LexicalLimit <= 0 || s.VectorLimit <= 0 {
		return errors.ConfigError("search.lexical_limit and search.vector_limit must be positive", nil)
	}
	if s.WebWeight <= 0 || s.InternalWeight <= 0 {
		return errors.ConfigError(fmt.Sprintf("blend weights must be positive, got web=%g internal=%g", s.WebWeight, s.InternalWeight), nil)
	}
	if s.ClassMatchBoost < 1 || s.PopularityBoost < 1 {
		return errors.ConfigError("boosts must be at least 1.0", nil)
	}
	if s.QueryCacheSize <= 0 {
		return errors.ConfigError("search.query_cache_size must be positive", nil)
	}

	if c.Embeddings.BaseURL == "" || c.Embeddings.Model == "" {
		return errors.ConfigError("embeddings.base_url and embeddings.model are required", nil)
	}
	if c.Embeddings.Dimensions <= 0 {
		return errors.ConfigError(fmt.Sprintf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions), nil)
	}

	if c.Rerank.Enabled && (c.Rerank.BaseURL == "" || c.Rerank.Model == "") {
		return errors.ConfigError("rerank.base_url and rerank.model are required when rerank is enabled", nil)
	}
	if c.WebSearch.Enabled && c.WebSearch.APIKey == "" {
		return errors.ConfigError("web_search.api_key is required when web search is enabled", nil).
			WithSuggestion("set SPECUP_WEB_SEARCH_API_KEY or disable web_search")
	}

	if c.Paths.PassageDB == "" {
		return errors.ConfigError("paths.passage_db is required", nil)
	}

	return nil
}

// Save writes the config as YAML.
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
