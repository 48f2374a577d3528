package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specup-ai/specup/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.WebSearch.Enabled = false // no API key in defaults

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2.3, cfg.Search.WebWeight)
	assert.Equal(t, 1.0, cfg.Search.InternalWeight)
	assert.Equal(t, 12*time.Hour, cfg.Search.QueryCacheTTL.Std())
	assert.Equal(t, 24*time.Hour, cfg.Search.IndexCacheTTL.Std())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err) // defaults enable web search without a key

	t.Setenv("SPECUP_WEB_SEARCH_ENABLED", "false")
	cfg, err = Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Search.MaxEvidence)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  max_evidence: 5
  web_weight: 1.7
  query_cache_ttl: 30m
web_search:
  enabled: false
rerank:
  enabled: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.MaxEvidence)
	assert.Equal(t, 1.7, cfg.Search.WebWeight)
	assert.Equal(t, 30*time.Minute, cfg.Search.QueryCacheTTL.Std())
	assert.False(t, cfg.WebSearch.Enabled)
	// Untouched keys keep defaults.
	assert.Equal(t, 1.0, cfg.Search.InternalWeight)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
search:
  web_weight: 1.5
web_search:
  enabled: false
`), 0o644))

	t.Setenv("SPECUP_WEB_WEIGHT", "3.1")
	t.Setenv("SPECUP_MAX_EVIDENCE", "7")
	t.Setenv("SPECUP_EMBEDDINGS_MODEL", "custom-embedder")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.1, cfg.Search.WebWeight)
	assert.Equal(t, 7, cfg.Search.MaxEvidence)
	assert.Equal(t, "custom-embedder", cfg.Embeddings.Model)
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max evidence", func(c *Config) { c.Search.MaxEvidence = 0 }},
		{"negative web weight", func(c *Config) { c.Search.WebWeight = -1 }},
		{"zero internal weight", func(c *Config) { c.Search.InternalWeight = 0 }},
		{"boost below one", func(c *Config) { c.Search.ClassMatchBoost = 0.5 }},
		{"zero lexical limit", func(c *Config) { c.Search.LexicalLimit = 0 }},
		{"no embedding model", func(c *Config) { c.Embeddings.Model = "" }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"rerank enabled without url", func(c *Config) { c.Rerank.BaseURL = "" }},
		{"web enabled without key", func(c *Config) { c.WebSearch.Enabled = true; c.WebSearch.APIKey = "" }},
		{"no passage db", func(c *Config) { c.Paths.PassageDB = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.WebSearch.Enabled = false
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err), "config errors must be fatal")
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
web_search:
  enabled: false
  timeout: 90
embeddings:
  timeout: 1m30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.WebSearch.Timeout.Std())
	assert.Equal(t, 90*time.Second, cfg.Embeddings.Timeout.Std())
}

func TestSave_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "specup.yaml")
	cfg := Default()
	cfg.WebSearch.Enabled = false
	cfg.Search.MaxEvidence = 4

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Search.MaxEvidence)
	assert.Equal(t, cfg.Search.WebWeight, loaded.Search.WebWeight)
}
