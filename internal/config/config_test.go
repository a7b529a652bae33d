package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 0.3, cfg.Search.TextWeight)
	assert.Equal(t, 0.1, cfg.Search.MinScore)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"no provider", func(c *Config) { c.Embeddings.Provider = "none" }, false},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "bedrock" }, true},
		{"bad api key", func(c *Config) { c.Embeddings.APIKey = "nope" }, true},
		{"good api key", func(c *Config) { c.Embeddings.APIKey = "sk-test" }, false},
		{"negative weight", func(c *Config) { c.Search.VectorWeight = -1 }, true},
		{"negative saturation", func(c *Config) { c.Search.BM25Saturation = -5 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoader_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engram.json")
	body := `{
		"database": {"path": "` + filepath.ToSlash(filepath.Join(dir, "db.sqlite")) + `"},
		"embeddings": {"provider": "none"},
		"search": {"vector_weight": 0.5, "text_weight": 0.5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, filepath.ToSlash(filepath.Join(dir, "db.sqlite")), cfg.Database.Path)
}
