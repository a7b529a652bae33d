package config

import (
	"fmt"
	"strings"
)

// Config represents the main engram configuration
type Config struct {
	// Database
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Embeddings
	Embeddings EmbeddingsConfig `json:"embeddings" mapstructure:"embeddings"`

	// Search
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// DatabaseConfig holds datastore settings
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// EmbeddingsConfig holds embedding provider settings
type EmbeddingsConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai, none
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
}

// SearchConfig holds hybrid search tuning
type SearchConfig struct {
	VectorWeight   float64 `json:"vector_weight" mapstructure:"vector_weight"`
	TextWeight     float64 `json:"text_weight" mapstructure:"text_weight"`
	MinScore       float64 `json:"min_score" mapstructure:"min_score"`
	BM25Saturation float64 `json:"bm25_saturation" mapstructure:"bm25_saturation"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "", // resolved by the loader to ~/.engram/engram.db
		},
		Embeddings: EmbeddingsConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Search: SearchConfig{
			VectorWeight: 0.7,
			TextWeight:   0.3,
			MinScore:     0.1,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "openai":
		if c.Embeddings.APIKey != "" && !strings.HasPrefix(c.Embeddings.APIKey, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "none", "":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}

	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	if c.Search.BM25Saturation < 0 {
		return fmt.Errorf("bm25_saturation must be non-negative")
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	return nil
}
