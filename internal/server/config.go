// Package server implements the lacuna HTTP server.
//
// This file defines the YAML configuration for the whole server: listen
// address, store location, engine strategy selection, the overview journal
// and the background vectorizer workers. Parsing is strict (unknown keys are
// rejected) and environment variables in the file are expanded first, so
// secrets like API keys can live outside the file.
package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/lacuna/pkg/embeddings"
)

// Config is the top-level server configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Store       StoreConfig        `yaml:"store"`
	Engine      EngineConfig       `yaml:"engine"`
	Journal     JournalConfig      `yaml:"journal"`
	Embedder    EmbedderConfig     `yaml:"embedder"`
	Vectorizers []VectorizerConfig `yaml:"vectorizers"`
}

// ServerConfig holds the HTTP listener settings. An empty AuthToken disables
// authentication; when set, every /api route requires it as a Bearer token.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// StoreConfig locates the SQLite database and the memory-mapped vector cache.
type StoreConfig struct {
	Path           string `yaml:"path"`
	CacheDir       string `yaml:"cache_dir"`
	CachePrecision string `yaml:"cache_precision"` // "float32" or "float16"
}

// EngineConfig tunes the overview pipeline.
type EngineConfig struct {
	PreferredModel  string `yaml:"preferred_model"`
	ClusterStrategy string `yaml:"cluster_strategy"` // "modularity" or "threshold"
	LayoutStrategy  string `yaml:"layout_strategy"`  // "neighbor-embedding" or "pca"
}

// JournalConfig locates the overview persist journal. Empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// EmbedderConfig defines how query text is turned into a vector. Type ""
// disables the embedder (semantic scope expansion is then skipped).
type EmbedderConfig struct {
	Type      string `yaml:"type"` // "ollama" or "openai"
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	Timeout   string `yaml:"timeout"`
	APIKey    string `yaml:"api_key"`
	CacheSize int    `yaml:"cache_size"`
}

// VectorizerConfig defines one background worker that embeds stored patents
// still missing a vector for Model.
type VectorizerConfig struct {
	Name      string         `yaml:"name"`
	Model     string         `yaml:"model"`
	Schedule  string         `yaml:"schedule"` // e.g. "30s", "5m"
	BatchSize int            `yaml:"batch_size"`
	Embedder  EmbedderConfig `yaml:"embedder"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Addr: ":9091"},
		Store:  StoreConfig{Path: "lacuna.db", CachePrecision: "float32"},
	}
}

// LoadConfig reads and parses the YAML configuration at path, overlaying it
// on the defaults. Strict mode (KnownFields) turns typos into errors instead
// of silently ignored settings.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	return &cfg, nil
}

// NewEmbedder builds the configured embedder, wrapped in the memoizing
// cache. Returns nil when no embedder is configured.
func (c EmbedderConfig) NewEmbedder() (embeddings.Embedder, error) {
	if c.Type == "" {
		return nil, nil
	}

	timeout := time.Duration(0)
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid embedder timeout '%s': %w", c.Timeout, err)
		}
		timeout = d
	}

	var inner embeddings.Embedder
	switch c.Type {
	case "ollama":
		inner = embeddings.NewOllamaEmbedder(c.URL, c.Model, timeout)
	case "openai":
		inner = embeddings.NewOpenAIEmbedder(c.URL, c.Model, c.APIKey, timeout)
	default:
		return nil, fmt.Errorf("unsupported embedder type '%s'", c.Type)
	}
	return embeddings.NewCachedEmbedder(inner, c.CacheSize), nil
}
