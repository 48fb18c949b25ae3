// Package config loads the daemon configuration: a YAML file merged over
// built-in defaults, with the file winning wherever it sets a value.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig locates the SQLite database and its migrations.
type DatabaseConfig struct {
	Path           string `yaml:"path,omitempty"`            // SQLite file path
	MigrationsPath string `yaml:"migrations_path,omitempty"` // directory with *.sql migrations
}

// CacheConfig selects and parameterizes the cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend,omitempty"` // "memory", "filesystem", or "database"
	Dir     string `yaml:"dir,omitempty"`     // root directory for the filesystem backend
}

// MemoryConfig tunes the duplicate gate.
type MemoryConfig struct {
	MatchThreshold    float64 `yaml:"match_threshold,omitempty"`     // similarity at/above which a write is flagged non-unique
	UniqueSampleCount int     `yaml:"unique_sample_count,omitempty"` // neighbors the gate samples
}

// KnowledgeConfig tunes document chunking and retrieval.
type KnowledgeConfig struct {
	ChunkSize         int     `yaml:"chunk_size,omitempty"`
	Bleed             int     `yaml:"bleed,omitempty"`
	RetrieveThreshold float64 `yaml:"retrieve_threshold,omitempty"`
	RetrieveCount     int     `yaml:"retrieve_count,omitempty"`
}

// EmbedderConfig selects the embedding model.
type EmbedderConfig struct {
	Model string `yaml:"model,omitempty"` // Ollama embedding model name
}

// IngestConfig drives the platform polling loop.
type IngestConfig struct {
	Schedule     string `yaml:"schedule,omitempty"`      // cron expression or Go duration, e.g. "5m"
	MentionLimit int    `yaml:"mention_limit,omitempty"` // mentions fetched per poll
}

// Config is the root configuration object.
type Config struct {
	AgentID   string          `yaml:"agent_id,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Memory    MemoryConfig    `yaml:"memory,omitempty"`
	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty"`
	Embedder  EmbedderConfig  `yaml:"embedder,omitempty"`
	Ingest    IngestConfig    `yaml:"ingest,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path:           "recall.db",
			MigrationsPath: "migrations",
		},
		Cache: CacheConfig{
			Backend: "memory",
			Dir:     "cache",
		},
		Memory: MemoryConfig{
			MatchThreshold:    0.95,
			UniqueSampleCount: 5,
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:         512,
			Bleed:             20,
			RetrieveThreshold: 0.1,
			RetrieveCount:     10,
		},
		Embedder: EmbedderConfig{
			Model: "mxbai-embed-large",
		},
		Ingest: IngestConfig{
			Schedule:     "5m",
			MentionLimit: 20,
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recall.yaml"
	}
	return filepath.Join(home, ".config", "recall", "config.yaml")
}

// Load reads the YAML file at path and merges it over the defaults. A
// missing file is not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	// File values override defaults wherever set.
	if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "memory", "filesystem", "database":
	default:
		return fmt.Errorf("invalid cache backend %q", c.Cache.Backend)
	}
	if c.Memory.MatchThreshold <= 0 || c.Memory.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold must be in (0, 1], got %v", c.Memory.MatchThreshold)
	}
	if c.Knowledge.Bleed >= c.Knowledge.ChunkSize {
		return fmt.Errorf("bleed (%d) must be smaller than chunk_size (%d)",
			c.Knowledge.Bleed, c.Knowledge.ChunkSize)
	}
	return nil
}
