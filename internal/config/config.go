package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultK              = 5
	DefaultStoreCacheSize = 32
	DefaultQueryCacheSize = 1000
	encryptionKeyLen      = 32
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// IngestConfig controls where uploads and indexes live and how documents are chunked.
type IngestConfig struct {
	DataDir         string `yaml:"data_dir"`
	IndexDir        string `yaml:"index_dir"`
	SessionDirs     bool   `yaml:"session_dirs"`
	ChunkSize       int    `yaml:"chunk_size"`
	ChunkOverlap    int    `yaml:"chunk_overlap"`
	K               int    `yaml:"k"`
	StoreCacheSize  int    `yaml:"store_cache_size"`
	LoadConcurrency int    `yaml:"load_concurrency"`
}

type IndexConfig struct {
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	BatchSize      int    `yaml:"batch_size"`
	Dimensions     int    `yaml:"dimensions"`
	QueryCacheSize int    `yaml:"query_cache_size"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8083"},
		Log:    LogConfig{Level: "info", Pretty: true},
		Ingest: IngestConfig{
			DataDir:         "data",
			IndexDir:        "vector_index",
			SessionDirs:     true,
			ChunkSize:       DefaultChunkSize,
			ChunkOverlap:    DefaultChunkOverlap,
			K:               DefaultK,
			StoreCacheSize:  DefaultStoreCacheSize,
			LoadConcurrency: 4,
		},
		Index: IndexConfig{Collection: "chunks"},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "nomic-embed-text",
			BatchSize:      32,
			Dimensions:     256,
			QueryCacheSize: DefaultQueryCacheSize,
		},
	}
}

// LoadConfig reads the YAML config at path on top of the defaults.
// A missing file is not an error. A .env file in the working directory is
// loaded first so secrets can be passed through the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCINDEX_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("DOCINDEX_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Ingest.DataDir == "" {
		cfg.Ingest.DataDir = def.Ingest.DataDir
	}
	if cfg.Ingest.IndexDir == "" {
		cfg.Ingest.IndexDir = def.Ingest.IndexDir
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = DefaultChunkSize
		if cfg.Ingest.ChunkOverlap == 0 {
			cfg.Ingest.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if cfg.Ingest.K == 0 {
		cfg.Ingest.K = DefaultK
	}
	if cfg.Ingest.StoreCacheSize <= 0 {
		cfg.Ingest.StoreCacheSize = DefaultStoreCacheSize
	}
	if cfg.Ingest.LoadConcurrency <= 0 {
		cfg.Ingest.LoadConcurrency = def.Ingest.LoadConcurrency
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = def.Embedding.Dimensions
	}
	if cfg.Embedding.QueryCacheSize <= 0 {
		cfg.Embedding.QueryCacheSize = DefaultQueryCacheSize
	}
}

// Validate checks the values that the ingestion pipeline relies on.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, %d), got %d", c.Ingest.ChunkSize, c.Ingest.ChunkOverlap)
	}
	if c.Ingest.K <= 0 {
		return fmt.Errorf("ingest.k must be > 0, got %d", c.Ingest.K)
	}
	if c.Index.EncryptionKey != "" && len(c.Index.EncryptionKey) != encryptionKeyLen {
		return fmt.Errorf("index.encryption_key must be %d bytes", encryptionKeyLen)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	return nil
}
