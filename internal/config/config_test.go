package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultChunkSize, cfg.Ingest.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, DefaultK, cfg.Ingest.K)
	assert.True(t, cfg.Ingest.SessionDirs)
	assert.Equal(t, "chunks", cfg.Index.Collection)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestLoadConfig_OverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
ingest:
  data_dir: uploads
  chunk_size: 500
  chunk_overlap: 50
  session_dirs: false
embedding:
  provider: hash
  dimensions: 64
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "uploads", cfg.Ingest.DataDir)
	assert.Equal(t, "vector_index", cfg.Ingest.IndexDir)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlap)
	assert.False(t, cfg.Ingest.SessionDirs)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimensions)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("DOCINDEX_EMBEDDING_API_KEY", "sk-test")
	t.Setenv("DOCINDEX_DATABASE_DSN", "postgres://localhost/docs")

	cfg, err := LoadConfig(writeConfig(t, "embedding:\n  provider: openai\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "postgres://localhost/docs", cfg.Database.DSN)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "ingest: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero chunk size", func(c *Config) { c.Ingest.ChunkSize = 0 }, "chunk_size"},
		{"overlap equals size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }, "chunk_overlap"},
		{"negative overlap", func(c *Config) { c.Ingest.ChunkOverlap = -1 }, "chunk_overlap"},
		{"zero k", func(c *Config) { c.Ingest.K = 0 }, "ingest.k"},
		{"short encryption key", func(c *Config) { c.Index.EncryptionKey = "short" }, "encryption_key"},
		{"valid encryption key", func(c *Config) { c.Index.EncryptionKey = strings.Repeat("k", 32) }, ""},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "magic" }, "unknown embedding provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
