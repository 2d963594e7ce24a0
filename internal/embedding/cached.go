package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
)

// CachedEmbedder keeps recent query embeddings in an LRU cache.
// Document embeddings pass straight through since merges only embed new chunks.
type CachedEmbedder struct {
	inner embeddings.Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(inner embeddings.Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = 1000
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Unwrap returns the wrapped embedder.
func (c *CachedEmbedder) Unwrap() embeddings.Embedder { return c.inner }

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedDocuments(ctx, texts)
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) Len() int { return c.cache.Len() }
