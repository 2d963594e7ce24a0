package indexstore

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"

	"document-index/internal/errs"
)

var _ schema.Retriever = (*Retriever)(nil)

// Retriever returns the k chunks most similar to a query, best first.
// Document metadata values are strings as persisted; Score is the cosine
// similarity.
type Retriever struct {
	store *Store
	k     int
}

// AsRetriever returns a top-k retriever over the loaded index.
func (s *Store) AsRetriever(k int) (*Retriever, error) {
	const op = "indexstore.AsRetriever"
	if !s.initialized() {
		return nil, errs.Wrap(op, errs.ErrNotInitialized).WithDir(s.dir)
	}
	if k <= 0 {
		return nil, errs.E(op, errs.KindValidation,
			fmt.Errorf("%w: k must be > 0, got %d", errs.ErrInvalidChunkConfig, k)).WithDir(s.dir)
	}
	return &Retriever{store: s, k: k}, nil
}

func (r *Retriever) K() int { return r.k }

func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	vec, err := r.store.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errs.E("indexstore.Retrieve", errs.KindEmbedding, fmt.Errorf("failed to embed query: %w", err)).WithDir(r.store.dir)
	}
	return r.Search(ctx, vec)
}

// Search ranks stored chunks against a precomputed query vector.
func (r *Retriever) Search(ctx context.Context, vector []float32) ([]schema.Document, error) {
	const op = "indexstore.Search"
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errs.Wrap(op, errs.ErrNotInitialized).WithDir(s.dir)
	}
	if dims := s.db.Dimensions(); dims != 0 && len(vector) != dims {
		return nil, errs.E(op, errs.KindEmbedding,
			fmt.Errorf("%w: query has %d, index has %d", errs.ErrDimensionMismatch, len(vector), dims)).WithDir(s.dir)
	}

	results, err := s.db.SearchEmbedding(ctx, vector, r.k)
	if err != nil {
		return nil, errs.E(op, errs.KindOther, err).WithDir(s.dir)
	}
	docs := make([]schema.Document, len(results))
	for i, res := range results {
		meta := make(map[string]any, len(res.Metadata))
		for k, v := range res.Metadata {
			meta[k] = v
		}
		docs[i] = schema.Document{PageContent: res.Content, Metadata: meta, Score: res.Similarity}
	}
	return docs, nil
}
