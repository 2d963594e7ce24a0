package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/renameio"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-index/internal/models"
)

const docstoreVersion = 1

// Document represents our data structure with content and metadata
type Document struct {
	ID          string
	Fingerprint string
	Content     string
	Metadata    map[string]string
	Embedding   []float32
}

// Result is a similarity match
type Result struct {
	Document
	Similarity float32
}

// Docstore is the JSON artifact listing every vector id and the
// fingerprint it was ingested under.
type Docstore struct {
	Version        int               `json:"version"`
	Collection     string            `json:"collection"`
	Dimensions     int               `json:"dimensions"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Documents      map[string]string `json:"documents"`
}

// Options configure how the collection is persisted
type Options struct {
	Collection     string
	Compress       bool
	EncryptionKey  string
	EmbeddingModel string
}

// VectorDBManager encapsulates the chromem-go database for one index directory.
// The collection is held in memory and exported to the directory on Save.
// Mutations must be serialized by the caller.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	dir        string
	opts       Options
	docstore   Docstore
}

// Exists reports whether both persisted artifacts are present in dir
func Exists(dir string) bool {
	for _, name := range []string{models.VectorFileName, models.DocstoreFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// NewVectorDBManager creates an empty in-memory collection bound to dir.
// embed is used by chromem only when a document or query has no embedding.
func NewVectorDBManager(dir string, opts Options, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	if opts.Collection == "" {
		opts.Collection = "chunks"
	}
	db := chromem.NewDB()
	c, err := db.CreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &VectorDBManager{
		db:         db,
		collection: c,
		dir:        dir,
		opts:       opts,
		docstore: Docstore{
			Version:        docstoreVersion,
			Collection:     opts.Collection,
			EmbeddingModel: opts.EmbeddingModel,
			Documents:      make(map[string]string),
		},
	}, nil
}

// Load imports the persisted collection and docstore from dir.
// Docstore entries whose vector is missing are dropped and reported.
func Load(ctx context.Context, dir string, opts Options, embed chromem.EmbeddingFunc) (*VectorDBManager, []string, error) {
	if opts.Collection == "" {
		opts.Collection = "chunks"
	}

	ds, err := readDocstore(filepath.Join(dir, models.DocstoreFileName))
	if err != nil {
		return nil, nil, err
	}
	if ds.Collection != "" && ds.Collection != opts.Collection {
		return nil, nil, fmt.Errorf("docstore collection %q does not match %q", ds.Collection, opts.Collection)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(filepath.Join(dir, models.VectorFileName), opts.EncryptionKey, opts.Collection); err != nil {
		return nil, nil, fmt.Errorf("failed to import vector index: %w", err)
	}
	c := db.GetCollection(opts.Collection, embed)
	if c == nil {
		return nil, nil, fmt.Errorf("vector index has no collection %q", opts.Collection)
	}

	m := &VectorDBManager{db: db, collection: c, dir: dir, opts: opts, docstore: *ds}
	if m.docstore.Documents == nil {
		m.docstore.Documents = make(map[string]string)
	}

	var dropped []string
	for id := range m.docstore.Documents {
		if _, err := c.GetByID(ctx, id); err != nil {
			dropped = append(dropped, id)
			delete(m.docstore.Documents, id)
		}
	}
	if len(dropped) > 0 {
		log.Warn().Str("dir", dir).Int("dropped", len(dropped)).Msg("Docstore entries without vectors dropped")
	}
	return m, dropped, nil
}

func readDocstore(path string) (*Docstore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read docstore: %w", err)
	}
	var ds Docstore
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse docstore: %w", err)
	}
	if ds.Version > docstoreVersion {
		return nil, fmt.Errorf("docstore version %d is newer than supported %d", ds.Version, docstoreVersion)
	}
	return &ds, nil
}

func (m *VectorDBManager) Dir() string { return m.dir }

func (m *VectorDBManager) Count() int { return m.collection.Count() }

// Dimensions is 0 until the first document is added
func (m *VectorDBManager) Dimensions() int { return m.docstore.Dimensions }

// Fingerprints returns every fingerprint with at least one stored vector
func (m *VectorDBManager) Fingerprints() map[string]bool {
	fps := make(map[string]bool, len(m.docstore.Documents))
	for _, fp := range m.docstore.Documents {
		fps[fp] = true
	}
	return fps
}

// Has reports whether a vector with this id is stored
func (m *VectorDBManager) Has(id string) bool {
	_, ok := m.docstore.Documents[id]
	return ok
}

// CreateDocs adds documents with precomputed embeddings
func (m *VectorDBManager) CreateDocs(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	dims := m.docstore.Dimensions
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		if dims == 0 {
			dims = len(doc.Embedding)
		}
		if len(doc.Embedding) != dims {
			return fmt.Errorf("document %s has %d dimensions, index has %d", doc.ID, len(doc.Embedding), dims)
		}
		meta := make(map[string]string, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[models.MetaFingerprint] = doc.Fingerprint
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  meta,
			Embedding: doc.Embedding,
		}
	}

	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	m.docstore.Dimensions = dims
	for _, doc := range docs {
		m.docstore.Documents[doc.ID] = doc.Fingerprint
	}
	return nil
}

// DeleteDocs removes documents by id from the collection and the docstore
func (m *VectorDBManager) DeleteDocs(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	for _, id := range ids {
		delete(m.docstore.Documents, id)
	}
	if len(m.docstore.Documents) == 0 {
		m.docstore.Dimensions = 0
	}
	return nil
}

// SearchEmbedding returns the top n documents by cosine similarity.
// n is clamped to the collection size.
func (m *VectorDBManager) SearchEmbedding(ctx context.Context, embedding []float32, n int) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if dims := m.docstore.Dimensions; dims != 0 && len(embedding) != dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(embedding), dims)
	}
	n = min(n, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{
			Document: Document{
				ID:          r.ID,
				Fingerprint: r.Metadata[models.MetaFingerprint],
				Content:     r.Content,
				Metadata:    r.Metadata,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// Save persists the docstore and then the vector file, each synced to a
// temp file and renamed into place. The docstore goes first so a crash in
// between leaves docstore entries without vectors, which Load detects and
// drops. Save does not modify the manager.
func (m *VectorDBManager) Save() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	ds := m.docstore
	ds.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal docstore: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(m.dir, models.DocstoreFileName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to save docstore: %w", err)
	}

	log.Debug().Str("dir", m.dir).Str("collection", m.collection.Name).Bool("compress", m.opts.Compress).Msg("Exporting vector index")
	if err := m.exportVectors(filepath.Join(m.dir, models.VectorFileName)); err != nil {
		return fmt.Errorf("failed to export vector index: %w", err)
	}
	return nil
}

func (m *VectorDBManager) exportVectors(path string) error {
	t, err := renameio.TempFile(m.dir, path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if err := m.db.ExportToWriter(t, m.opts.Compress, m.opts.EncryptionKey, m.collection.Name); err != nil {
		return err
	}
	if err := t.Chmod(0o644); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
