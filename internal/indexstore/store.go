// Package indexstore owns one persistent vector index directory: the
// chromem-go collection, its docstore and the ledger of ingested
// fingerprints. It loads or creates the index, merges new chunks into it
// without re-adding rows it has already seen, and answers similarity
// queries through a langchaingo retriever.
package indexstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"

	"document-index/internal/chromemdb"
	"document-index/internal/dirlock"
	"document-index/internal/errs"
	"document-index/internal/fingerprint"
	"document-index/internal/ledger"
	"document-index/internal/models"
)

type Option func(*chromemdb.Options)

func WithCollection(name string) Option {
	return func(o *chromemdb.Options) { o.Collection = name }
}

func WithCompression(on bool) Option {
	return func(o *chromemdb.Options) { o.Compress = on }
}

// WithEncryptionKey encrypts the vector file with AES-GCM. The key must be 32 bytes.
func WithEncryptionKey(key string) Option {
	return func(o *chromemdb.Options) { o.EncryptionKey = key }
}

// WithEmbeddingModel records the embedding model name in the docstore.
func WithEmbeddingModel(name string) Option {
	return func(o *chromemdb.Options) { o.EmbeddingModel = name }
}

// Store is safe for concurrent use. Queries share a read lock; merges are
// serialized per directory across goroutines and processes.
type Store struct {
	dir      string
	embedder embeddings.Embedder
	opts     chromemdb.Options

	mu     sync.RWMutex
	db     *chromemdb.VectorDBManager
	ledger *ledger.Ledger
	stamp  stamp
}

// Stats describes the loaded index.
type Stats struct {
	Dir          string `json:"dir"`
	Initialized  bool   `json:"initialized"`
	Documents    int    `json:"documents"`
	Fingerprints int    `json:"fingerprints"`
	Dimensions   int    `json:"dimensions"`
}

// stamp identifies the docstore revision last read or written by this Store.
type stamp struct {
	modTime int64
	size    int64
}

// New binds a Store to dir. Nothing is read from the index until LoadOrCreate.
func New(dir string, embedder embeddings.Embedder, opts ...Option) (*Store, error) {
	const op = "indexstore.New"
	if strings.TrimSpace(dir) == "" {
		return nil, errs.E(op, errs.KindValidation, errors.New("index directory must be set"))
	}
	if embedder == nil {
		return nil, errs.E(op, errs.KindValidation, errors.New("embedder must be set")).WithDir(dir)
	}
	o := chromemdb.Options{Collection: "chunks"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		dir:      dir,
		embedder: embedder,
		opts:     o,
		ledger:   ledger.Open(filepath.Join(dir, models.LedgerFileName)),
	}, nil
}

func (s *Store) Dir() string { return s.dir }

// Exists reports whether the index artifacts are present on disk.
func (s *Store) Exists() bool { return chromemdb.Exists(s.dir) }

func (s *Store) initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// LoadOrCreate makes the store ready for Merge and queries.
//
// An existing index is loaded and reconciled with its ledger; seeds are
// ignored and 0 is returned. Otherwise a new index is built from seeds and
// the number of chunks indexed is returned. Without an index and without
// seeds it fails with errs.ErrNoIndex and leaves the directory untouched.
func (s *Store) LoadOrCreate(ctx context.Context, seeds []schema.Document) (int, error) {
	const op = "indexstore.LoadOrCreate"
	if !s.Exists() && len(seeds) == 0 {
		return 0, errs.Wrap(op, errs.ErrNoIndex).WithDir(s.dir)
	}

	lock, err := dirlock.Acquire(ctx, s.dir)
	if err != nil {
		return 0, errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}
	defer lock.Release()

	if s.Exists() {
		if err := s.load(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if len(seeds) == 0 {
		return 0, errs.Wrap(op, errs.ErrNoIndex).WithDir(s.dir)
	}

	db, err := chromemdb.NewVectorDBManager(s.dir, s.opts, s.embedFunc)
	if err != nil {
		return 0, errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}
	led := ledger.Open(filepath.Join(s.dir, models.LedgerFileName))
	if n := led.Len(); n > 0 {
		log.Warn().Str("dir", s.dir).Int("fingerprints", n).Msg("Discarding ledger of missing index")
	}
	led.Replace(nil)

	s.mu.Lock()
	s.db, s.ledger, s.stamp = db, led, stamp{}
	s.mu.Unlock()

	n, err := s.merge(ctx, seeds)
	if err != nil {
		s.mu.Lock()
		s.db = nil
		s.mu.Unlock()
		return 0, err
	}
	log.Info().Str("dir", s.dir).Int("chunks", n).Msg("Created vector index")
	return n, nil
}

// Merge adds the chunks whose fingerprint is not yet in the ledger and
// returns how many were indexed. Only the first chunk of each new
// fingerprint is indexed; later chunks with the same fingerprint are skipped.
//
// When the vector artifacts cannot be written the added chunks are rolled
// back and the ledger is untouched. When only the ledger write fails the
// count is returned along with the error; the next load repairs the ledger.
func (s *Store) Merge(ctx context.Context, chunks []schema.Document) (int, error) {
	const op = "indexstore.Merge"
	if !s.initialized() {
		return 0, errs.Wrap(op, errs.ErrNotInitialized).WithDir(s.dir)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	lock, err := dirlock.Acquire(ctx, s.dir)
	if err != nil {
		return 0, errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}
	defer lock.Release()

	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	return s.merge(ctx, chunks)
}

// Refresh reloads the index if another Store or process has saved it since
// this one last read or wrote it.
func (s *Store) Refresh(ctx context.Context) error {
	const op = "indexstore.Refresh"
	if !s.initialized() {
		return errs.Wrap(op, errs.ErrNotInitialized).WithDir(s.dir)
	}
	lock, err := dirlock.Acquire(ctx, s.dir)
	if err != nil {
		return errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}
	defer lock.Release()
	return s.refresh(ctx)
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Dir: s.dir, Initialized: s.db != nil}
	if s.db != nil {
		st.Documents = s.db.Count()
		st.Fingerprints = len(s.db.Fingerprints())
		st.Dimensions = s.db.Dimensions()
	}
	return st
}

type pending struct {
	id          string
	fingerprint string
	doc         schema.Document
}

// merge runs with the directory lock held.
func (s *Store) merge(ctx context.Context, chunks []schema.Document) (int, error) {
	const op = "indexstore.Merge"

	s.mu.RLock()
	batch := s.selectNew(chunks)
	dims := s.db.Dimensions()
	s.mu.RUnlock()

	if len(batch) == 0 {
		log.Debug().Str("dir", s.dir).Int("chunks", len(chunks)).Msg("No new chunks to merge")
		return 0, nil
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.doc.PageContent
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, errs.E(op, errs.KindEmbedding, fmt.Errorf("failed to embed %d chunks: %w", len(texts), err)).WithDir(s.dir)
	}
	if len(vectors) != len(batch) {
		return 0, errs.E(op, errs.KindEmbedding,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))).WithDir(s.dir)
	}

	docs := make([]chromemdb.Document, len(batch))
	for i, p := range batch {
		if dims == 0 {
			dims = len(vectors[i])
		}
		if len(vectors[i]) == 0 || len(vectors[i]) != dims {
			return 0, errs.E(op, errs.KindEmbedding,
				fmt.Errorf("%w: got %d, index has %d", errs.ErrDimensionMismatch, len(vectors[i]), dims)).WithDir(s.dir)
		}
		docs[i] = chromemdb.Document{
			ID:          p.id,
			Fingerprint: p.fingerprint,
			Content:     p.doc.PageContent,
			Metadata:    stringMetadata(p.doc.Metadata),
			Embedding:   vectors[i],
		}
	}

	s.mu.Lock()
	err = s.db.CreateDocs(ctx, docs)
	s.mu.Unlock()
	if err != nil {
		return 0, errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}

	// Save only reads the collection, so queries keep running during the export.
	s.mu.RLock()
	err = s.db.Save()
	s.mu.RUnlock()
	if err != nil {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		s.mu.Lock()
		derr := s.db.DeleteDocs(context.WithoutCancel(ctx), ids...)
		s.mu.Unlock()
		if derr != nil {
			log.Error().Err(derr).Str("dir", s.dir).Msg("Failed to roll back unsaved chunks")
		}
		return 0, errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}

	st, serr := statDocstore(s.dir)
	s.mu.Lock()
	if serr == nil {
		s.stamp = st
	}
	total := s.db.Count()
	s.mu.Unlock()

	fps := make([]string, 0, len(batch))
	for _, p := range batch {
		fps = append(fps, p.fingerprint)
	}
	s.ledger.Add(fps...)
	if err := s.ledger.Flush(); err != nil {
		return len(docs), errs.E(op, errs.KindIO, fmt.Errorf("chunks saved but ledger not updated: %w", err)).WithDir(s.dir)
	}

	log.Info().Str("dir", s.dir).Int("added", len(docs)).Int("total", total).Msg("Merged chunks into index")
	return len(docs), nil
}

// selectNew keeps the first chunk of every fingerprint that is neither in
// the ledger nor earlier in the batch.
func (s *Store) selectNew(chunks []schema.Document) []pending {
	seen := make(map[string]bool, len(chunks))
	var batch []pending
	for _, c := range chunks {
		if strings.TrimSpace(c.PageContent) == "" {
			continue
		}
		fp := fingerprint.Of(c.PageContent, c.Metadata)
		if seen[fp] || s.ledger.Has(fp) {
			continue
		}
		seen[fp] = true
		id := vectorID(fp, c.PageContent)
		if s.db.Has(id) {
			continue
		}
		batch = append(batch, pending{id: id, fingerprint: fp, doc: c})
	}
	return batch
}

// load replaces the in-memory index with the one on disk and reconciles
// the ledger with it. The directory lock must be held.
func (s *Store) load(ctx context.Context) error {
	const op = "indexstore.load"
	db, dropped, err := chromemdb.Load(ctx, s.dir, s.opts, s.embedFunc)
	if err != nil {
		return errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}
	if len(dropped) > 0 {
		if err := db.Save(); err != nil {
			return errs.E(op, errs.KindIO, err).WithDir(s.dir)
		}
	}

	led := ledger.Open(filepath.Join(s.dir, models.LedgerFileName))
	recovered := led.Recovered()
	added, removed := reconcile(led, db.Fingerprints())
	if added > 0 || removed > 0 || recovered {
		log.Warn().Str("dir", s.dir).
			Int("added", added).
			Int("removed", removed).
			Bool("recovered", recovered).
			Msg("Ledger reconciled with index")
		if err := led.Flush(); err != nil {
			return errs.E(op, errs.KindIO, err).WithDir(s.dir)
		}
	}

	st, err := statDocstore(s.dir)
	if err != nil {
		return errs.E(op, errs.KindIO, err).WithDir(s.dir)
	}

	s.mu.Lock()
	s.db, s.ledger, s.stamp = db, led, st
	s.mu.Unlock()

	log.Info().Str("dir", s.dir).Int("documents", db.Count()).Int("fingerprints", led.Len()).Msg("Loaded vector index")
	return nil
}

func (s *Store) refresh(ctx context.Context) error {
	if !s.Exists() {
		return nil
	}
	st, err := statDocstore(s.dir)
	if err != nil {
		return errs.E("indexstore.refresh", errs.KindIO, err).WithDir(s.dir)
	}
	s.mu.RLock()
	current := st == s.stamp
	s.mu.RUnlock()
	if current {
		return nil
	}
	log.Debug().Str("dir", s.dir).Msg("Index changed on disk, reloading")
	return s.load(ctx)
}

// reconcile makes the ledger list exactly the fingerprints that have stored vectors.
func reconcile(l *ledger.Ledger, indexed map[string]bool) (added, removed int) {
	var missing []string
	for fp := range indexed {
		if !l.Has(fp) {
			missing = append(missing, fp)
		}
	}
	sort.Strings(missing)
	l.Add(missing...)

	var orphans []string
	for _, fp := range l.Keys() {
		if !indexed[fp] {
			orphans = append(orphans, fp)
		}
	}
	l.Remove(orphans...)
	return len(missing), len(orphans)
}

func statDocstore(dir string) (stamp, error) {
	info, err := os.Stat(filepath.Join(dir, models.DocstoreFileName))
	if err != nil {
		return stamp{}, err
	}
	return stamp{modTime: info.ModTime().UnixNano(), size: info.Size()}, nil
}

// embedFunc lets chromem embed content it was handed without a vector.
func (s *Store) embedFunc(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.EmbedQuery(ctx, text)
}

func vectorID(fp, content string) string {
	sum := sha256.Sum256([]byte(fp + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

func stringMetadata(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}
