// Package ingest coordinates an ingestion request end to end: uploaded
// files are saved under the session's data directory, loaded, chunked and
// merged into the session's index, and a retriever over it is returned.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/sync/errgroup"

	"document-index/internal/chunker"
	"document-index/internal/config"
	"document-index/internal/embedding"
	"document-index/internal/errs"
	"document-index/internal/helper"
	"document-index/internal/indexstore"
	"document-index/internal/journal"
	"document-index/internal/models"
	"document-index/internal/parser"
)

// Recorder persists a summary of each ingestion run.
type Recorder interface {
	Record(ctx context.Context, run *journal.Run) error
}

type Option func(*Coordinator)

func WithJournal(r Recorder) Option {
	return func(c *Coordinator) { c.journal = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Request carries the per-call ingestion settings.
type Request struct {
	SessionID      string
	UseSessionDirs bool
	ChunkSize      int
	ChunkOverlap   int
	K              int
}

// Result summarizes an ingestion. Retriever answers queries over the
// updated index.
type Result struct {
	SessionID string                `json:"session_id"`
	UploadDir string                `json:"upload_dir"`
	IndexDir  string                `json:"index_dir"`
	Files     int                   `json:"files"`
	Skipped   []string              `json:"skipped,omitempty"`
	Documents int                   `json:"documents"`
	Chunks    int                   `json:"chunks"`
	Added     int                   `json:"added"`
	Retriever *indexstore.Retriever `json:"-"`
}

type Coordinator struct {
	cfg       *config.Config
	embedder  embeddings.Embedder
	storeOpts []indexstore.Option
	journal   Recorder
	now       func() time.Time

	mu     sync.Mutex
	stores *lru.Cache[string, *indexstore.Store]
}

func New(cfg *config.Config, embedder embeddings.Embedder, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		return nil, errors.New("config must be set")
	}
	if embedder == nil {
		return nil, errors.New("embedder must be set")
	}
	stores, err := lru.New[string, *indexstore.Store](max(cfg.Ingest.StoreCacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create store cache: %w", err)
	}
	c := &Coordinator{
		cfg:      cfg,
		embedder: embedder,
		storeOpts: []indexstore.Option{
			indexstore.WithCollection(cfg.Index.Collection),
			indexstore.WithCompression(cfg.Index.Compress),
			indexstore.WithEncryptionKey(cfg.Index.EncryptionKey),
			indexstore.WithEmbeddingModel(embedding.ModelName(cfg.Embedding)),
		},
		now:    time.Now,
		stores: stores,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultRequest returns a Request filled from the configuration.
func (c *Coordinator) DefaultRequest() Request {
	return Request{
		UseSessionDirs: c.cfg.Ingest.SessionDirs,
		ChunkSize:      c.cfg.Ingest.ChunkSize,
		ChunkOverlap:   c.cfg.Ingest.ChunkOverlap,
		K:              c.cfg.Ingest.K,
	}
}

// Ingest saves, loads, chunks and merges files into the index of the
// request's session. A session id is generated when the request has none.
// Ingesting the same files twice into the same session adds nothing the
// second time.
func (c *Coordinator) Ingest(ctx context.Context, files []models.UploadedFile, req Request) (res *Result, err error) {
	const op = "ingest.Ingest"
	start := c.now()

	if err := chunker.Validate(req.ChunkSize, req.ChunkOverlap); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		return nil, errs.E(op, errs.KindValidation, fmt.Errorf("%w: k must be > 0, got %d", errs.ErrInvalidChunkConfig, req.K))
	}

	sessionID, err := c.resolveSession(req.SessionID, start)
	if err != nil {
		return nil, err
	}
	res = &Result{
		SessionID: sessionID,
		UploadDir: c.resolveDir(c.cfg.Ingest.DataDir, sessionID, req.UseSessionDirs),
		IndexDir:  c.resolveDir(c.cfg.Ingest.IndexDir, sessionID, req.UseSessionDirs),
	}
	defer func() {
		c.record(ctx, res, start, err)
		if err != nil {
			res = nil
		}
	}()

	if len(files) == 0 {
		return res, errs.Wrap(op, errs.ErrNoContent).WithSession(sessionID)
	}

	paths, err := c.saveFiles(ctx, res.UploadDir, files)
	if err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}
	res.Files = len(paths)

	docs, skipped, err := c.loadFiles(ctx, paths)
	if err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}
	res.Skipped = skipped
	res.Documents = len(docs)
	if len(docs) == 0 {
		return res, errs.Wrap(op, errs.ErrNoContent).WithSession(sessionID)
	}

	chunks, err := chunker.Split(docs, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}
	res.Chunks = len(chunks)
	log.Info().Str("session", sessionID).Int("documents", len(docs)).Int("chunks", len(chunks)).
		Int("chunk_size", req.ChunkSize).Int("overlap", req.ChunkOverlap).Msg("Documents split")

	store, err := c.store(res.IndexDir)
	if err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}
	var seeded int
	if !store.Stats().Initialized {
		if seeded, err = store.LoadOrCreate(ctx, chunks); err != nil {
			return res, errs.Wrap(op, err).WithSession(sessionID)
		}
	}
	merged, err := store.Merge(ctx, chunks)
	if err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}
	res.Added = seeded + merged

	if res.Retriever, err = store.AsRetriever(req.K); err != nil {
		return res, errs.Wrap(op, err).WithSession(sessionID)
	}

	log.Info().Str("session", sessionID).Str("index", res.IndexDir).Int("added", res.Added).Msg("Index updated")
	return res, nil
}

// Retriever opens the existing index of a session for queries.
func (c *Coordinator) Retriever(ctx context.Context, sessionID string, useSessionDirs bool, k int) (*indexstore.Retriever, error) {
	const op = "ingest.Retriever"
	if useSessionDirs {
		if err := helper.ValidateSessionID(sessionID); err != nil {
			return nil, errs.E(op, errs.KindValidation, fmt.Errorf("%w: %v", errs.ErrInvalidSession, err)).WithSession(sessionID)
		}
	}
	dir := c.resolveDir(c.cfg.Ingest.IndexDir, sessionID, useSessionDirs)

	store, err := c.store(dir)
	if err != nil {
		return nil, errs.Wrap(op, err).WithSession(sessionID)
	}
	if store.Stats().Initialized {
		err = store.Refresh(ctx)
	} else {
		_, err = store.LoadOrCreate(ctx, nil)
	}
	if err != nil {
		return nil, errs.Wrap(op, err).WithSession(sessionID)
	}
	r, err := store.AsRetriever(k)
	if err != nil {
		return nil, errs.Wrap(op, err).WithSession(sessionID)
	}
	return r, nil
}

// Query returns the k chunks of a session's index most similar to query.
func (c *Coordinator) Query(ctx context.Context, sessionID string, useSessionDirs bool, query string, k int) ([]schema.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.E("ingest.Query", errs.KindValidation, errors.New("query must not be empty")).WithSession(sessionID)
	}
	r, err := c.Retriever(ctx, sessionID, useSessionDirs, k)
	if err != nil {
		return nil, err
	}
	docs, err := r.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, errs.Wrap("ingest.Query", err).WithSession(sessionID)
	}
	return docs, nil
}

func (c *Coordinator) resolveSession(id string, now time.Time) (string, error) {
	if id == "" {
		generated, err := helper.NewSessionID(now)
		if err != nil {
			return "", errs.E("ingest.resolveSession", errs.KindOther, err)
		}
		return generated, nil
	}
	if err := helper.ValidateSessionID(id); err != nil {
		return "", errs.E("ingest.resolveSession", errs.KindValidation, fmt.Errorf("%w: %v", errs.ErrInvalidSession, err)).WithSession(id)
	}
	return id, nil
}

func (c *Coordinator) resolveDir(base, sessionID string, useSessionDirs bool) string {
	if useSessionDirs {
		return filepath.Join(base, sessionID)
	}
	return base
}

// store returns the cached Store for dir so its ledger is read once.
func (c *Coordinator) store(dir string) (*indexstore.Store, error) {
	key := filepath.Clean(dir)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores.Get(key); ok {
		return s, nil
	}
	s, err := indexstore.New(key, c.embedder, c.storeOpts...)
	if err != nil {
		return nil, err
	}
	c.stores.Add(key, s)
	return s, nil
}

func (c *Coordinator) saveFiles(ctx context.Context, dir string, files []models.UploadedFile) ([]string, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, errs.E("ingest.saveFiles", errs.KindIO, err)
	}
	paths := make([]string, len(files))
	seen := make(map[string]int, len(files))
	for i, f := range files {
		base := safeName(f.Name(), i)
		name := base
		if n := seen[base]; n > 0 {
			ext := filepath.Ext(base)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), n+1, ext)
		}
		seen[base]++
		paths[i] = filepath.Join(dir, name)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.cfg.Ingest.LoadConcurrency, 1))
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := f.Read()
			if err != nil {
				return fmt.Errorf("failed to read upload %s: %w", f.Name(), err)
			}
			if err := os.WriteFile(paths[i], data, 0o644); err != nil {
				return fmt.Errorf("failed to save upload %s: %w", f.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.E("ingest.saveFiles", errs.KindIO, err)
	}
	log.Debug().Str("dir", dir).Int("files", len(paths)).Msg("Uploads saved")
	return paths, nil
}

// loadFiles keeps upload order. Unsupported files are skipped and reported.
func (c *Coordinator) loadFiles(ctx context.Context, paths []string) ([]schema.Document, []string, error) {
	perFile := make([][]schema.Document, len(paths))
	unsupported := make([]bool, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.cfg.Ingest.LoadConcurrency, 1))
	for i, path := range paths {
		g.Go(func() error {
			docs, err := parser.Load(ctx, path)
			if errors.Is(err, errs.ErrUnsupportedFormat) {
				log.Warn().Str("file", filepath.Base(path)).Msg("Skipping unsupported file")
				unsupported[i] = true
				return nil
			}
			if err != nil {
				return err
			}
			perFile[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var docs []schema.Document
	var skipped []string
	for i := range paths {
		if unsupported[i] {
			skipped = append(skipped, filepath.Base(paths[i]))
			continue
		}
		docs = append(docs, perFile[i]...)
	}
	return docs, skipped, nil
}

func (c *Coordinator) record(ctx context.Context, res *Result, start time.Time, err error) {
	if c.journal == nil || res == nil {
		return
	}
	run := &journal.Run{
		SessionID:  res.SessionID,
		IndexDir:   res.IndexDir,
		Files:      res.Files,
		Documents:  res.Documents,
		Chunks:     res.Chunks,
		Added:      res.Added,
		Status:     journal.StatusOK,
		DurationMS: c.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		run.Status = journal.StatusError
		run.Error = err.Error()
	}
	if rerr := c.journal.Record(context.WithoutCancel(ctx), run); rerr != nil {
		log.Warn().Err(rerr).Str("session", res.SessionID).Msg("Failed to record ingestion run")
	}
}

// safeName strips directories so uploads cannot leave the session directory.
func safeName(name string, i int) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == "" {
		return fmt.Sprintf("upload_%d", i+1)
	}
	return base
}
