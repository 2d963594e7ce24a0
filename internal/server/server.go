// Package server exposes ingestion and retrieval over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/schema"

	"document-index/internal/errs"
	"document-index/internal/ingest"
	"document-index/internal/models"
)

const (
	ServiceName    = "document-index"
	maxUploadBytes = 64 << 20
)

// Service is the part of the ingestion coordinator the handlers use.
type Service interface {
	DefaultRequest() ingest.Request
	Ingest(ctx context.Context, files []models.UploadedFile, req ingest.Request) (*ingest.Result, error)
	Query(ctx context.Context, sessionID string, useSessionDirs bool, query string, k int) ([]schema.Document, error)
}

type Server struct {
	svc    Service
	server *http.Server
}

func New(addr string, svc Service) *Server {
	s := &Server{svc: svc}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	return corsMiddleware(loggingMiddleware(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": ServiceName})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := s.svc.DefaultRequest()
	req.SessionID = r.FormValue("session_id")
	var err error
	if req.UseSessionDirs, err = formBool(r, "use_session_dirs", req.UseSessionDirs); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"chunk_size", &req.ChunkSize},
		{"chunk_overlap", &req.ChunkOverlap},
		{"k", &req.K},
	} {
		if *f.dst, err = formInt(r, f.name, *f.dst); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	headers := r.MultipartForm.File["files"]
	files := make([]models.UploadedFile, len(headers))
	for i, h := range headers {
		files[i] = multipartFile{h}
	}

	res, err := s.svc.Ingest(r.Context(), files, req)
	if err != nil {
		respondError(w, errs.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type queryRequest struct {
	SessionID      string `json:"session_id"`
	UseSessionDirs *bool  `json:"use_session_dirs"`
	Query          string `json:"query"`
	K              int    `json:"k"`
}

type queryResult struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score"`
}

type queryResponse struct {
	SessionID string        `json:"session_id"`
	Results   []queryResult `json:"results"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	def := s.svc.DefaultRequest()
	useSessionDirs := def.UseSessionDirs
	if body.UseSessionDirs != nil {
		useSessionDirs = *body.UseSessionDirs
	}
	k := body.K
	if k == 0 {
		k = def.K
	}

	docs, err := s.svc.Query(r.Context(), body.SessionID, useSessionDirs, body.Query, k)
	if err != nil {
		respondError(w, errs.HTTPStatus(err), err)
		return
	}
	resp := queryResponse{SessionID: body.SessionID, Results: make([]queryResult, len(docs))}
	for i, d := range docs {
		resp.Results[i] = queryResult{Content: d.PageContent, Metadata: d.Metadata, Score: d.Score}
	}
	respondJSON(w, http.StatusOK, resp)
}

type multipartFile struct {
	header *multipart.FileHeader
}

func (f multipartFile) Name() string { return f.header.Filename }

func (f multipartFile) Read() ([]byte, error) {
	file, err := f.header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func formInt(r *http.Request, name string, def int) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func formBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
