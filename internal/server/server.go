// Package server exposes the pipeline's HTTP surface: a health probe, the
// upload-processing trigger, and read access to upload lifecycle state for
// the external progress poller.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/upload"
)

// Processor runs one upload to a terminal state. *upload.Orchestrator is
// the production implementation.
type Processor interface {
	Process(ctx context.Context, uploadID string) (*model.IngestReport, error)
}

// UploadReader is the slice of the upload ledger the handlers read.
// *upload.Store satisfies it.
type UploadReader interface {
	Get(ctx context.Context, id string) (*model.Upload, error)
	List(ctx context.Context, limit int) ([]model.Upload, error)
}

// Server wires the intake HTTP API.
type Server struct {
	processor   Processor
	uploads     UploadReader
	pool        db.Pool
	sem         *semaphore.Weighted
	corsOrigins []string
}

// New creates a server. maxConcurrent bounds how many uploads may process
// at once across all requests; requests past the bound wait their turn.
func New(processor Processor, uploads UploadReader, pool db.Pool, maxConcurrent int64, corsOrigins []string) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		processor:   processor,
		uploads:     uploads,
		pool:        pool,
		sem:         semaphore.NewWeighted(maxConcurrent),
		corsOrigins: corsOrigins,
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/uploads", func(r chi.Router) {
		r.Get("/", s.handleListUploads)
		r.Get("/{id}", s.handleGetUpload)
		r.Post("/{id}/process", s.handleProcess)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProcess triggers processing of one upload and returns its report.
// The semaphore keeps the number of uploads in flight at the configured
// bound; claim conflicts come back as 409 so the client can retry later
// instead of treating the upload as broken.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "processing capacity unavailable")
		return
	}
	defer s.sem.Release(1)

	rep, err := s.processor.Process(r.Context(), id)
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload not found")
	case errors.Is(err, upload.ErrProcessing):
		writeError(w, http.StatusConflict, "upload is already processing")
	case err != nil:
		zap.L().Error("process upload failed",
			zap.String("upload_id", id),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	up, err := s.uploads.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, up)
	}
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	ups, err := s.uploads.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ups == nil {
		ups = []model.Upload{}
	}
	writeJSON(w, http.StatusOK, ups)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
