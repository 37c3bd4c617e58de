package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/queue"
	"github.com/dharsanguruparan/PixelDrop/internal/repository"
	"github.com/dharsanguruparan/PixelDrop/internal/s3storage"
)

// Batches is the repository surface used by the API.
type Batches interface {
	Create(ctx context.Context, b *repository.Batch) error
	Get(ctx context.Context, id string) (*repository.Batch, error)
	GetJob(ctx context.Context, batchID, jobID string) (*repository.Job, error)
}

// Objects is the object storage surface used by the API.
type Objects interface {
	UploadRaw(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignProcessedURL(ctx context.Context, objectKey, downloadName string, ttl time.Duration) (string, error)
}

// Enqueuer schedules conversion of a stored batch.
type Enqueuer func(ctx context.Context, payload queue.ConvertPayload) error

// AsynqEnqueuer sends batches to the asynq queue.
func AsynqEnqueuer(client *asynq.Client) Enqueuer {
	return func(ctx context.Context, payload queue.ConvertPayload) error {
		return queue.EnqueueConvert(ctx, client, payload)
	}
}

// Server exposes HTTP endpoints for batch uploads and batch visibility.
type Server struct {
	cfg       *config.Config
	repo      Batches
	store     Objects
	enqueue   Enqueuer
	validator *intake.Validator
	logger    *slog.Logger
	server    *http.Server
	once      sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, repo Batches, store Objects, enqueue Enqueuer, validator *intake.Validator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		repo:      repo,
		store:     store,
		enqueue:   enqueue,
		validator: validator,
		logger:    logger.With("component", "api"),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.APIAddress,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "address", s.cfg.APIAddress)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/batches", s.handleBatches)
	mux.HandleFunc("/batches/", s.handleBatchRoute)
	return corsMiddleware(loggingMiddleware(s.logger, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleBatchRoute dispatches /batches/{id} and /batches/{id}/jobs/{jobID}/url.
func (s *Server) handleBatchRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/batches/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1:
		s.handleBatch(w, r, id)
	case len(parts) == 4 && parts[1] == "jobs" && parts[3] == "url":
		s.handleJobURL(w, r, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("load batch", "batch_id", id, "error", err)
		http.Error(w, "failed to load batch", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleJobURL(w http.ResponseWriter, r *http.Request, batchID, jobID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, err := s.repo.GetJob(r.Context(), batchID, jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if job.Status != model.StatusSucceeded || job.ProcessedKey == nil {
		http.Error(w, "converted image unavailable", http.StatusNotFound)
		return
	}
	name := ""
	if job.OutputName != nil {
		name = *job.OutputName
	}
	url, err := s.store.PresignProcessedURL(r.Context(), *job.ProcessedKey, name, s.cfg.SignedURLTTL)
	if err != nil {
		http.Error(w, "failed to generate url", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := s.cfg.DefaultFormat
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := model.ParseFormat(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target = f
	}
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	candidates, err := intake.ReadParts(mr, s.cfg.MaxFileBytes)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	entries := s.validator.SubmitAll(candidates)
	if len(entries) == 0 {
		http.Error(w, "no acceptable images in upload", http.StatusBadRequest)
		return
	}

	b := &repository.Batch{ID: uuid.NewString(), TargetFormat: target}
	for _, e := range entries {
		key := s3storage.RawKey(b.ID, e.ID, e.OriginalName)
		if err := s.store.UploadRaw(ctx, key, e.Payload, e.MimeType); err != nil {
			s.logger.Error("upload to storage failed", "batch_id", b.ID, "error", err)
			http.Error(w, "failed to store file", http.StatusInternalServerError)
			return
		}
		b.Jobs = append(b.Jobs, repository.Job{
			ID:        e.ID,
			FileName:  e.OriginalName,
			MimeType:  e.MimeType,
			Size:      e.Size,
			ObjectKey: key,
		})
	}
	if err := s.repo.Create(ctx, b); err != nil {
		s.logger.Error("store batch", "batch_id", b.ID, "error", err)
		http.Error(w, "failed to store metadata", http.StatusInternalServerError)
		return
	}
	if err := s.enqueue(ctx, queue.ConvertPayload{BatchID: b.ID}); err != nil {
		s.logger.Error("enqueue batch", "batch_id", b.ID, "error", err)
		http.Error(w, "failed to queue job", http.StatusInternalServerError)
		return
	}
	s.logger.Info("batch queued", "batch_id", b.ID, "jobs", len(b.Jobs), "format", target)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"id":       b.ID,
		"status":   string(repository.StatusQueued),
		"accepted": len(entries),
		"rejected": len(candidates) - len(entries),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
