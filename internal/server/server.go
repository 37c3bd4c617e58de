// Package server exposes the synchronous, in-memory flavour of PixelDrop
// over HTTP: a client opens a session, uploads images, converts them and
// downloads the results from the same process.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/PixelDrop/internal/batch"
	"github.com/dharsanguruparan/PixelDrop/internal/config"
	"github.com/dharsanguruparan/PixelDrop/internal/intake"
	"github.com/dharsanguruparan/PixelDrop/internal/model"
	"github.com/dharsanguruparan/PixelDrop/internal/orchestrator"
	"github.com/dharsanguruparan/PixelDrop/internal/result"
	"github.com/dharsanguruparan/PixelDrop/internal/signing"
	"github.com/dharsanguruparan/PixelDrop/internal/storage"
)

const downloadPath = "/download"

// Server hosts the HTTP handlers. Each session is converted in the request
// that asks for it; the orchestrator bounds work inside that request.
type Server struct {
	cfg       *config.Config
	store     *storage.MemoryStore
	validator *intake.Validator
	orch      *orchestrator.Orchestrator
	signer    *signing.Signer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	once      sync.Once
}

// New creates a configured server.
func New(cfg *config.Config, store *storage.MemoryStore, validator *intake.Validator, orch *orchestrator.Orchestrator, signer *signing.Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		validator: validator,
		orch:      orch,
		signer:    signer,
		logger:    logger.With("component", "server"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.once.Do(func() {
		if s.cfg.SessionTTL > 0 {
			go s.sweep(ctx)
		}
	})
	httpServer := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		// Let in-progress conversions finish before the listener closes.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Info("listening", "address", s.cfg.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SessionTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.store.Expire(s.cfg.SessionTTL); n > 0 {
				s.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionRoute)
	mux.HandleFunc(downloadPath, s.handleDownload)
	return corsMiddleware(loggingMiddleware(s.logger, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := batch.NewSession(s.newID())
	if err := sess.SelectFormat(s.cfg.DefaultFormat); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.store.Create(sess)
	respondJSON(w, http.StatusCreated, map[string]string{
		"id":     sess.ID,
		"format": string(sess.Format()),
	})
}

// handleSessionRoute dispatches /sessions/{id}[/files[/{entryID}]|/convert|/bundle].
func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	sess, err := s.store.Get(parts[0])
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.store.Touch(sess.ID)

	switch {
	case len(parts) == 1:
		s.handleSession(w, r, sess)
	case parts[1] == "files" && len(parts) == 2:
		s.handleAddFiles(w, r, sess)
	case parts[1] == "files" && len(parts) == 3 && parts[2] != "":
		s.handleRemoveFile(w, r, sess, parts[2])
	case parts[1] == "convert" && len(parts) == 2:
		s.handleConvert(w, r, sess)
	case parts[1] == "bundle" && len(parts) == 2:
		s.handleBundle(w, r, sess)
	default:
		http.NotFound(w, r)
	}
}

type sessionView struct {
	ID       string            `json:"id"`
	Format   model.Format      `json:"format"`
	InFlight bool              `json:"inFlight"`
	Entries  []model.FileEntry `json:"entries"`
	Result   *result.Summary   `json:"result,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, sess *batch.Session) {
	switch r.Method {
	case http.MethodGet:
		view := sessionView{
			ID:       sess.ID,
			Format:   sess.Format(),
			InFlight: sess.InFlight(),
			Entries:  sess.Snapshot(),
		}
		if res, err := s.store.Result(sess.ID); err == nil {
			summary := res.Summary()
			view.Result = &summary
		}
		respondJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if sess.InFlight() {
			http.Error(w, batch.ErrRunInFlight.Error(), http.StatusConflict)
			return
		}
		_ = s.store.Delete(sess.ID)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request, sess *batch.Session) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
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
	accepted := s.validator.SubmitAll(candidates)
	for _, entry := range accepted {
		sess.Add(*entry)
	}
	s.logger.Info("files added", "session_id", sess.ID, "accepted", len(accepted), "rejected", len(candidates)-len(accepted))
	respondJSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"rejected": len(candidates) - len(accepted),
	})
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request, sess *batch.Session, entryID string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := sess.Remove(entryID); err != nil {
		if errors.Is(err, batch.ErrEntryFrozen) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type artifactView struct {
	result.Artifact
	URL     string `json:"url"`
	Expires int64  `json:"expires"`
}

type convertResponse struct {
	Format    model.Format        `json:"format"`
	Summary   result.Summary      `json:"summary"`
	Succeeded []artifactView      `json:"succeeded"`
	Failed    []result.FailedItem `json:"failed"`
	Aborted   bool                `json:"aborted"`
	BundleURL string              `json:"bundleUrl,omitempty"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, sess *batch.Session) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := sess.Format()
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := model.ParseFormat(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target = f
	}

	jobs, err := sess.BuildJobs(target)
	switch {
	case errors.Is(err, batch.ErrEmptyBatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, batch.ErrRunInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A client that disconnects cancels the run: admitted jobs still finish.
	res := s.orch.Run(r.Context(), jobs)
	sess.FinishRun()
	if err := s.store.SaveResult(sess.ID, res); err != nil {
		http.Error(w, "session discarded during conversion", http.StatusGone)
		return
	}

	now := s.now()
	resp := convertResponse{
		Format:    res.TargetFormat,
		Summary:   res.Summary(),
		Succeeded: make([]artifactView, 0, len(res.Succeeded)),
		Failed:    res.Failed,
		Aborted:   res.Aborted,
	}
	for _, a := range res.Succeeded {
		u, exp := s.signer.DownloadURL(downloadPath, sess.ID, a.EntryID, s.cfg.SignedURLTTL, now)
		resp.Succeeded = append(resp.Succeeded, artifactView{Artifact: a, URL: u, Expires: exp})
	}
	if len(res.Succeeded) > 0 {
		resp.BundleURL = fmt.Sprintf("/sessions/%s/bundle", sess.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	sessionID := q.Get("session")
	entryID := q.Get("entry")
	expires := q.Get("expires")
	signature := q.Get("signature")
	if sessionID == "" || entryID == "" || expires == "" || signature == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	if _, err := strconv.ParseInt(expires, 10, 64); err != nil {
		http.Error(w, "invalid expires", http.StatusBadRequest)
		return
	}
	if signing.Expired(expires, s.now()) {
		http.Error(w, "url expired", http.StatusUnauthorized)
		return
	}
	if !s.signer.Validate(sessionID, entryID, expires, signature) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	res, err := s.store.Result(sessionID)
	if err != nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	artifact, ok := res.Find(entryID)
	if !ok {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", attachment(artifact.OutputName))
	http.ServeContent(w, r, artifact.OutputName, time.Time{}, bytes.NewReader(artifact.Payload))
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request, sess *batch.Session) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.store.Result(sess.ID)
	if err != nil {
		http.Error(w, "no converted images", http.StatusNotFound)
		return
	}
	if len(res.Succeeded) == 0 {
		http.Error(w, "no converted images", http.StatusNotFound)
		return
	}
	// Buffer first so a zip error can still become a 500.
	var buf bytes.Buffer
	if err := result.WriteZip(&buf, res); err != nil {
		s.logger.Error("build bundle", "session_id", sess.ID, "error", err)
		http.Error(w, "failed to build bundle", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Content-Disposition", attachment("pixeldrop-"+sess.ID+".zip"))
	_, _ = w.Write(buf.Bytes())
}

func attachment(name string) string {
	return "attachment; filename=" + strconv.Quote(name)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	// Headers must be set before WriteHeader.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		slog.Error("encode json failed", "error", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
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
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
