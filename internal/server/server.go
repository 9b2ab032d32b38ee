// Package server exposes the read-only HTTP surface: health probes, the
// compliance scoreboard and per-producer payout status. It never accepts
// writes; all state changes flow through the scheduler and the admin tool.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MinaFoundation/uptime-service-validation/internal/notify"
	"github.com/MinaFoundation/uptime-service-validation/internal/store"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	defaultEpochLimit      = 24
	maxEpochLimit          = 500
)

// Store is the read-only state served over HTTP.
type Store interface {
	Ping(ctx context.Context) error
	ScoreboardRows(ctx context.Context) ([]store.ScoreboardRow, error)
	HasProducer(ctx context.Context, key string) (bool, error)
	ProducerEpochs(ctx context.Context, producer string, limit int) ([]store.EpochStatusRow, error)
	LatestRun(ctx context.Context, epoch uint64) (store.ValidationRun, bool, error)
	Checkpoint(ctx context.Context) (store.Checkpoint, bool, error)
}

type Config struct {
	Logger *slog.Logger
	Store  Store

	ListenAddr      string
	ShutdownTimeout time.Duration

	// Version metadata reported by /version.
	Version string
	Commit  string
	Date    string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

type Server struct {
	log    *slog.Logger
	cfg    Config
	router *chi.Mux
	srv    *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)
	s.router.Get("/scoreboard", s.handleScoreboard)
	s.router.Get("/scoreboard.csv", s.handleScoreboardCSV)
	s.router.Get("/producers/{key}/epochs", s.handleProducerEpochs)
	s.router.Get("/epochs/{epoch}/run", s.handleEpochRun)
	s.router.Get("/schedule", s.handleSchedule)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": s.cfg.Version,
		"commit":  s.cfg.Commit,
		"date":    s.cfg.Date,
	})
}

func (s *Server) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Store.ScoreboardRows(r.Context())
	if err != nil {
		s.log.Error("server: failed to load scoreboard", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load scoreboard")
		return
	}
	if rows == nil {
		rows = []store.ScoreboardRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleScoreboardCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Store.ScoreboardRows(r.Context())
	if err != nil {
		s.log.Error("server: failed to load scoreboard", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load scoreboard")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="scoreboard.csv"`)
	if err := notify.WriteScoreboardCSV(w, rows); err != nil {
		s.log.Error("server: failed to write scoreboard csv", "error", err)
	}
}

func (s *Server) handleProducerEpochs(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "producer key is required")
		return
	}

	limit := defaultEpochLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEpochLimit)
	}

	statuses, err := s.cfg.Store.ProducerEpochs(r.Context(), key, limit)
	if err != nil {
		s.log.Error("server: failed to load producer epochs", "producer", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load producer epochs")
		return
	}
	if statuses == nil {
		// No history yet. Registered producers get an empty list, unknown
		// keys a 404.
		found, err := s.cfg.Store.HasProducer(r.Context(), key)
		if err != nil {
			s.log.Error("server: failed to look up producer", "producer", key, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to load producer epochs")
			return
		}
		if !found {
			s.writeError(w, http.StatusNotFound, "producer not found")
			return
		}
		statuses = []store.EpochStatusRow{}
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleEpochRun(w http.ResponseWriter, r *http.Request) {
	epochIndex, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "epoch must be a non-negative integer")
		return
	}

	run, ok, err := s.cfg.Store.LatestRun(r.Context(), epochIndex)
	if err != nil {
		s.log.Error("server: failed to load run", "epoch", epochIndex, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no validation run for epoch")
		return
	}

	resp := map[string]any{
		"epoch":     run.Epoch,
		"runId":     run.ID,
		"state":     run.State,
		"startedAt": run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		resp["completedAt"] = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	if run.State == store.RunStateFailed {
		resp["reason"] = run.Outcome
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	cp, ok, err := s.cfg.Store.Checkpoint(r.Context())
	if err != nil {
		s.log.Error("server: failed to load checkpoint", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "schedule not initialized")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"nextEpoch": cp.NextEpoch,
		"dueAt":     cp.DueAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("server: failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
