// Package api exposes manual pull triggers, pull status and operational
// endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"catalog_sync/internal/domain"
)

type Runner interface {
	Platforms() []string
	Start(ctx context.Context, platform string) error
}

type RunReader interface {
	Latest(ctx context.Context, platform string) (*domain.PullRun, error)
}

type CheckpointReader interface {
	Get(ctx context.Context, platform string) (*domain.Checkpoint, error)
}

type Server struct {
	runner      Runner
	runs        RunReader
	checkpoints CheckpointReader
	metrics     http.Handler
	logger      *slog.Logger

	// baseCtx outlives the request that triggers a pull.
	baseCtx context.Context
}

func NewServer(
	baseCtx context.Context,
	runner Runner,
	runs RunReader,
	checkpoints CheckpointReader,
	metrics http.Handler,
	logger *slog.Logger,
) *Server {
	return &Server{
		runner:      runner,
		runs:        runs,
		checkpoints: checkpoints,
		metrics:     metrics,
		logger:      logger.With("component", "api"),
		baseCtx:     baseCtx,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/pulls", func(r chi.Router) {
		r.Get("/", s.handlePlatforms)
		r.Post("/{platform}", s.handleTrigger)
		r.Get("/{platform}", s.handleStatus)
	})
	return r
}

// ListenAndServe serves until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"platforms": s.runner.Platforms()})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	err := s.runner.Start(s.baseCtx, platform)
	switch {
	case errors.Is(err, domain.ErrUnknownPlatform):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrPullInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		s.logger.Error("failed to start pull", "platform", platform, "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		s.logger.Info("pull triggered", "platform", platform)
		writeJSON(w, http.StatusAccepted, map[string]string{"platform": platform, "status": "accepted"})
	}
}

type checkpointView struct {
	RunID          string    `json:"run_id"`
	Cursor         string    `json:"cursor"`
	PagesCompleted int       `json:"pages_completed"`
	RecordsFetched int64     `json:"records_fetched"`
	RecordsLoaded  int64     `json:"records_loaded"`
	RecordsDropped int64     `json:"records_dropped"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastError      *string   `json:"last_error,omitempty"`
}

type statusResponse struct {
	Platform   string          `json:"platform"`
	LatestRun  *domain.PullRun `json:"latest_run"`
	Checkpoint *checkpointView `json:"checkpoint"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if !slices.Contains(s.runner.Platforms(), platform) {
		writeError(w, http.StatusNotFound, domain.ErrUnknownPlatform)
		return
	}

	run, err := s.runs.Latest(r.Context(), platform)
	if err != nil {
		s.logger.Error("failed to load latest run", "platform", platform, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	cp, err := s.checkpoints.Get(r.Context(), platform)
	if err != nil {
		s.logger.Error("failed to load checkpoint", "platform", platform, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{Platform: platform, LatestRun: run}
	if cp != nil {
		view := &checkpointView{
			RunID:          cp.RunID,
			Cursor:         cp.Cursor,
			PagesCompleted: cp.PagesCompleted,
			RecordsFetched: cp.RecordsFetched,
			RecordsLoaded:  cp.RecordsLoaded,
			RecordsDropped: cp.RecordsDropped,
			StartedAt:      cp.StartedAt,
			UpdatedAt:      cp.UpdatedAt,
		}
		if cp.LastError.Valid {
			view.LastError = &cp.LastError.String
		}
		resp.Checkpoint = view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
