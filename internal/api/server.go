// Package api exposes the HTTP interface for the publishing service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/config"
	"github.com/umaten/autopress/internal/intake"
	"github.com/umaten/autopress/internal/pipeline"
	"github.com/umaten/autopress/internal/progress/sinks"
	"github.com/umaten/autopress/internal/settings"
	"github.com/umaten/autopress/internal/telemetry"
	"github.com/umaten/autopress/internal/usage"
)

const requestTimeout = 60 * time.Second

// Submitter admits batches of listing URLs into the pipeline.
type Submitter interface {
	Submit(ctx context.Context, req intake.Request) (intake.Receipt, error)
}

// RunCounter reports how many jobs the supervising loop is processing.
type RunCounter interface {
	InFlight() int
}

// Deps carries the collaborators the HTTP layer is wired to.
type Deps struct {
	Intake    Submitter
	Status    pipeline.StatusStore
	Queue     pipeline.Queue
	Runs      RunCounter
	Settings  *settings.Store
	Usage     *usage.Tracker
	Publisher pipeline.Publisher
	Events    *sinks.BroadcastSink
}

// Server wires HTTP handlers to the pipeline collaborators.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJobs)
				r.Get("/", s.listJobs)
				r.Get("/{job_id}", s.getJob)
			})
			r.Get("/settings", s.getSettings)
			r.Put("/settings", s.putSettings)
			r.Get("/stats", s.getStats)
			r.Get("/categories", s.getCategories)
		})
		// The event stream stays outside the timeout wrapper: TimeoutHandler
		// buffers the response and breaks flushing.
		r.Get("/events", s.streamEvents)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// All stores are in memory; readiness tracks liveness for now.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJobs(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	receipt, err := s.deps.Intake.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, intake.ErrEmptyRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}
	reasons := make([]string, 0, len(receipt.Skipped))
	for _, sk := range receipt.Skipped {
		reasons = append(reasons, sk.Reason)
	}
	telemetry.ObserveSubmission(len(receipt.JobIDs), reasons)
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	statuses := s.deps.Status.List()
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, err := parseState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := statuses[:0]
		for _, st := range statuses {
			if st.State == state {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": statuses})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	status, ok := s.deps.Status.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Current())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var next pipeline.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.deps.Settings.Update(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("settings updated",
		zap.Int("articles_per_hour", next.ArticlesPerHour),
		zap.Int("concurrent_jobs", next.ConcurrentJobs),
		zap.Bool("auto_publish", next.AutoPublish),
	)
	writeJSON(w, http.StatusOK, s.deps.Settings.Current())
}

type statsResponse struct {
	Usage           usage.Snapshot `json:"usage"`
	QueueLength     int            `json:"queue_length"`
	InFlight        int            `json:"in_flight"`
	ArticlesPerHour int            `json:"articles_per_hour"`
	ConcurrentJobs  int            `json:"concurrent_jobs"`
	AutoPublish     bool           `json:"auto_publish"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	current := s.deps.Settings.Current()
	writeJSON(w, http.StatusOK, statsResponse{
		Usage:           s.deps.Usage.SnapshotUsage(),
		QueueLength:     s.deps.Queue.Len(),
		InFlight:        s.deps.Runs.InFlight(),
		ArticlesPerHour: current.ArticlesPerHour,
		ConcurrentJobs:  current.ConcurrentJobs,
		AutoPublish:     current.AutoPublish,
	})
}

func (s *Server) getCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Publisher.Categories(r.Context())
	if err != nil {
		s.logger.Error("category fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "category fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.deps.Events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("event marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func parseState(raw string) (pipeline.State, error) {
	state := pipeline.State(raw)
	switch state {
	case pipeline.StateQueued, pipeline.StateFetching, pipeline.StateGenerating,
		pipeline.StatePublishing, pipeline.StateCompleted, pipeline.StateError:
		return state, nil
	}
	return "", fmt.Errorf("unknown state %q", raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
