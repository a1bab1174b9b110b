package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ivg/internal/faults"
	"ivg/internal/jobs"
	"ivg/internal/logging"
	"ivg/internal/store"
)

// JobService is the job surface the API needs. *jobs.Manager satisfies it.
type JobService interface {
	Submit(ctx context.Context, owner string, kind jobs.Kind, input jobs.Input, mode jobs.Mode) (jobs.Snapshot, error)
	Status(ctx context.Context, id string) (jobs.Snapshot, error)
	Subscribe(ctx context.Context, id string) (iter.Seq[jobs.Snapshot], error)
}

// Deps wires the server to the rest of the daemon.
type Deps struct {
	Jobs    JobService
	Mode    jobs.Mode
	Assets  store.AssetStore
	Styles  store.StyleCatalog
	History store.HistoryLog
	Logs    *logging.StreamHub
	// Status builds the /api/status payload.
	Status func(ctx context.Context) (StatusResponse, error)

	Token             string
	MaxUploadBytes    int64
	AllowedExtensions []string
	StreamIdleTimeout time.Duration
	Logger            *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router for deps.
func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	if deps.StreamIdleTimeout <= 0 {
		deps.StreamIdleTimeout = 5 * time.Minute
	}
	if deps.Mode == "" {
		deps.Mode = jobs.ModeQueued
	}
	s := &Server{
		deps:   deps,
		logger: logging.NewComponentLogger(deps.Logger, "api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, correlationID, s.requestLogger, middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.deps.Token), ownerScope)

			r.Get("/status", s.handleStatus)

			r.Post("/jobs", s.handleSubmit)
			r.Get("/jobs/{id}", s.handleJob)
			r.Get("/jobs/{id}/stream", s.handleJobStream)

			r.Post("/assets", s.handleUpload)
			r.Get("/assets/{id}", s.handleAsset)

			r.Get("/styles", s.handleListStyles)
			r.Post("/styles", s.handleCreateStyle)
			r.Get("/styles/{id}/reference", s.handleStyleReference)

			r.Get("/history", s.handleHistory)
			r.Get("/logs", s.handleLogs)
		})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("status unavailable"))
		return
	}
	status, err := s.deps.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError replies with status, or with the status mapped from err when
// status is zero.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = statusFor(err)
	}
	resp := ErrorResponse{Error: err.Error()}
	var classified *faults.Error
	if errors.As(err, &classified) {
		resp.Kind = string(classified.Kind)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Error(err), logging.Int("status", status))
	}
	s.writeJSON(w, status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	}
	var classified *faults.Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case faults.KindInput:
			return http.StatusBadRequest
		case faults.KindStyleNotFound:
			return http.StatusNotFound
		case faults.KindBreakerOpen:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}
