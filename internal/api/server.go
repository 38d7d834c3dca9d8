// Package api exposes the HTTP interface for the capture service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	googleuuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
	"github.com/jayteealao/htbase/internal/id/uuid"
	"github.com/jayteealao/htbase/internal/metrics"
)

// Replayer reconstructs a past execution's result from the journal.
type Replayer interface {
	Replay(ctx context.Context, executionID int64) (capture.ExecutionResult, error)
}

// Server wires HTTP handlers to the stores and the journal.
type Server struct {
	router   chi.Router
	store    capture.Store
	journal  capture.Journal
	replayer Replayer
	enqueuer capture.Enqueuer
	idGen    func() string
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The enqueuer is
// optional; without it job submission returns 503.
func NewServer(
	store capture.Store,
	journal capture.Journal,
	replayer Replayer,
	enqueuer capture.Enqueuer,
	logger *zap.Logger,
) *Server {
	gen := uuid.New()
	s := &Server{
		store:    store,
		journal:  journal,
		replayer: replayer,
		enqueuer: enqueuer,
		logger:   logger,
		// Job ids are UUIDv7 so job listings sort chronologically.
		idGen: func() string {
			if id, err := gen.NewID(); err == nil {
				return id
			}
			return googleuuid.NewString()
		},
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", s.listArtifacts)
			r.Delete("/", s.deleteArtifacts)
			r.Get("/{artifact_id}", s.getArtifact)
		})
		r.Get("/captures/find", s.findCapture)
		r.Route("/targets", func(r chi.Router) {
			r.Get("/{target_id}", s.getTarget)
			r.Get("/{target_id}/artifacts", s.listTargetArtifacts)
		})
		r.Get("/items/{item_id}", s.getItem)
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.listExecutions)
			r.Get("/{execution_id}", s.getExecution)
			r.Get("/{execution_id}/replay", s.replayExecution)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The primary store answering a cheap read is the readiness signal.
	if _, err := s.store.ListArtifactsRecent(r.Context(), 1, 0); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := googleuuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
