// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/retail-content-ingestor/internal/metrics"
	"github.com/JakeFAU/retail-content-ingestor/internal/orchestrator"
	"github.com/JakeFAU/retail-content-ingestor/internal/store"
)

const (
	probeTimeout   = 60 * time.Second
	readyTimeout   = 3 * time.Second
	maxRequestBody = 1 << 16
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, period orchestrator.Period, trigger string) (orchestrator.Report, error)
}

// CheckFunc reports whether a downstream dependency is usable.
type CheckFunc func(ctx context.Context) error

// Options configure a Server. Runs, Changes and Checks are optional.
type Options struct {
	AuthEnabled bool
	APIKey      string
	Runs        store.RunRepository
	Changes     store.ChangeRepository
	Checks      map[string]CheckFunc
}

// Server wires HTTP handlers to the orchestrator and run history.
type Server struct {
	router chi.Router
	runner Runner
	runs   *RunHandler
	checks map[string]CheckFunc
	logger *zap.Logger

	// background tracks runs started with wait=false.
	background sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		runs:   NewRunHandler(opts.Runs, opts.Changes, logger),
		checks: opts.Checks,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(probeTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.triggerRun)
			r.With(timeoutMiddleware(probeTimeout)).Get("/", s.runs.ListRuns)
			r.With(timeoutMiddleware(probeTimeout)).Get("/{run_id}", s.runs.GetRun)
			r.With(timeoutMiddleware(probeTimeout)).Get("/{run_id}/changes", s.runs.ListChanges)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every background run finished.
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Period string `json:"period"`
	// Wait defaults to true; false answers 202 and runs in the background.
	Wait *bool `json:"wait"`
}

// triggerRun handles POST /v1/runs. The run is detached from the request
// context so a client disconnect does not cancel it. It answers 200 with the
// report on success, 500 when any task failed, 409 when another run holds the
// lock, or 202 when wait is false.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if q := r.URL.Query().Get("period"); q != "" {
		req.Period = q
	}
	period, known := orchestrator.ParsePeriod(req.Period)
	if !known && req.Period != "" {
		s.logger.Warn("unknown period; running all tasks", zap.String("period", req.Period))
	}
	ctx := context.WithoutCancel(r.Context())

	if req.Wait != nil && !*req.Wait {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if _, err := s.runner.Run(ctx, period, "api"); err != nil {
				s.logger.Error("background run failed", zap.String("period", string(period)), zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"period": string(period), "status": "accepted"})
		return
	}

	report, err := s.runner.Run(ctx, period, "api")
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "run": report})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"run": report})
	}
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", RequestID(r.Context())),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
