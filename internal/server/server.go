// Package server provides the HTTP API for launching and following
// prospecting runs and managing projects.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/projects"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/runs"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/server/middleware"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/server/ratelimit"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const serviceName = "deep-prospecting-engine"

const maxBodyBytes = 1 << 20

// RunService is the run coordinator as seen by the handlers.
type RunService interface {
	Get(ctx context.Context, runID string) (*store.Run, error)
	List(ctx context.Context) ([]store.RunSummary, error)
	Subscribe(ctx context.Context, runID string) (*runs.Subscription, error)
}

// ProjectService is the project service as seen by the handlers.
type ProjectService interface {
	StartRun(ctx context.Context, req types.ProspectRequest) (*store.Run, error)
	Create(ctx context.Context, req types.CreateProjectRequest) (*store.Project, error)
	Get(ctx context.Context, id string) (*projects.Detail, error)
	List(ctx context.Context) ([]projects.Summary, error)
	Update(ctx context.Context, id string, req types.UpdateProjectRequest) (*projects.Detail, error)
	Delete(ctx context.Context, id string) error
	StartIteration(ctx context.Context, projectID string, req types.StartIterationRequest) (*store.Run, error)
	SavePlay(ctx context.Context, projectID string, req types.SavePlayRequest) (*store.SavedPlay, error)
	RemoveSavedPlay(ctx context.Context, projectID, playID string) (bool, error)
}

// Config holds server configuration
type Config struct {
	Port        int
	Runs        RunService
	Projects    ProjectService
	Logger      *zap.Logger
	Keepalive   time.Duration
	CORSOrigins []string
	// Auth enables bearer-token checks on mutating routes when non-nil.
	Auth      *Authenticator
	RateLimit *ratelimit.Config
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	runs        RunService
	projects    ProjectService
	logger      *zap.Logger
	keepalive   time.Duration
	corsOrigins []string
	auth        *Authenticator
	rateLimiter *ratelimit.Limiter
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Runs == nil || cfg.Projects == nil {
		return nil, errors.New("server: run and project services are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 60 * time.Second
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = &ratelimit.Config{Enabled: false}
	}

	s := &Server{
		runs:        cfg.Runs,
		projects:    cfg.Projects,
		logger:      cfg.Logger,
		keepalive:   cfg.Keepalive,
		corsOrigins: cfg.CORSOrigins,
		auth:        cfg.Auth,
		rateLimiter: ratelimit.NewLimiter(cfg.RateLimit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/auth/token", s.handleIssueToken)

	// Runs
	mux.Handle("POST /api/prospect", s.protect(s.handleProspect))
	mux.HandleFunc("GET /api/prospect/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/prospect/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/steps", s.handleListSteps)

	// Projects
	mux.Handle("POST /api/projects", s.protect(s.handleCreateProject))
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("GET /api/projects/{id}", s.handleGetProject)
	mux.Handle("PATCH /api/projects/{id}", s.protect(s.handleUpdateProject))
	mux.Handle("DELETE /api/projects/{id}", s.protect(s.handleDeleteProject))
	mux.Handle("POST /api/projects/{id}/iterations", s.protect(s.handleStartIteration))
	mux.Handle("POST /api/projects/{id}/plays", s.protect(s.handleSavePlay))
	mux.Handle("DELETE /api/projects/{id}/plays/{play_id}", s.protect(s.handleRemoveSavedPlay))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: progress streams stay open for the whole run.
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	defer s.rateLimiter.Stop()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// protect requires a bearer token when authentication is enabled.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.auth == nil {
		return h
	}
	return middleware.RequireAuth(s.auth.jwt.AsTokenValidator())(h)
}

// withCORS adds CORS headers for allowed origins
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin)
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client", s.extractClientID(r)),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
		"service": serviceName,
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom maps err to a status and writes it. Server errors are logged and
// their text is not exposed.
func (s *Server) errorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if status == http.StatusInternalServerError {
			s.errorResponse(w, status, "internal server error")
			return
		}
	}
	if status == http.StatusBadRequest {
		s.errorResponse(w, status, validationMessage(err))
		return
	}
	s.errorResponse(w, status, err.Error())
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body into v and validates it. An empty body is
// accepted when optional is set. It reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v validatable, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && optional:
	case err != nil:
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := v.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// extractClientID returns the client IP from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}

	s.logger.Warn("rate limit exceeded",
		zap.Int("limit", info.Limit),
		zap.Time("reset_at", info.ResetTime))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
