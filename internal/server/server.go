package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/observability"
	"github.com/jonathan/planning-ingest/internal/pipeline"
	"github.com/jonathan/planning-ingest/internal/server/middleware"
	"github.com/jonathan/planning-ingest/internal/server/ratelimit"
	"github.com/jonathan/planning-ingest/internal/store"
)

// DefaultMaxUploadBytes bounds multipart uploads
const DefaultMaxUploadBytes = 256 << 20

// Options wires the server to the ingestion engine
type Options struct {
	Port    int
	Driver  *pipeline.Driver
	Store   store.Store
	JWT     *JWTService
	Metrics *observability.Metrics
	// Limiter may be nil to disable rate limiting.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
	// Fetch configures retrieval of documents submitted by URL.
	Fetch          *fetch.Options
	MaxUploadBytes int64
	// ShutdownTimeout bounds how long Start waits for in-flight runs.
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler

	driver    *pipeline.Driver
	store     store.Store
	jwt       *JWTService
	metrics   *observability.Metrics
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	fetch     *fetch.Options
	maxUpload int64
	shutdown  time.Duration

	// Background runs outlive the request that started them.
	bg       context.Context
	cancelBG context.CancelFunc
	runs     sync.WaitGroup
}

// New creates a server instance
func New(opts Options) (*Server, error) {
	var missing []string
	if opts.Driver == nil {
		missing = append(missing, "driver")
	}
	if opts.Store == nil {
		missing = append(missing, "store")
	}
	if opts.JWT == nil {
		missing = append(missing, "jwt")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("server: missing dependencies: %v", missing)
	}

	s := &Server{
		driver:    opts.Driver,
		store:     opts.Store,
		jwt:       opts.JWT,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		fetch:     opts.Fetch,
		maxUpload: opts.MaxUploadBytes,
		shutdown:  opts.ShutdownTimeout,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.shutdown <= 0 {
		s.shutdown = 30 * time.Second
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLimiter(nil)
	}
	s.bg, s.cancelBG = context.WithCancel(context.Background())

	auth := middleware.AuthMiddleware(s.jwt.AsTokenValidator())
	protect := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /runs", protect(s.handleCreateRun))
	mux.Handle("POST /runs/stream", protect(s.handleCreateRunStream))
	mux.Handle("POST /runs/{id}/resume", protect(s.handleResumeRun))
	mux.Handle("GET /runs", protect(s.handleListRuns))
	mux.Handle("GET /runs/{id}", protect(s.handleGetRun))
	mux.Handle("GET /runs/{id}/steps", protect(s.handleListRunSteps))
	mux.Handle("GET /runs/{id}/tool-runs", protect(s.handleListToolRuns))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  5 * time.Minute, // uploads
		WriteTimeout: 0,               // streamed runs
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the full middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully and waits
// for background runs up to the shutdown timeout. Runs still executing after
// that are cancelled and left resumable.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	go s.limiter.Run(ctx, 5*time.Minute)

	select {
	case err := <-errCh:
		if err != nil {
			s.cancelBG()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.cancelBG()
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if !s.waitRuns(shutdownCtx) {
		s.logger.Warn("cancelling in-flight runs")
		s.cancelBG()
		s.runs.Wait()
	}
	s.cancelBG()
	s.logger.Info("server stopped")
	return nil
}

// waitRuns reports whether background runs finished before ctx ended
func (s *Server) waitRuns(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Wait blocks until every background run has finished
func (s *Server) Wait() {
	s.runs.Wait()
}

// goRun executes fn in the background under the server's lifetime context
func (s *Server) goRun(fn func(ctx context.Context)) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		fn(s.bg)
	}()
}

// ----------------------------------------------------------------------------
// Middleware
// ----------------------------------------------------------------------------

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over their budget
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.limiter.Allow(extractClientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

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
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// extractClientID uses the remote IP. Forwarded headers are not trusted.
func extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 with the bucket state
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	retry := int(info.RetryAfter.Round(time.Second).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	s.logger.Warn("rate limit exceeded", "limit", info.Limit, "reset", info.ResetTime.Format(time.RFC3339))
	s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Rate limit exceeded. Please try again later.",
		"limit":       info.Limit,
		"remaining":   info.Remaining,
		"reset_at":    info.ResetTime.Format(time.RFC3339),
		"retry_after": retry,
	})
}

// ----------------------------------------------------------------------------
// Responses
// ----------------------------------------------------------------------------

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "version": pipeline.Version})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status and writes it. Internal errors are logged
// and not echoed.
func (s *Server) failure(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}
