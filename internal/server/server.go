// Package server exposes the thin HTTP surface over the counter service:
// an allocation endpoint and a health check. The matching algorithm and the
// rest of the mentor-allocation application live elsewhere; only counter
// assignment is served here.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sabtedu/counterd/internal/auth"
	"github.com/sabtedu/counterd/internal/counter"
	"github.com/sabtedu/counterd/internal/ratelimit"
)

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the counterd HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Config holds dependencies and settings for a Server.
type Config struct {
	DB      Pinger
	Service *counter.Service
	Years   counter.YearProvider
	Logger  *slog.Logger

	// APIKeyHash guards POST endpoints; empty disables auth (dev only).
	APIKeyHash string

	// Limiter bounds request rates on the allocation endpoint; nil disables.
	Limiter ratelimit.Limiter

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a server with all routes configured.
func New(cfg Config) *Server {
	h := &handlers{
		db:         cfg.DB,
		service:    cfg.Service,
		years:      cfg.Years,
		apiKeyHash: cfg.APIKeyHash,
		logger:     cfg.Logger,
	}
	if cfg.APIKeyHash != "" {
		h.verified = auth.NewVerifyCache(5 * time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("POST /v1/allocations",
		ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc)(
			http.HandlerFunc(h.requireAPIKey(h.handleAllocate))))

	s := &Server{
		handler: withRequestLog(cfg.Logger, mux),
		logger:  cfg.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler for use in tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withRequestLog logs one line per request after it completes.
func withRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
