// Package http exposes the observability surface: health, metrics in
// Prometheus exposition and structured form, cache analytics and breaker
// state.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/internal/logging"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/cache"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/metrics"
	"github.com/pickleton89/mutation-clinical-trial-matching-mcp/pkg/resilience"
)

// Server serves the observability endpoints.
type Server struct {
	cache    *cache.Cache
	metrics  *metrics.Collector
	breakers *resilience.Registry
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server over the shared collaborators.
func NewServer(c *cache.Cache, col *metrics.Collector, breakers *resilience.Registry, opts ...Option) *Server {
	s := &Server{
		cache:    c,
		metrics:  col,
		breakers: breakers,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.metricsHandler().ServeHTTP)
	r.Get("/metrics.json", s.handleMetricsJSON)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Get("/breakers", s.handleBreakers)
	return r
}

// metricsHandler serves the collector snapshot in Prometheus exposition
// format through a dedicated registry.
func (s *Server) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newSnapshotCollector(s.metrics))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.cache != nil {
		if err := s.cache.Healthy(r.Context()); err != nil {
			s.logger.Warn("health check failed", "err", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		http.Error(w, "cache not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	if s.breakers == nil {
		http.Error(w, "breakers not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.breakers.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
