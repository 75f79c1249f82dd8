// Package http exposes the service's operational surface: probes, metrics,
// manual pipeline triggers, and the rate limiter snapshot.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/challenge-score-etl/internal/domain"
	"github.com/couchcryptid/challenge-score-etl/internal/ingest"
	"github.com/couchcryptid/challenge-score-etl/internal/ratelimit"
	"github.com/couchcryptid/challenge-score-etl/internal/scoring"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Ingester runs one ingestion cycle on demand.
type Ingester interface {
	RunCycle(ctx context.Context) (ingest.Report, error)
}

// Scorer runs one scoring pass on demand, optionally narrowed by filter.
type Scorer interface {
	RunPass(ctx context.Context, filter scoring.Filter) (scoring.Report, error)
}

// LimiterStatus exposes the rate limiter snapshot. Nil when the quota-limited
// fallback source is not configured.
type LimiterStatus interface {
	Status() ratelimit.Status
}

// Server exposes health, metrics, and trigger HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with probe, metrics, and trigger routes.
// limiter may be nil.
func NewServer(addr string, ready ReadinessChecker, ingester Ingester, scorer Scorer, limiter LimiterStatus, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute, // manual cycle runs block the response
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /ingest/run", s.handleIngestRun(ingester))
	mux.HandleFunc("POST /scores/compute", s.handleScoresCompute(scorer))
	mux.HandleFunc("GET /ratelimit/status", s.handleRateLimitStatus(limiter))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleIngestRun triggers one ingestion cycle. A degraded cycle (source
// failures) still returns 200 with the detail in the report; only a
// persistence failure is a 500.
func (s *Server) handleIngestRun(ingester Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := ingester.RunCycle(r.Context())
		if err != nil {
			s.logger.Error("manual ingestion cycle failed", "error", err)
			status := http.StatusInternalServerError
			var perr *domain.PersistenceError
			if !errors.As(err, &perr) && r.Context().Err() != nil {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, map[string]any{"error": err.Error(), "report": report})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// handleScoresCompute triggers one scoring pass. The optional request body
// narrows the pass to specific challenge types or regions.
func (s *Server) handleScoresCompute(scorer Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter scoring.Filter
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed filter: " + err.Error()})
			return
		}
		for _, t := range filter.Types {
			if !domain.KnownChallengeType(t) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown challenge type " + string(t)})
				return
			}
		}

		report, err := scorer.RunPass(r.Context(), filter)
		if err != nil {
			s.logger.Error("manual scoring pass failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleRateLimitStatus(limiter LimiterStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if limiter == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no rate-limited source configured"})
			return
		}
		writeJSON(w, http.StatusOK, limiter.Status())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort status response
}
