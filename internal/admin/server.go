// Package admin exposes the harness status API: fleet state, health,
// latest suite results, Prometheus metrics, and an on-demand run trigger.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// NodesProvider returns per-node process snapshots as JSON-encodable data.
type NodesProvider interface {
	NodeSnapshots() any
}

// HealthProvider returns per-node health snapshots as JSON-encodable data.
type HealthProvider interface {
	HealthSnapshots() any
}

// ResultsProvider returns the latest compiled run report, or nil when no
// run has finished yet.
type ResultsProvider interface {
	LatestReport() any
}

// RunRequester triggers an on-demand suite run. An empty names slice
// means the full built-in suite.
type RunRequester interface {
	RunCases(ctx context.Context, names []string) (any, error)
}

// Server provides the HTTP status API for a running harness.
type Server struct {
	nodes   NodesProvider
	health  HealthProvider
	results ResultsProvider
	runner  RunRequester
	logger  *slog.Logger
}

// ServerOption configures optional dependencies for the status server.
type ServerOption func(*Server)

// WithNodesProvider sets the fleet snapshot provider.
func WithNodesProvider(np NodesProvider) ServerOption {
	return func(s *Server) { s.nodes = np }
}

// WithHealthProvider sets the health snapshot provider.
func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

// WithResultsProvider sets the latest-report provider.
func WithResultsProvider(rp ResultsProvider) ServerOption {
	return func(s *Server) { s.results = rp }
}

// WithRunRequester sets the on-demand run trigger.
func WithRunRequester(rr RunRequester) ServerOption {
	return func(s *Server) { s.runner = rr }
}

// NewServer creates a status API server. All providers are optional;
// routes without a provider answer 503.
func NewServer(logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{logger: logger.With("component", "admin")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the status API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/v1/nodes", s.handleNodes)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("GET /admin/v1/results", s.handleResults)
	mux.HandleFunc("POST /admin/v1/run", s.handleRun)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if s.nodes == nil {
		http.Error(w, `{"error":"fleet state not available"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.nodes.NodeSnapshots())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		http.Error(w, `{"error":"health tracking not available"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.health.HealthSnapshots())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		http.Error(w, `{"error":"results not available"}`, http.StatusServiceUnavailable)
		return
	}
	rep := s.results.LatestReport()
	if rep == nil {
		http.Error(w, `{"error":"no run has finished yet"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type runRequest struct {
	Cases []string `json:"cases"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, `{"error":"run trigger not available"}`, http.StatusServiceUnavailable)
		return
	}

	var req runRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := s.runner.RunCases(r.Context(), req.Cases)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			http.Error(w, `{"error":"run canceled"}`, http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("triggered run failed", "error", err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	s.logger.Info("suite run triggered via status API", "cases", len(req.Cases))
	writeJSON(w, http.StatusOK, result)
}

// Run serves the status API on the given port until ctx is canceled.
func (s *Server) Run(ctx context.Context, port int) error {
	limiter := NewRateLimitMiddleware(s.logger)
	defer limiter.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      limiter.Wrap(s.Handler()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status API server: %w", err)
	}
}
