package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/policymeta"
	"github.com/agent-gate/agentgate/internal/domain/tool"
	"github.com/agent-gate/agentgate/internal/service"
)

// maxRequestBody bounds /run request bodies.
const maxRequestBody = 1 << 20

// RunRequest is the /run request body.
type RunRequest struct {
	Task       string `json:"task"`
	Baseline   string `json:"baseline,omitempty"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// RunResponse is the /run response body.
type RunResponse struct {
	FinalOutput   string              `json:"final_output"`
	ToolTrace     []service.TraceStep `json:"tool_trace"`
	LatencyMS     float64             `json:"latency_ms"`
	RequestID     string              `json:"request_id"`
	CorrelationID string              `json:"correlation_id"`
	PolicyVersion string              `json:"policy_version"`
}

// Server is the ingress HTTP adapter. It fronts the orchestrator with the
// /run contract, a health probe, and Prometheus exposition.
type Server struct {
	orchestrator    *service.Orchestrator
	meta            policymeta.Meta
	defaultBaseline tool.Baseline
	router          *chi.Mux
	logger          *slog.Logger
	server          *http.Server
}

// ServerConfig carries the knobs the server needs beyond its collaborators.
type ServerConfig struct {
	Addr            string
	DefaultBaseline tool.Baseline
	MetricsEnabled  bool
	MetricsPath     string
	Registry        *prometheus.Registry
}

// NewServer builds the router and handlers. The metrics endpoint is mounted
// only when enabled.
func NewServer(orch *service.Orchestrator, meta policymeta.Meta, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	baseline := cfg.DefaultBaseline
	if baseline == "" {
		baseline = tool.BaselineB3
	}

	s := &Server{
		orchestrator:    orch,
		meta:            meta,
		defaultBaseline: baseline,
		router:          chi.NewRouter(),
		logger:          logger,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Post("/run", s.handleRun)
	s.router.Get("/health", s.handleHealth)
	if cfg.MetricsEnabled && cfg.Registry != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{
			Registry: cfg.Registry,
		}))
	}

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the server until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	baseline := s.defaultBaseline
	if req.Baseline != "" {
		baseline = tool.Baseline(req.Baseline)
		if !tool.ValidBaseline(baseline) {
			writeError(w, http.StatusBadRequest, "unknown baseline: "+req.Baseline)
			return
		}
	}

	requestID := "req-" + uuid.NewString()
	result, err := s.orchestrator.Run(r.Context(), req.Task, baseline, nil, policy.Ablation{})
	if err != nil {
		s.logger.Error("run failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "run failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		FinalOutput:   result.FinalOutput,
		ToolTrace:     result.ToolTrace,
		LatencyMS:     result.LatencyMS,
		RequestID:     requestID,
		CorrelationID: result.CorrelationID,
		PolicyVersion: s.meta.PolicyVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
