package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/agent-gate/agentgate/internal/adapter/inbound/api"
	auditsink "github.com/agent-gate/agentgate/internal/adapter/outbound/audit"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/httpegress"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/pdp"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/store"
	"github.com/agent-gate/agentgate/internal/config"
	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/policymeta"
	"github.com/agent-gate/agentgate/internal/domain/tool"
	"github.com/agent-gate/agentgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingress HTTP API",
	Long: `Start the gateway's ingress HTTP API.

Endpoints:
  POST /run      Run an agent task through the gateway
  GET  /health   Liveness probe
  GET  /metrics  Prometheus exposition (when METRICS_ENABLED)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// defaultCanaries are the honeytokens watched on interactive runs.
var defaultCanaries = []string{"CANARY_KEY_001", "CANARY_KEY_002"}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	metrics := api.NewMetrics(reg)

	gateway, meta, cleanup, err := buildGateway(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := service.NewOrchestrator(gateway, defaultCanaries)
	srv := api.NewServer(orch, meta, api.ServerConfig{
		Addr:            cfg.ServerAddr,
		DefaultBaseline: tool.Baseline(cfg.DefaultBaseline),
		MetricsEnabled:  cfg.MetricsEnabled,
		MetricsPath:     cfg.MetricsPath,
		Registry:        reg,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gateway ready",
		"addr", cfg.ServerAddr,
		"baseline", cfg.DefaultBaseline,
		"pdp_mode", cfg.PDPMode,
		"policy_hash", meta.PolicyHash)
	return srv.Serve(ctx)
}

// buildGateway assembles the enforcement point from the configuration. The
// returned cleanup closes the audit sink and any sqlite store.
func buildGateway(cfg *config.Config, metrics service.MetricsRecorder, logger *slog.Logger) (*service.Gateway, policymeta.Meta, func(), error) {
	noop := func() {}

	var httpAdapter tool.HTTPAdapter
	if cfg.HTTPAdapter == "real" {
		httpAdapter = httpegress.NewHardened(httpegress.HardenedConfig{
			TimeoutMS:      cfg.HTTPTimeoutMS,
			AllowRedirects: cfg.HTTPAllowRedirects,
			MaxRedirects:   cfg.HTTPMaxRedirects,
		})
	} else {
		httpAdapter = httpegress.NewMock()
	}

	var tickets tool.TicketStore
	closeTickets := noop
	if cfg.TicketStore == "sqlite" {
		sq, err := store.NewSQLiteTickets(cfg.TicketStorePath)
		if err != nil {
			return nil, policymeta.Meta{}, noop, fmt.Errorf("open ticket store: %w", err)
		}
		tickets = sq
		closeTickets = func() { _ = sq.Close() }
	} else {
		tickets = store.NewTickets()
	}

	registry := tool.NewRegistry(store.NewDocs(), httpAdapter, tickets)

	bundle, err := loadBundle(cfg)
	if err != nil {
		closeTickets()
		return nil, policymeta.Meta{}, noop, err
	}

	var decider policy.Decider
	if cfg.PDPMode == "opa" {
		decider = pdp.NewOPAClient(cfg.OPAURL)
	} else {
		engine, err := pdp.NewEngine(bundle)
		if err != nil {
			closeTickets()
			return nil, policymeta.Meta{}, noop, fmt.Errorf("build policy engine: %w", err)
		}
		decider = engine
	}

	sink, err := auditsink.NewFileSink(cfg.AuditLogPath, logger)
	if err != nil {
		closeTickets()
		return nil, policymeta.Meta{}, noop, fmt.Errorf("open audit log: %w", err)
	}
	cleanup := func() {
		if err := sink.Close(); err != nil {
			logger.Error("audit sink close failed", "error", err)
		}
		closeTickets()
	}

	gateway := service.NewGateway(registry, decider, sink, metrics, bundle.Meta, logger)
	return gateway, bundle.Meta, cleanup, nil
}

// loadBundle loads the policy bundle, preferring POLICY_DIR over the embedded
// default.
func loadBundle(cfg *config.Config) (*pdp.Bundle, error) {
	if cfg.PolicyDir != "" {
		bundle, err := pdp.LoadBundleDir(cfg.PolicyDir)
		if err != nil {
			return nil, fmt.Errorf("load policy dir %s: %w", cfg.PolicyDir, err)
		}
		return bundle, nil
	}
	bundle, err := pdp.DefaultBundle()
	if err != nil {
		return nil, fmt.Errorf("load embedded policy: %w", err)
	}
	return bundle, nil
}
