package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	auditsink "github.com/agent-gate/agentgate/internal/adapter/outbound/audit"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/pdp"
	"github.com/agent-gate/agentgate/internal/benchmark"
	"github.com/agent-gate/agentgate/internal/benchmark/scenario"
	"github.com/agent-gate/agentgate/internal/config"
	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/tool"
)

var benchFlags struct {
	scenarios string
	baseline  string
	runs      int
	out       string
	summary   string
	compare   bool
	opaURL    string
	ablation  string
	seed      int
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Replay a scenario catalog against the gateway baselines",
	Long: `Run the benchmark suite: replay every scenario in the catalog against
one baseline (or all four), score the outcomes, and write the runs file plus a
schema-validated summary.

Examples:
  # Strict baseline only
  agent-gate bench --scenarios scenarios/scenarios.yaml \
    --out results/runs.json --summary results/summary.json

  # Full comparison across B0..B3 with an ablation
  agent-gate bench --scenarios scenarios/scenarios.yaml --baseline all \
    --compare --ablation no_canary \
    --out results/runs.json --summary results/summary.json`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchFlags.scenarios, "scenarios", "", "scenario catalog YAML (required)")
	benchCmd.Flags().StringVar(&benchFlags.baseline, "baseline", "B3", "baseline to run: B0|B1|B2|B3|all")
	benchCmd.Flags().IntVar(&benchFlags.runs, "runs", 5, "repetitions per scenario")
	benchCmd.Flags().StringVar(&benchFlags.out, "out", "", "runs output file (required)")
	benchCmd.Flags().StringVar(&benchFlags.summary, "summary", "", "summary output file (required)")
	benchCmd.Flags().BoolVar(&benchFlags.compare, "compare", false, "run all baselines and write a comparison report")
	benchCmd.Flags().StringVar(&benchFlags.opaURL, "opa-url", "", "use a remote OPA at this URL instead of the embedded engine")
	benchCmd.Flags().StringVar(&benchFlags.ablation, "ablation", "none", "ablation: "+strings.Join(benchmark.AblationNames, "|"))
	benchCmd.Flags().IntVar(&benchFlags.seed, "seed", 1, "seed recorded in the summary meta")
	_ = benchCmd.MarkFlagRequired("scenarios")
	_ = benchCmd.MarkFlagRequired("out")
	_ = benchCmd.MarkFlagRequired("summary")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	doc, err := scenario.Load(benchFlags.scenarios)
	if err != nil {
		return err
	}
	ablation, err := benchmark.AblationFlags(benchFlags.ablation)
	if err != nil {
		return err
	}
	baselines, err := benchBaselines()
	if err != nil {
		return err
	}

	bundle, err := loadBundle(cfg)
	if err != nil {
		return err
	}
	var decider policy.Decider
	if benchFlags.opaURL != "" {
		decider = pdp.NewOPAClient(benchFlags.opaURL)
	} else {
		engine, err := pdp.NewEngine(bundle)
		if err != nil {
			return fmt.Errorf("build policy engine: %w", err)
		}
		decider = engine
	}

	sink, err := auditsink.NewFileSink(cfg.AuditLogPath, logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = sink.Close() }()

	runner := benchmark.NewRunner(doc, decider, sink, bundle.Meta, ablation, benchFlags.runs, logger)
	meta := benchmark.BuildMeta(benchFlags.seed, doc, ablation, bundle.Meta.PolicyHash)

	var allRecords []benchmark.RunRecord
	summaries := make(map[string]benchmark.Metrics, len(baselines))
	var b3Outcomes []benchmark.RunOutcome

	for _, baseline := range baselines {
		fmt.Printf("Running baseline %s (%d scenarios x %d runs)\n", baseline, len(doc.Scenarios), benchFlags.runs)
		records, outcomes, err := runner.RunBaseline(cmd.Context(), baseline)
		if err != nil {
			return err
		}
		allRecords = append(allRecords, records...)
		summaries[string(baseline)] = benchmark.ComputeMetrics(outcomes)
		if baseline == tool.BaselineB3 {
			b3Outcomes = outcomes
		}
	}

	if err := benchmark.WriteJSON(benchFlags.out, benchmark.RunsDocument{Runs: allRecords}); err != nil {
		return err
	}

	// The summary always reports the strict baseline when it ran.
	summaryBaseline := string(baselines[len(baselines)-1])
	if _, ok := summaries["B3"]; ok {
		summaryBaseline = "B3"
	}
	summary := benchmark.NewSummary(summaries[summaryBaseline], meta)
	if err := summary.Validate(); err != nil {
		return err
	}
	if err := benchmark.WriteJSON(benchFlags.summary, summary); err != nil {
		return err
	}

	fmt.Println()
	benchmark.RenderBaselineTable(os.Stdout, summaries, baselineOrder(baselines))

	if benchFlags.compare {
		comparison := benchmark.NewComparison(summaries, b3Outcomes, meta)
		comparisonPath := strings.TrimSuffix(benchFlags.summary, ".json") + "_comparison.json"
		if err := benchmark.WriteJSON(comparisonPath, comparison); err != nil {
			return err
		}
		fmt.Println()
		benchmark.RenderBreakdownTable(os.Stdout, "B3 category breakdown", comparison.CategoryBreakdown["B3"])
		fmt.Println()
		benchmark.RenderBreakdownTable(os.Stdout, "B3 threat breakdown", comparison.ThreatBreakdown["B3"])
		fmt.Printf("\nComparison report written to %s\n", comparisonPath)
	}

	fmt.Printf("Wrote %s and %s\n", benchFlags.out, benchFlags.summary)
	return nil
}

// benchBaselines resolves the --baseline/--compare flags into the run list.
func benchBaselines() ([]tool.Baseline, error) {
	if benchFlags.compare || benchFlags.baseline == "all" {
		return []tool.Baseline{tool.BaselineB0, tool.BaselineB1, tool.BaselineB2, tool.BaselineB3}, nil
	}
	b := tool.Baseline(benchFlags.baseline)
	if !tool.ValidBaseline(b) {
		return nil, fmt.Errorf("unknown baseline: %s", benchFlags.baseline)
	}
	return []tool.Baseline{b}, nil
}

func baselineOrder(baselines []tool.Baseline) []string {
	order := make([]string, 0, len(baselines))
	for _, b := range baselines {
		order = append(order, string(b))
	}
	return order
}
