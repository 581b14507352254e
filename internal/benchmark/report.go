package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// RunsDocument wraps the raw per-run records for the runs output file.
type RunsDocument struct {
	Runs []RunRecord `json:"runs"`
}

// ImprovementDelta captures how much a stricter baseline improves on a looser
// one.
type ImprovementDelta struct {
	ASRReduction           float64  `json:"asr_reduction"`
	LeakageReduction       float64  `json:"leakage_reduction"`
	TaskSuccessImprovement *float64 `json:"task_success_improvement,omitempty"`
}

// Improvement holds the headline comparisons.
type Improvement struct {
	B0ToB3 ImprovementDelta `json:"B0_to_B3"`
	B2ToB3 ImprovementDelta `json:"B2_to_B3"`
}

// Comparison is the cross-baseline report document.
type Comparison struct {
	Baselines         map[string]Metrics            `json:"baselines"`
	CategoryBreakdown map[string]map[string]Metrics `json:"category_breakdown"`
	ThreatBreakdown   map[string]map[string]Metrics `json:"threat_breakdown"`
	Meta              Meta                          `json:"meta"`
	Improvement       Improvement                   `json:"improvement"`
}

// NewComparison builds the comparison document. Breakdowns are computed over
// the strict baseline only; that is the configuration under evaluation.
func NewComparison(baselines map[string]Metrics, b3Outcomes []RunOutcome, meta Meta) Comparison {
	b0, b2, b3 := baselines["B0"], baselines["B2"], baselines["B3"]
	successGain := b3.TaskSuccessRate - b0.TaskSuccessRate
	return Comparison{
		Baselines: baselines,
		CategoryBreakdown: map[string]map[string]Metrics{
			"B3": CategoryBreakdown(b3Outcomes),
		},
		ThreatBreakdown: map[string]map[string]Metrics{
			"B3": ThreatBreakdown(b3Outcomes),
		},
		Meta: meta,
		Improvement: Improvement{
			B0ToB3: ImprovementDelta{
				ASRReduction:           b0.ASR - b3.ASR,
				LeakageReduction:       b0.LeakageRate - b3.LeakageRate,
				TaskSuccessImprovement: &successGain,
			},
			B2ToB3: ImprovementDelta{
				ASRReduction:     b2.ASR - b3.ASR,
				LeakageReduction: b2.LeakageRate - b3.LeakageRate,
			},
		},
	}
}

// WriteJSON writes an indented JSON document, creating parent directories.
func WriteJSON(path string, payload any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// RenderBaselineTable prints the per-baseline headline metrics.
func RenderBaselineTable(w io.Writer, baselines map[string]Metrics, order []string) {
	fmt.Fprintf(w, "%-10s %-10s %-12s %-15s %-12s\n", "Baseline", "ASR", "Leakage", "Task Success", "False Pos")
	for _, bl := range order {
		m, ok := baselines[bl]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%-10s %-10.4f %-12.4f %-15.4f %-12.4f\n",
			bl, m.ASR, m.LeakageRate, m.TaskSuccessRate, m.FalsePositiveRate)
	}
}

// RenderBreakdownTable prints a per-key breakdown sorted by key.
func RenderBreakdownTable(w io.Writer, title string, breakdown map[string]Metrics) {
	fmt.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "%-25s %-10s %-12s %-15s\n", "Key", "ASR", "Leakage", "Task Success")
	keys := make([]string, 0, len(breakdown))
	for k := range breakdown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := breakdown[k]
		fmt.Fprintf(w, "%-25s %-10.4f %-12.4f %-15.4f\n", k, m.ASR, m.LeakageRate, m.TaskSuccessRate)
	}
}
