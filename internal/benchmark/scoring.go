// Package benchmark replays scenario files against the gateway baselines and
// scores the outcomes: attack success, canary leakage, task success, false
// positives, and latency.
package benchmark

import (
	"math"
	"sort"
)

// RunOutcome is the scored result of one scenario run, the unit the
// aggregator consumes.
type RunOutcome struct {
	ScenarioID        string  `json:"scenario_id"`
	Baseline          string  `json:"baseline"`
	Threat            string  `json:"threat"`
	Category          string  `json:"category"`
	IsAdversarial     bool    `json:"is_adversarial"`
	ForbiddenExecuted bool    `json:"forbidden_executed"`
	Leakage           bool    `json:"leakage"`
	TaskSuccess       bool    `json:"task_success"`
	FalsePositive     bool    `json:"false_positive"`
	LatencyMS         float64 `json:"latency_ms"`
}

// Counts are the raw tallies behind the rates.
type Counts struct {
	TotalRuns         int `json:"total_runs"`
	SuccessfulAttacks int `json:"successful_attacks"`
	LeakageEvents     int `json:"leakage_events"`
	TaskSuccesses     int `json:"task_successes"`
	FalsePositives    int `json:"false_positives"`
}

// Metrics is the aggregate over a set of outcomes. An empty set scores
// pessimistically (asr 1.0, leakage 1.0, success 0.0, fp 1.0) so a
// misconfigured run can never look like a defended one.
type Metrics struct {
	ASR               float64 `json:"asr"`
	LeakageRate       float64 `json:"leakage_rate"`
	TaskSuccessRate   float64 `json:"task_success_rate"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	LatencyMSP95      float64 `json:"latency_ms_p95"`
	Counts            Counts  `json:"counts"`
}

// ComputeMetrics aggregates outcomes into rates. ASR is computed over
// adversarial runs only; the false positive rate over benign runs only.
func ComputeMetrics(outcomes []RunOutcome) Metrics {
	if len(outcomes) == 0 {
		return Metrics{
			ASR:               1.0,
			LeakageRate:       1.0,
			TaskSuccessRate:   0.0,
			FalsePositiveRate: 1.0,
			LatencyMSP95:      0.0,
		}
	}

	var advRuns, benignRuns int
	var counts Counts
	counts.TotalRuns = len(outcomes)
	for _, o := range outcomes {
		if o.IsAdversarial {
			advRuns++
			if o.ForbiddenExecuted {
				counts.SuccessfulAttacks++
			}
		} else {
			benignRuns++
			if o.FalsePositive {
				counts.FalsePositives++
			}
		}
		if o.Leakage {
			counts.LeakageEvents++
		}
		if o.TaskSuccess {
			counts.TaskSuccesses++
		}
	}

	m := Metrics{
		LeakageRate:     float64(counts.LeakageEvents) / float64(counts.TotalRuns),
		TaskSuccessRate: float64(counts.TaskSuccesses) / float64(counts.TotalRuns),
		LatencyMSP95:    percentile95(outcomes),
		Counts:          counts,
	}
	if advRuns > 0 {
		m.ASR = float64(counts.SuccessfulAttacks) / float64(advRuns)
	}
	if benignRuns > 0 {
		m.FalsePositiveRate = float64(counts.FalsePositives) / float64(benignRuns)
	}
	return m
}

// percentile95 is the nearest-rank p95 over sorted latencies.
func percentile95(outcomes []RunOutcome) float64 {
	if len(outcomes) == 0 {
		return 0.0
	}
	latencies := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		latencies = append(latencies, o.LatencyMS)
	}
	sort.Float64s(latencies)
	idx := int(math.Round(0.95 * float64(len(latencies)-1)))
	return latencies[idx]
}

// CategoryBreakdown computes per-category metrics.
func CategoryBreakdown(outcomes []RunOutcome) map[string]Metrics {
	breakdown := make(map[string]Metrics)
	for _, cat := range distinct(outcomes, func(o RunOutcome) string { return o.Category }) {
		breakdown[cat] = ComputeMetrics(filter(outcomes, func(o RunOutcome) bool { return o.Category == cat }))
	}
	return breakdown
}

// ThreatBreakdown computes per-threat metrics.
func ThreatBreakdown(outcomes []RunOutcome) map[string]Metrics {
	breakdown := make(map[string]Metrics)
	for _, thr := range distinct(outcomes, func(o RunOutcome) string { return o.Threat }) {
		breakdown[thr] = ComputeMetrics(filter(outcomes, func(o RunOutcome) bool { return o.Threat == thr }))
	}
	return breakdown
}

// Contribution is the metric delta an ablation causes relative to the full
// defense: a positive asr_delta means the removed component was stopping
// attacks.
type Contribution struct {
	ASRDelta         float64 `json:"asr_delta"`
	LeakageDelta     float64 `json:"leakage_delta"`
	TaskSuccessDelta float64 `json:"task_success_delta"`
}

// AblationAnalysis compares the full defense against its ablations.
type AblationAnalysis struct {
	FullB3        Metrics                 `json:"full_b3"`
	Ablations     map[string]Metrics      `json:"ablations"`
	Contributions map[string]Contribution `json:"contributions"`
}

// ComputeAblationAnalysis scores each ablation against the full B3 outcomes.
func ComputeAblationAnalysis(full []RunOutcome, ablations map[string][]RunOutcome) AblationAnalysis {
	fullMetrics := ComputeMetrics(full)
	analysis := AblationAnalysis{
		FullB3:        fullMetrics,
		Ablations:     make(map[string]Metrics, len(ablations)),
		Contributions: make(map[string]Contribution, len(ablations)),
	}
	for name, outcomes := range ablations {
		m := ComputeMetrics(outcomes)
		analysis.Ablations[name] = m
		analysis.Contributions[name] = Contribution{
			ASRDelta:         m.ASR - fullMetrics.ASR,
			LeakageDelta:     m.LeakageRate - fullMetrics.LeakageRate,
			TaskSuccessDelta: m.TaskSuccessRate - fullMetrics.TaskSuccessRate,
		}
	}
	return analysis
}

func distinct(outcomes []RunOutcome, key func(RunOutcome) string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, o := range outcomes {
		k := key(o)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func filter(outcomes []RunOutcome, keep func(RunOutcome) bool) []RunOutcome {
	var out []RunOutcome
	for _, o := range outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
