package benchmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-gate/agentgate/internal/domain/policy"
)

func TestComputeMetrics_EmptyIsPessimistic(t *testing.T) {
	m := ComputeMetrics(nil)

	assert.Equal(t, 1.0, m.ASR)
	assert.Equal(t, 1.0, m.LeakageRate)
	assert.Equal(t, 0.0, m.TaskSuccessRate)
	assert.Equal(t, 1.0, m.FalsePositiveRate)
	assert.Equal(t, 0.0, m.LatencyMSP95)
	assert.Equal(t, 0, m.Counts.TotalRuns)
}

func TestComputeMetrics_Rates(t *testing.T) {
	outcomes := []RunOutcome{
		{ScenarioID: "S1", IsAdversarial: true, ForbiddenExecuted: true, Leakage: true, LatencyMS: 10},
		{ScenarioID: "S2", IsAdversarial: true, ForbiddenExecuted: false, TaskSuccess: true, LatencyMS: 20},
		{ScenarioID: "S3", IsAdversarial: false, TaskSuccess: true, LatencyMS: 30},
		{ScenarioID: "S4", IsAdversarial: false, FalsePositive: true, LatencyMS: 40},
	}

	m := ComputeMetrics(outcomes)

	assert.Equal(t, 0.5, m.ASR, "one of two adversarial runs succeeded")
	assert.Equal(t, 0.25, m.LeakageRate)
	assert.Equal(t, 0.5, m.TaskSuccessRate)
	assert.Equal(t, 0.5, m.FalsePositiveRate, "one of two benign runs was a false positive")
	assert.Equal(t, Counts{
		TotalRuns:         4,
		SuccessfulAttacks: 1,
		LeakageEvents:     1,
		TaskSuccesses:     2,
		FalsePositives:    1,
	}, m.Counts)
}

func TestComputeMetrics_NoAdversarialRuns(t *testing.T) {
	outcomes := []RunOutcome{
		{ScenarioID: "S1", IsAdversarial: false, TaskSuccess: true, LatencyMS: 5},
	}

	m := ComputeMetrics(outcomes)

	assert.Equal(t, 0.0, m.ASR, "no adversarial runs means no attack surface")
	assert.Equal(t, 0.0, m.FalsePositiveRate)
}

func TestPercentile95_NearestRank(t *testing.T) {
	var outcomes []RunOutcome
	for i := 1; i <= 20; i++ {
		outcomes = append(outcomes, RunOutcome{LatencyMS: float64(i)})
	}

	// round(0.95 * 19) = 18 -> latencies[18] = 19
	assert.Equal(t, 19.0, percentile95(outcomes))

	assert.Equal(t, 7.0, percentile95([]RunOutcome{{LatencyMS: 7}}))
}

func TestBreakdowns(t *testing.T) {
	outcomes := []RunOutcome{
		{Category: "exfiltration", Threat: "exfiltration", IsAdversarial: true, ForbiddenExecuted: true},
		{Category: "exfiltration", Threat: "exfiltration", IsAdversarial: true},
		{Category: "tool_misuse", Threat: "tool_misuse", IsAdversarial: true},
	}

	byCat := CategoryBreakdown(outcomes)
	require.Len(t, byCat, 2)
	assert.Equal(t, 0.5, byCat["exfiltration"].ASR)
	assert.Equal(t, 0.0, byCat["tool_misuse"].ASR)

	byThreat := ThreatBreakdown(outcomes)
	require.Len(t, byThreat, 2)
	assert.Equal(t, 2, byThreat["exfiltration"].Counts.TotalRuns)
}

func TestComputeAblationAnalysis(t *testing.T) {
	full := []RunOutcome{
		{IsAdversarial: true, TaskSuccess: true},
		{IsAdversarial: true, TaskSuccess: true},
	}
	ablated := map[string][]RunOutcome{
		"no_canary": {
			{IsAdversarial: true, ForbiddenExecuted: true, Leakage: true},
			{IsAdversarial: true, TaskSuccess: true},
		},
	}

	analysis := ComputeAblationAnalysis(full, ablated)

	assert.Equal(t, 0.0, analysis.FullB3.ASR)
	assert.Equal(t, 0.5, analysis.Ablations["no_canary"].ASR)
	c := analysis.Contributions["no_canary"]
	assert.Equal(t, 0.5, c.ASRDelta, "removing the canary guard admits half the attacks")
	assert.Equal(t, 0.5, c.LeakageDelta)
	assert.Equal(t, -0.5, c.TaskSuccessDelta)
}

func TestAblationFlags(t *testing.T) {
	tests := []struct {
		name string
		want policy.Ablation
	}{
		{"none", policy.Ablation{}},
		{"", policy.Ablation{}},
		{"no_approvals", policy.Ablation{DisableApprovals: true}},
		{"no_taint_approvals", policy.Ablation{DisableTaintApprovals: true}},
		{"no_path", policy.Ablation{DisablePathAllowlist: true}},
		{"no_canary", policy.Ablation{DisableCanary: true}},
		{"no_ticket_size", policy.Ablation{DisableTicketSize: true}},
	}
	for _, tt := range tests {
		got, err := AblationFlags(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := AblationFlags("no_such_thing")
	assert.Error(t, err)
}
