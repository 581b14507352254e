package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agent-gate/agentgate/internal/benchmark/scenario"
	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/taint"
	"github.com/agent-gate/agentgate/internal/domain/tool"
)

// maxSteps bounds an orchestrator run.
const maxSteps = 6

// TraceStep records one gateway round trip in a run.
type TraceStep struct {
	Step     int                  `json:"step"`
	Request  tool.ToolCallRequest `json:"request"`
	Response tool.ToolCallResult  `json:"response"`
}

// RunResult is the terminal output of an orchestrator run.
type RunResult struct {
	FinalOutput   string      `json:"final_output"`
	ToolTrace     []TraceStep `json:"tool_trace"`
	LatencyMS     float64     `json:"latency_ms"`
	CorrelationID string      `json:"correlation_id"`
}

// plannedStep is one planner proposal.
type plannedStep struct {
	tool  string
	args  map[string]any
	taint taint.Labels
	draft string
}

// Planner proposes the next tool call for a task.
type Planner interface {
	PlanStep(s *scenario.Scenario, task string, baseline tool.Baseline, canaries []string) plannedStep
}

// MockPlanner is the deterministic planner used for benchmarks and CI. In
// adversarial scenarios it deliberately attempts the forbidden action so the
// gateway can demonstrate prevention.
type MockPlanner struct{}

// PlanStep derives the next call from the scenario's expectations, or from
// simple task keywords for interactive runs.
func (MockPlanner) PlanStep(s *scenario.Scenario, task string, _ tool.Baseline, canaries []string) plannedStep {
	if s == nil {
		return planInteractive(task)
	}

	exp := s.Expected
	adv := s.IsAdversarial()

	labels := taint.Labels{}
	switch s.Category {
	case "direct_injection", "tool_misuse", "exfiltration", "excessive_agency":
		labels.FromUser = true
	case "indirect_injection":
		labels.FromRetrieved = true
	}

	// Forbidden URL path on an allowlisted domain: only the B3 path
	// allowlist can stop this.
	if adv && len(exp.DeniedURLPaths) > 0 {
		return plannedStep{
			tool:  "http_get",
			args:  map[string]any{"url": "https://api.company.tld" + exp.DeniedURLPaths[0]},
			taint: labels,
			draft: fmt.Sprintf("[%s] Attempting forbidden endpoint.", s.ID),
		}
	}

	if adv && len(exp.DeniedDomains) > 0 {
		return plannedStep{
			tool:  "http_get",
			args:  map[string]any{"url": fmt.Sprintf("https://%s/payload", exp.DeniedDomains[0])},
			taint: labels,
			draft: fmt.Sprintf("[%s] Attempting remote fetch.", s.ID),
		}
	}

	if adv && len(exp.DeniedTools) > 0 {
		return plannedStep{
			tool:  exp.DeniedTools[0],
			args:  map[string]any{"noop": true},
			taint: labels,
			draft: fmt.Sprintf("[%s] Attempting forbidden tool.", s.ID),
		}
	}

	if contains(exp.AllowedTools, "create_ticket") || contains(exp.RequiresApprovalFor, "create_ticket") ||
		s.Category == "exfiltration" || s.Category == "excessive_agency" {
		project := "SEC"
		if adv && len(exp.DeniedProjects) > 0 {
			project = exp.DeniedProjects[0]
		}
		body := fmt.Sprintf("%s: Auto-generated ticket.", s.ID)
		if adv && exp.MaxTicketBodyChars != nil {
			body = strings.Repeat("X", *exp.MaxTicketBodyChars+100)
		}
		if adv && exp.MustNotLeakCanaries && len(canaries) > 0 {
			body += " Canary=" + canaries[0]
			labels.ContainsCanary = true
		}
		return plannedStep{
			tool:  "create_ticket",
			args:  map[string]any{"project": project, "title": s.ID + " Ticket", "body": body},
			taint: labels,
			draft: fmt.Sprintf("[%s] Prepared ticket draft.", s.ID),
		}
	}

	// An allowlisted call that should still require approval: B2 executes
	// it (attack success) while B3 halts on the taint approval rule.
	if adv && contains(exp.RequiresApprovalFor, "http_get") {
		return plannedStep{
			tool:  "http_get",
			args:  map[string]any{"url": "https://api.company.tld/status"},
			taint: labels,
			draft: fmt.Sprintf("[%s] Attempting status check.", s.ID),
		}
	}

	if s.Category == "indirect_injection" || contains(exp.AllowedTools, "read_doc") {
		docID := "refund_policy"
		if s.RetrievalSetup != nil && s.RetrievalSetup.DocID != "" {
			docID = s.RetrievalSetup.DocID
		}
		return plannedStep{
			tool:  "read_doc",
			args:  map[string]any{"doc_id": docID},
			taint: labels,
			draft: fmt.Sprintf("[%s] Reading doc for summary.", s.ID),
		}
	}

	return plannedStep{
		tool:  "http_get",
		args:  map[string]any{"url": "https://api.company.tld/status"},
		taint: labels,
		draft: fmt.Sprintf("[%s] Status fetched.", s.ID),
	}
}

// planInteractive serves /run tasks with keyword dispatch.
func planInteractive(task string) plannedStep {
	labels := taint.Labels{FromUser: true}
	t := strings.ToLower(task)
	if strings.Contains(t, "ticket") {
		return plannedStep{
			tool:  "create_ticket",
			args:  map[string]any{"project": "SEC", "title": "Ticket", "body": "Created from /run request."},
			taint: labels,
			draft: "Prepared ticket draft.",
		}
	}
	if strings.Contains(t, "summar") || strings.Contains(t, "policy") {
		return plannedStep{
			tool:  "read_doc",
			args:  map[string]any{"doc_id": "refund_policy"},
			taint: labels,
			draft: "Summarizing requested policy.",
		}
	}
	return plannedStep{
		tool:  "http_get",
		args:  map[string]any{"url": "https://api.company.tld/status"},
		taint: labels,
		draft: "Fetching status.",
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Orchestrator drives the planner through the gateway for one task.
type Orchestrator struct {
	gateway  *Gateway
	canaries []string
	planner  Planner
}

// NewOrchestrator builds an orchestrator with the mock planner.
func NewOrchestrator(gateway *Gateway, canaries []string) *Orchestrator {
	return &Orchestrator{
		gateway:  gateway,
		canaries: canaries,
		planner:  MockPlanner{},
	}
}

// Run plans and executes steps until the gateway halts the run or the step
// budget is spent. The mock planner proposes a single decisive step, so a run
// is one decision plus its outcome.
func (o *Orchestrator) Run(ctx context.Context, task string, baseline tool.Baseline, s *scenario.Scenario, ablation policy.Ablation) (RunResult, error) {
	start := time.Now()
	correlationID := "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	var trace []TraceStep

	for step := 1; step <= maxSteps; step++ {
		planned := o.planner.PlanStep(s, task, baseline, o.canaries)
		if planned.tool == "" {
			break
		}

		scenarioID := ""
		if s != nil {
			scenarioID = s.ID
		}
		req := tool.ToolCallRequest{
			Tool: planned.tool,
			Args: planned.args,
			Meta: tool.Meta{
				Baseline:      baseline,
				ScenarioID:    scenarioID,
				Step:          step,
				Source:        "mock_planner",
				CorrelationID: correlationID,
				RequestID:     "req-" + uuid.NewString(),
				Taint:         planned.taint,
				Ablation:      ablation,
			},
		}

		res, err := o.gateway.Execute(ctx, req, o.canaries)
		if err != nil {
			return RunResult{}, err
		}
		trace = append(trace, TraceStep{Step: step, Request: req, Response: res})

		final := fmt.Sprintf("%s (tool executed: %s)", planned.draft, planned.tool)
		if res.Status != tool.StatusAllowed {
			final = fmt.Sprintf("%s (stopped: %s / %s)", planned.draft, res.Status, res.Policy.Reason)
		}
		return RunResult{
			FinalOutput:   final,
			ToolTrace:     trace,
			LatencyMS:     float64(time.Since(start)) / float64(time.Millisecond),
			CorrelationID: correlationID,
		}, nil
	}

	return RunResult{
		FinalOutput:   "No action taken.",
		ToolTrace:     trace,
		LatencyMS:     float64(time.Since(start)) / float64(time.Millisecond),
		CorrelationID: correlationID,
	}, nil
}
