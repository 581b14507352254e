// Package service contains the application services: the policy enforcement
// point and the agent orchestrator.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agent-gate/agentgate/internal/domain/audit"
	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/policymeta"
	"github.com/agent-gate/agentgate/internal/domain/risk"
	"github.com/agent-gate/agentgate/internal/domain/taint"
	"github.com/agent-gate/agentgate/internal/domain/tool"
	"github.com/agent-gate/agentgate/internal/domain/urlpolicy"
)

// MetricsRecorder is the metrics capability consumed by the gateway.
type MetricsRecorder interface {
	RecordDecision(decision string)
	RecordToolCall(toolName string, latencyMS float64)
}

// Gateway is the policy enforcement point. Every tool call passes through
// Execute, which validates, taints, decides per baseline, executes when
// allowed, and emits exactly one audit event per decision.
type Gateway struct {
	registry *tool.Registry
	pdp      policy.Decider
	sink     audit.Sink
	metrics  MetricsRecorder
	meta     policymeta.Meta
	logger   *slog.Logger
}

// NewGateway wires the enforcement point. The policy meta is captured once;
// a changed policy hash implies a new gateway.
func NewGateway(registry *tool.Registry, pdp policy.Decider, sink audit.Sink, metrics MetricsRecorder, meta policymeta.Meta, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		pdp:      pdp,
		sink:     sink,
		metrics:  metrics,
		meta:     meta,
		logger:   logger,
	}
}

// Execute runs one tool call to a terminal result. An infrastructure failure
// (PDP unreachable, audit sink broken) returns an error instead of a result;
// a policy rejection is a normal result.
func (g *Gateway) Execute(ctx context.Context, req tool.ToolCallRequest, canaries []string) (tool.ToolCallResult, error) {
	t0 := time.Now()

	baseline := req.Meta.Baseline
	if baseline == "" {
		baseline = tool.BaselineB3
	}

	def := g.registry.Lookup(req.Tool)
	if def == nil {
		res := tool.Denied(req.Tool, policy.ReasonToolNotRegistered)
		return res, g.finish(ctx, req, res, t0, extras{})
	}

	parsed, err := def.Parse(req.Args)
	if err != nil {
		var serr *tool.SchemaError
		reason := policy.ReasonSchemaFailed
		if errors.As(err, &serr) {
			reason = fmt.Sprintf("%s:%s", policy.ReasonSchemaFailed, serr.Kind)
		}
		res := tool.Denied(req.Tool, reason)
		return res, g.finish(ctx, req, res, t0, extras{})
	}

	args := tool.ArgsMap(parsed)
	labels := taint.Labels{
		FromUser:       req.Meta.Taint.FromUser,
		FromRetrieved:  req.Meta.Taint.FromRetrieved,
		ContainsCanary: req.Meta.Taint.ContainsCanary || taint.Detect(args, canaries),
	}
	riskScore := risk.Score(req.Tool, labels)
	ex := extras{containsCanary: labels.ContainsCanary, riskScore: riskScore}

	switch baseline {
	case tool.BaselineB0, tool.BaselineB1:
		res := g.execute(ctx, def, parsed, req.Tool, policy.ReasonBaselinePermissive)
		return res, g.finish(ctx, req, res, t0, ex)

	case tool.BaselineB2:
		res := g.executeB2(ctx, def, parsed, req.Tool, args, labels.ContainsCanary)
		return res, g.finish(ctx, req, res, t0, ex)

	case tool.BaselineB3:
		input := policy.Input{
			ScenarioID: req.Meta.ScenarioID,
			Baseline:   string(baseline),
			Tool:       req.Tool,
			Args:       args,
			Taint:      labels,
			Risk: policy.Risk{
				ToolRisk:       string(risk.Classify(req.Tool)),
				HighRiskAction: risk.HighRiskAction(risk.Classify(req.Tool)),
				RiskScore:      riskScore,
			},
			Env: policy.Env{
				AllowedDomains:        g.registry.AllowedDomains(),
				AllowedTicketProjects: g.registry.AllowedTicketProjects(),
			},
			Ablation: req.Meta.Ablation,
		}

		decision, err := g.pdp.Decide(ctx, input)
		if err != nil {
			// No audit event for an undecided request; the failure
			// propagates to the caller instead.
			return tool.ToolCallResult{}, fmt.Errorf("pdp decision: %w", err)
		}
		ex.pdpInput = &input

		var res tool.ToolCallResult
		switch {
		case decision.Allow:
			res = g.execute(ctx, def, parsed, req.Tool, decision.Reason)
		case decision.RequiresApproval:
			res = tool.ApprovalRequired(req.Tool, args, decision.Reason)
		default:
			res = tool.Denied(req.Tool, decision.Reason)
		}
		return res, g.finish(ctx, req, res, t0, ex)

	default:
		res := tool.Denied(req.Tool, fmt.Sprintf("unknown_baseline:%s", baseline))
		return res, g.finish(ctx, req, res, t0, ex)
	}
}

// executeB2 applies the inline checks of the B2 baseline: canary, host
// allowlist, ticket project. Host extraction uses the same parser as the full
// PDP, so a userinfo decoy cannot split the two layers.
func (g *Gateway) executeB2(ctx context.Context, def *tool.ToolDef, parsed any, toolName string, args map[string]any, containsCanary bool) tool.ToolCallResult {
	if containsCanary {
		return tool.Denied(toolName, policy.ReasonCanaryDetected)
	}

	if toolName == "http_get" {
		rawURL, _ := args["url"].(string)
		host, _ := urlpolicy.SplitHostPath(rawURL)
		if !urlpolicy.IsAllowedDomain(host, g.registry.AllowedDomains()) {
			return tool.Denied(toolName, policy.ReasonDomainNotAllowlisted)
		}
	}

	if toolName == "create_ticket" {
		project, _ := args["project"].(string)
		allowed := false
		for _, p := range g.registry.AllowedTicketProjects() {
			if p == project {
				allowed = true
				break
			}
		}
		if !allowed {
			return tool.Denied(toolName, policy.ReasonTicketProjectNotAllowed)
		}
	}

	return g.execute(ctx, def, parsed, toolName, policy.ReasonSimpleChecksPassed)
}

// execute invokes the tool backend and translates failures into denials.
func (g *Gateway) execute(ctx context.Context, def *tool.ToolDef, parsed any, toolName, allowReason string) tool.ToolCallResult {
	out, err := def.Execute(ctx, parsed)
	if err != nil {
		var xerr *tool.ExecError
		if errors.As(err, &xerr) {
			return tool.Denied(toolName, xerr.Code)
		}
		return tool.Denied(toolName, fmt.Sprintf("%s_execution_failed", toolName))
	}
	return tool.Allowed(toolName, out, allowReason)
}

// extras carries per-decision audit enrichments.
type extras struct {
	containsCanary bool
	riskScore      float64
	pdpInput       *policy.Input
}

// finish emits the audit event and updates metrics. Emitting exactly once per
// decision is the gateway's core bookkeeping invariant; a sink failure is
// surfaced as a request error.
func (g *Gateway) finish(ctx context.Context, req tool.ToolCallRequest, res tool.ToolCallResult, t0 time.Time, ex extras) error {
	latencyMS := float64(time.Since(t0)) / float64(time.Millisecond)

	event := audit.Event{
		ScenarioID:       req.Meta.ScenarioID,
		Baseline:         string(req.Meta.Baseline),
		Step:             req.Meta.Step,
		RequestID:        req.Meta.RequestID,
		CorrelationID:    req.Meta.CorrelationID,
		ToolName:         req.Tool,
		Tool:             req.Tool,
		Args:             req.Args,
		Decision:         string(res.Status),
		Reason:           res.Policy.Reason,
		PolicyID:         g.meta.PolicyID,
		PolicyVersion:    g.meta.PolicyVersion,
		PolicyHash:       g.meta.PolicyHash,
		RiskScore:        ex.riskScore,
		RequiresApproval: res.Policy.RequiresApproval,
		LatencyMS:        latencyMS,
		ContainsCanary:   ex.containsCanary,
	}
	if res.Status == tool.StatusDenied {
		event.DenialReasonCode = res.Policy.Reason
	}
	if ex.pdpInput != nil {
		event.PDPInput = pdpInputMap(*ex.pdpInput)
	}

	if g.metrics != nil {
		g.metrics.RecordDecision(string(res.Status))
		g.metrics.RecordToolCall(req.Tool, latencyMS)
	}

	if err := g.sink.Emit(ctx, event); err != nil {
		g.logger.Error("audit emit failed", "error", err, "tool", req.Tool)
		return fmt.Errorf("audit emit: %w", err)
	}
	return nil
}

// pdpInputMap renders the PDP input as a generic map for the audit snapshot.
func pdpInputMap(in policy.Input) map[string]any {
	return map[string]any{
		"scenario_id": in.ScenarioID,
		"baseline":    in.Baseline,
		"tool":        in.Tool,
		"args":        in.Args,
		"taint": map[string]any{
			"from_user":       in.Taint.FromUser,
			"from_retrieved":  in.Taint.FromRetrieved,
			"contains_canary": in.Taint.ContainsCanary,
		},
		"risk": map[string]any{
			"tool_risk":        in.Risk.ToolRisk,
			"high_risk_action": in.Risk.HighRiskAction,
			"risk_score":       in.Risk.RiskScore,
		},
		"env": map[string]any{
			"allowed_domains":         in.Env.AllowedDomains,
			"allowed_ticket_projects": in.Env.AllowedTicketProjects,
		},
		"ablation": in.Ablation.Map(),
	}
}
