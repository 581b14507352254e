// Package tool defines the tool-call contract: requests, results, argument
// schemas, and the registry mapping tool names to executors.
package tool

import (
	"fmt"

	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/taint"
)

// Baseline identifies the defense tier a request runs under.
type Baseline string

const (
	BaselineB0 Baseline = "B0"
	BaselineB1 Baseline = "B1"
	BaselineB2 Baseline = "B2"
	BaselineB3 Baseline = "B3"
)

// ValidBaseline reports whether b is one of the four known baselines.
func ValidBaseline(b Baseline) bool {
	switch b {
	case BaselineB0, BaselineB1, BaselineB2, BaselineB3:
		return true
	}
	return false
}

// Meta carries the per-request context attached at intake.
type Meta struct {
	Baseline      Baseline        `json:"baseline,omitempty"`
	ScenarioID    string          `json:"scenario_id,omitempty"`
	Step          int             `json:"step,omitempty"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	Taint         taint.Labels    `json:"taint"`
	Ablation      policy.Ablation `json:"ablation"`
}

// ToolCallRequest is the immutable unit of work entering the gateway.
type ToolCallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
	Meta Meta           `json:"meta"`
}

// Status is the terminal state of a tool-call decision.
type Status string

const (
	StatusAllowed          Status = "allowed"
	StatusDenied           Status = "denied"
	StatusApprovalRequired Status = "approval_required"
)

// PolicyInfo summarizes the policy verdict attached to a result.
type PolicyInfo struct {
	Allow            bool   `json:"allow"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason"`
}

// ToolError is the structured error carried on denied results.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ToolCallResult is the terminal response for a tool call. Exactly one of
// the three constructors below produces it.
type ToolCallResult struct {
	Status Status         `json:"status"`
	Tool   string         `json:"tool"`
	Result map[string]any `json:"result,omitempty"`
	Error  *ToolError     `json:"error,omitempty"`
	Policy PolicyInfo     `json:"policy"`
}

// Allowed builds a result for an executed tool call.
func Allowed(toolName string, output map[string]any, reason string) ToolCallResult {
	return ToolCallResult{
		Status: StatusAllowed,
		Tool:   toolName,
		Result: output,
		Policy: PolicyInfo{Allow: true, Reason: reason},
	}
}

// Denied builds a rejecting result carrying the reason code.
func Denied(toolName, reason string) ToolCallResult {
	return ToolCallResult{
		Status: StatusDenied,
		Tool:   toolName,
		Error:  &ToolError{Code: "POLICY_DENY", Message: reason},
		Policy: PolicyInfo{Allow: false, Reason: reason},
	}
}

// ApprovalRequired builds a held result describing the proposed action. The
// call is not executed; resolution happens out of band.
func ApprovalRequired(toolName string, proposedAction map[string]any, reason string) ToolCallResult {
	return ToolCallResult{
		Status: StatusApprovalRequired,
		Tool:   toolName,
		Result: map[string]any{"proposed_action": proposedAction},
		Policy: PolicyInfo{Allow: false, RequiresApproval: true, Reason: reason},
	}
}

// ExecError is a structured failure raised by tool backends. Its code becomes
// the deny reason for the request.
type ExecError struct {
	Code    string
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewExecError builds an ExecError with a formatted message.
func NewExecError(code, format string, args ...any) *ExecError {
	return &ExecError{Code: code, Message: fmt.Sprintf(format, args...)}
}
