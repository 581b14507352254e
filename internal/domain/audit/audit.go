// Package audit contains the audit event contract. Every gateway decision
// emits exactly one event; events are append-only and never mutated.
package audit

import (
	"context"
	"time"
)

// Event is the structured record of one policy decision.
type Event struct {
	TS               float64        `json:"ts"`
	ScenarioID       string         `json:"scenario_id,omitempty"`
	Baseline         string         `json:"baseline,omitempty"`
	Step             int            `json:"step,omitempty"`
	RequestID        string         `json:"request_id,omitempty"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	ToolName         string         `json:"tool_name"`
	Tool             string         `json:"tool"`
	Args             map[string]any `json:"args"`
	Decision         string         `json:"decision"`
	Reason           string         `json:"reason"`
	DenialReasonCode string         `json:"denial_reason_code,omitempty"`
	PolicyID         string         `json:"policy_id"`
	PolicyVersion    string         `json:"policy_version"`
	PolicyHash       string         `json:"policy_hash"`
	RiskScore        float64        `json:"risk_score"`
	RequiresApproval bool           `json:"requires_approval"`
	LatencyMS        float64        `json:"latency_ms"`
	ContainsCanary   bool           `json:"contains_canary"`
	PDPInput         map[string]any `json:"pdp_input,omitempty"`
}

// Stamp fills the timestamp if the caller did not.
func (e *Event) Stamp() {
	if e.TS == 0 {
		e.TS = float64(time.Now().UnixNano()) / float64(time.Second)
	}
}

// Sink persists audit events.
// Interface owned by domain per hexagonal architecture.
type Sink interface {
	// Emit appends one event.
	Emit(ctx context.Context, event Event) error
	// Close releases resources.
	Close() error
}
