// Package policy contains the domain types shared by the policy decision
// points: the PDP input document, the decision, and the reason-code taxonomy.
package policy

import (
	"context"

	"github.com/agent-gate/agentgate/internal/domain/taint"
)

// Reason codes carried on deny decisions and approval responses. The set is
// closed; the PEP and the benchmark scorer both match on these strings.
const (
	// Schema / registry
	ReasonToolNotRegistered = "tool_not_registered"
	ReasonSchemaFailed      = "schema_validation_failed" // used as "<reason>:<kind>"

	// Canary
	ReasonCanaryDetected = "canary_detected"

	// URL / SSRF
	ReasonInvalidURLAuthority   = "invalid_url_authority"
	ReasonNonASCIIHost          = "non_ascii_host"
	ReasonPunycodeHost          = "punycode_host"
	ReasonIPLiteralBlocked      = "ip_literal_blocked"
	ReasonPrivateIP             = "private_ip"
	ReasonMetadataEndpoint      = "metadata_endpoint"
	ReasonDomainNotAllowlisted  = "domain_not_allowlisted"
	ReasonPathTraversal         = "path_traversal"
	ReasonPathNotAllowlisted    = "path_not_allowlisted"
	ReasonDNSRebindingSuspected = "dns_rebinding_suspected"
	ReasonUnsafeRedirect        = "unsafe_redirect"
	ReasonTooManyRedirects      = "too_many_redirects"
	ReasonDNSResolutionFailed   = "dns_resolution_failed"
	ReasonSchemeNotAllowed      = "scheme_not_allowed"
	ReasonInvalidURL            = "invalid_url"

	// Tool-specific
	ReasonTicketProjectNotAllowed = "ticket_project_not_allowed"
	ReasonTicketBodyTooLarge      = "ticket_body_too_large"
	ReasonWriteQueryDenied        = "write_query_denied"

	// Approval (not an error class; requires_approval=true)
	ReasonApprovalTaintHighRisk = "approval_required_taint_high_risk"
	ReasonApprovalAction        = "approval_required_action"

	// Allow reasons
	ReasonBaselinePermissive = "baseline_permissive"
	ReasonSimpleChecksPassed = "simple_checks_passed"
	ReasonPolicyAllows       = "policy_allows"
)

// Ablation toggles disable individual B3 rules for benchmark measurement.
// Zero value means the full rule set applies.
type Ablation struct {
	DisableCanary         bool `json:"disable_canary,omitempty"`
	DisablePathAllowlist  bool `json:"disable_path_allowlist,omitempty"`
	DisableTicketSize     bool `json:"disable_ticket_size,omitempty"`
	DisableTaintApprovals bool `json:"disable_taint_approvals,omitempty"`
	DisableApprovals      bool `json:"disable_approvals,omitempty"`
}

// Map renders the ablation flags with every key present, so rule conditions
// can reference flags without missing-key errors.
func (a Ablation) Map() map[string]any {
	return map[string]any{
		"disable_canary":          a.DisableCanary,
		"disable_path_allowlist":  a.DisablePathAllowlist,
		"disable_ticket_size":     a.DisableTicketSize,
		"disable_taint_approvals": a.DisableTaintApprovals,
		"disable_approvals":       a.DisableApprovals,
	}
}

// Risk summarizes the risk assessment fed to the PDP.
type Risk struct {
	ToolRisk       string  `json:"tool_risk"`
	HighRiskAction bool    `json:"high_risk_action"`
	RiskScore      float64 `json:"risk_score"`
}

// Env carries the allowlists held by the registry at decision time.
type Env struct {
	AllowedDomains        []string `json:"allowed_domains"`
	AllowedTicketProjects []string `json:"allowed_ticket_projects"`
}

// Input is the PDP input document for a single decision.
type Input struct {
	ScenarioID string         `json:"scenario_id,omitempty"`
	Baseline   string         `json:"baseline"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Taint      taint.Labels   `json:"taint"`
	Risk       Risk           `json:"risk"`
	Env        Env            `json:"env"`
	Ablation   Ablation       `json:"ablation"`
}

// Decision is the PDP verdict. Deny takes precedence over approval; approval
// takes precedence over allow.
type Decision struct {
	Allow            bool   `json:"allow"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason"`
}

// Decider is the PDP capability consumed by the PEP. Implementations are the
// embedded rule engine and the remote OPA client.
type Decider interface {
	Decide(ctx context.Context, input Input) (Decision, error)
}
