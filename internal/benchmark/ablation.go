package benchmark

import (
	"fmt"
	"strings"

	"github.com/agent-gate/agentgate/internal/domain/policy"
)

// AblationNames lists the accepted --ablation values.
var AblationNames = []string{
	"none",
	"no_approvals",
	"no_taint_approvals",
	"no_path",
	"no_canary",
	"no_ticket_size",
}

// AblationFlags maps an ablation name to the policy flags it disables.
func AblationFlags(name string) (policy.Ablation, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return policy.Ablation{}, nil
	case "no_approvals":
		return policy.Ablation{DisableApprovals: true}, nil
	case "no_taint_approvals":
		return policy.Ablation{DisableTaintApprovals: true}, nil
	case "no_path":
		return policy.Ablation{DisablePathAllowlist: true}, nil
	case "no_canary":
		return policy.Ablation{DisableCanary: true}, nil
	case "no_ticket_size":
		return policy.Ablation{DisableTicketSize: true}, nil
	}
	return policy.Ablation{}, fmt.Errorf("unknown ablation: %s", name)
}
