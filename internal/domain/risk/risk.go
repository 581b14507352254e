// Package risk maps tools and taint labels to risk classes and scores.
package risk

import "github.com/agent-gate/agentgate/internal/domain/taint"

// Class is the coarse risk classification of a tool.
type Class string

const (
	// ClassRead covers retrieval-only tools (search_docs, read_doc,
	// db_query_readonly).
	ClassRead Class = "read"
	// ClassNetwork covers tools that reach external networks (http_get).
	ClassNetwork Class = "network"
	// ClassAction covers tools with externally visible side effects
	// (create_ticket).
	ClassAction Class = "action"
	// ClassUnknown is the fail-closed default for unrecognized tools.
	ClassUnknown Class = "unknown"
)

// base risk score per class. Unknown tools score highest.
var baseScore = map[Class]float64{
	ClassRead:    0.2,
	ClassNetwork: 0.8,
	ClassAction:  0.9,
	ClassUnknown: 1.0,
}

// Taint increments added on top of the class base score.
const (
	fromUserWeight       = 0.05
	fromRetrievedWeight  = 0.10
	containsCanaryWeight = 0.20
)

// Classify returns the risk class for a tool name. The tool set is closed;
// anything outside it is ClassUnknown.
func Classify(tool string) Class {
	switch tool {
	case "http_get":
		return ClassNetwork
	case "create_ticket":
		return ClassAction
	case "search_docs", "read_doc", "db_query_readonly":
		return ClassRead
	default:
		return ClassUnknown
	}
}

// HighRiskAction reports whether the class is one a policy should treat as a
// high-risk action (network egress or side-effecting).
func HighRiskAction(c Class) bool {
	return c == ClassNetwork || c == ClassAction
}

// Score computes the numeric risk score for a tool under the given taint
// labels: class base plus per-label increments, clamped to 1.0.
func Score(tool string, labels taint.Labels) float64 {
	s := baseScore[Classify(tool)]
	if labels.FromUser {
		s += fromUserWeight
	}
	if labels.FromRetrieved {
		s += fromRetrievedWeight
	}
	if labels.ContainsCanary {
		s += containsCanaryWeight
	}
	if s > 1.0 {
		s = 1.0
	}
	return s
}
