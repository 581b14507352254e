// Package pdp provides the policy decision points: an embedded CEL rule
// engine and a remote OPA client, both implementing policy.Decider.
package pdp

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agent-gate/agentgate/internal/domain/policymeta"
)

//go:embed policydata
var embeddedBundle embed.FS

// Rule effects.
const (
	EffectDeny     = "deny"
	EffectApproval = "approval"
	EffectAllow    = "allow"
)

// Rule is one entry of the ordered rule set. Condition is a CEL expression;
// the first rule whose condition holds decides the request.
type Rule struct {
	Name       string `yaml:"name"`
	Effect     string `yaml:"effect"`
	Reason     string `yaml:"reason"`
	DisabledBy string `yaml:"disabled_by,omitempty"`
	Condition  string `yaml:"condition"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Data is the policy data document: limits and per-domain path allowlists
// referenced by rule conditions.
type Data struct {
	PolicyID           string              `json:"policy_id"`
	PolicyVersion      string              `json:"policy_version"`
	MaxTicketBodyChars int                 `json:"max_ticket_body_chars"`
	URLPathAllowlist   map[string][]string `json:"url_path_allowlist"`
}

// Bundle is a loaded, hash-stamped policy: the ordered rules plus the data
// document. Immutable after load.
type Bundle struct {
	Rules []Rule
	Data  Data
	Meta  policymeta.Meta
}

// DefaultBundle loads the compiled-in policy.
func DefaultBundle() (*Bundle, error) {
	sub, err := fs.Sub(embeddedBundle, "policydata")
	if err != nil {
		return nil, fmt.Errorf("embedded policy bundle: %w", err)
	}
	return LoadBundle(sub)
}

// LoadBundleDir loads a policy bundle from a directory on disk, overriding
// the embedded default.
func LoadBundleDir(dir string) (*Bundle, error) {
	return LoadBundle(os.DirFS(dir))
}

// LoadBundle reads rules.yaml and policy_data.json from fsys and computes the
// bundle hash over the file bytes.
func LoadBundle(fsys fs.FS) (*Bundle, error) {
	rulesRaw, err := fs.ReadFile(fsys, "rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("read rules.yaml: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(rulesRaw, &rf); err != nil {
		return nil, fmt.Errorf("parse rules.yaml: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rules.yaml contains no rules")
	}
	for i, r := range rf.Rules {
		if r.Name == "" || r.Reason == "" || r.Condition == "" {
			return nil, fmt.Errorf("rule %d: name, reason, and condition are required", i)
		}
		switch r.Effect {
		case EffectDeny, EffectApproval, EffectAllow:
		default:
			return nil, fmt.Errorf("rule %q: unknown effect %q", r.Name, r.Effect)
		}
	}

	dataRaw, err := fs.ReadFile(fsys, "policy_data.json")
	if err != nil {
		return nil, fmt.Errorf("read policy_data.json: %w", err)
	}
	var data Data
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, fmt.Errorf("parse policy_data.json: %w", err)
	}
	if data.PolicyID == "" || data.PolicyVersion == "" {
		return nil, fmt.Errorf("policy_data.json: policy_id and policy_version are required")
	}

	hash, err := policymeta.ComputeHash(fsys)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Rules: rf.Rules,
		Data:  data,
		Meta: policymeta.Meta{
			PolicyID:      data.PolicyID,
			PolicyVersion: data.PolicyVersion,
			PolicyHash:    hash,
		},
	}, nil
}
