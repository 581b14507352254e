// Package scenario defines the benchmark scenario document: YAML-described
// attack and control cases the runner replays against each baseline.
package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Threat labels form a closed set; a scenario with any other label is a
// configuration error, not a skipped case.
var validThreats = map[string]bool{
	"direct_injection":   true,
	"indirect_injection": true,
	"tool_misuse":        true,
	"exfiltration":       true,
	"excessive_agency":   true,
}

// RetrievalSetup seeds the doc store before a run to model indirect
// injection.
type RetrievalSetup struct {
	DocID            string `yaml:"doc_id" json:"doc_id,omitempty"`
	MaliciousSnippet string `yaml:"malicious_snippet" json:"malicious_snippet,omitempty"`
}

// Expected declares what the gateway should and should not let through.
type Expected struct {
	AllowedTools        []string `yaml:"allowed_tools" json:"allowed_tools,omitempty"`
	DeniedTools         []string `yaml:"denied_tools" json:"denied_tools,omitempty"`
	DeniedDomains       []string `yaml:"denied_domains" json:"denied_domains,omitempty"`
	DeniedProjects      []string `yaml:"denied_projects" json:"denied_projects,omitempty"`
	DeniedURLPaths      []string `yaml:"denied_url_paths" json:"denied_url_paths,omitempty"`
	RequiresApprovalFor []string `yaml:"requires_approval_for" json:"requires_approval_for,omitempty"`
	MaxTicketBodyChars  *int     `yaml:"max_ticket_body_chars" json:"max_ticket_body_chars,omitempty"`
	MustNotLeakCanaries bool     `yaml:"must_not_leak_canaries" json:"must_not_leak_canaries,omitempty"`
}

// Scenario is one benchmark case.
type Scenario struct {
	ID                string          `yaml:"id" json:"id"`
	Category          string          `yaml:"category" json:"category"`
	Threat            string          `yaml:"threat" json:"threat"`
	Task              string          `yaml:"task" json:"task,omitempty"`
	BenignInput       string          `yaml:"benign_input" json:"benign_input,omitempty"`
	AdversarialInputs []string        `yaml:"adversarial_inputs" json:"adversarial_inputs,omitempty"`
	RetrievalSetup    *RetrievalSetup `yaml:"retrieval_setup" json:"retrieval_setup,omitempty"`
	Expected          Expected        `yaml:"expected" json:"expected"`
}

// IsAdversarial reports whether the scenario models an attack: either direct
// adversarial inputs or a poisoned retrieval corpus.
func (s *Scenario) IsAdversarial() bool {
	if len(s.AdversarialInputs) > 0 {
		return true
	}
	return s.RetrievalSetup != nil && s.RetrievalSetup.MaliciousSnippet != ""
}

// Defaults carries the document-level environment shared by every scenario.
type Defaults struct {
	Canaries              []string `yaml:"canaries" json:"canaries,omitempty"`
	AllowedDomains        []string `yaml:"allowed_domains" json:"allowed_domains,omitempty"`
	AllowedTicketProjects []string `yaml:"allowed_ticket_projects" json:"allowed_ticket_projects,omitempty"`
}

// Document is a parsed scenario file.
type Document struct {
	Defaults  Defaults    `yaml:"defaults" json:"defaults"`
	Scenarios []*Scenario `yaml:"scenarios" json:"scenarios"`
}

// Load reads and validates a scenario file. Scenarios are sorted by id so run
// order is independent of file order; a missing threat label falls back to
// the category.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse validates scenario bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}

	sort.Slice(doc.Scenarios, func(i, j int) bool {
		return doc.Scenarios[i].ID < doc.Scenarios[j].ID
	})

	for _, s := range doc.Scenarios {
		if s.ID == "" {
			return nil, fmt.Errorf("scenario without id")
		}
		if s.Threat == "" {
			s.Threat = s.Category
		}
		if !validThreats[s.Threat] {
			return nil, fmt.Errorf("scenario %s has invalid threat: %q", s.ID, s.Threat)
		}
	}

	if len(doc.Defaults.Canaries) == 0 {
		doc.Defaults.Canaries = []string{"CANARY_KEY_001", "CANARY_KEY_002"}
	}
	if len(doc.Defaults.AllowedDomains) == 0 {
		doc.Defaults.AllowedDomains = []string{"api.company.tld", "docs.company.tld"}
	}
	if len(doc.Defaults.AllowedTicketProjects) == 0 {
		doc.Defaults.AllowedTicketProjects = []string{"SEC", "IT"}
	}
	return &doc, nil
}

// Hash returns a stable content hash over the scenario list, recorded in the
// summary metadata so results can be tied to the exact case set.
func (d *Document) Hash() string {
	payload, _ := json.Marshal(d.Scenarios)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
