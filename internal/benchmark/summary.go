package benchmark

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agent-gate/agentgate/internal/benchmark/scenario"
	"github.com/agent-gate/agentgate/internal/domain/policy"
)

// SchemaVersion identifies the summary document format.
const SchemaVersion = "1.1.0"

//go:embed result_schema.json
var resultSchema []byte

// Meta ties a summary to the exact code, policy, and case set that produced
// it.
type Meta struct {
	GitCommit      string `json:"git_commit"`
	TimestampUTC   string `json:"timestamp_utc"`
	RuntimeVersion string `json:"runtime_version"`
	Platform       string `json:"platform"`
	Seed           int    `json:"seed"`
	ScenarioHash   string `json:"scenario_hash"`
	ConfigHash     string `json:"config_hash"`
	PolicyHash     string `json:"policy_hash"`
}

// Summary is the validated top-level result document.
type Summary struct {
	Metrics
	SchemaVersion string `json:"schema_version"`
	Meta          Meta   `json:"meta"`
}

// NewSummary stamps metrics with the schema version and meta.
func NewSummary(m Metrics, meta Meta) Summary {
	return Summary{Metrics: m, SchemaVersion: SchemaVersion, Meta: meta}
}

// BuildMeta collects the provenance record for a benchmark invocation.
func BuildMeta(seed int, doc *scenario.Document, ablation policy.Ablation, policyHash string) Meta {
	return Meta{
		GitCommit:      gitCommit(),
		TimestampUTC:   time.Now().UTC().Format(time.RFC3339),
		RuntimeVersion: runtime.Version(),
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		Seed:           seed,
		ScenarioHash:   doc.Hash(),
		ConfigHash:     configHash(doc.Defaults, ablation),
		PolicyHash:     policyHash,
	}
}

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// configHash covers the scenario defaults and the ablation flags. Map keys
// marshal in sorted order, so the hash is stable.
func configHash(defaults scenario.Defaults, ablation policy.Ablation) string {
	payload, _ := json.Marshal(map[string]any{
		"defaults": defaults,
		"ablation": ablation.Map(),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Validate checks the summary against the embedded result schema. A summary
// that fails validation is never written.
func (s Summary) Validate() error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	payload, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(resultSchema))
	if err != nil {
		return fmt.Errorf("decode result schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("result_schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("result_schema.json")
	if err != nil {
		return fmt.Errorf("compile result schema: %w", err)
	}

	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("summary schema validation failed: %w", err)
	}
	return nil
}
