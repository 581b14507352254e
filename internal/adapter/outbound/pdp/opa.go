package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agent-gate/agentgate/internal/domain/policy"
)

// opaTimeout bounds a remote decision round trip.
const opaTimeout = 5 * time.Second

// opaDecisionPath is the data API path of the policy result document.
const opaDecisionPath = "/v1/data/agent/policy/result"

// OPAClient delegates decisions to a remote Open Policy Agent over its data
// API. A transport failure, a non-200 status, or an undecodable body is a Go
// error; the PEP treats that as request failure, never as allow.
type OPAClient struct {
	baseURL string
	httpc   *http.Client
}

var _ policy.Decider = (*OPAClient)(nil)

// NewOPAClient builds a client for the OPA instance at baseURL.
func NewOPAClient(baseURL string) *OPAClient {
	return &OPAClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: opaTimeout},
	}
}

type opaEnvelope struct {
	Result map[string]any `json:"result"`
}

// Decide posts the input document and maps the result fields onto a
// Decision. Missing result fields default to deny with reason no_reason.
func (c *OPAClient) Decide(ctx context.Context, in policy.Input) (policy.Decision, error) {
	body, err := json.Marshal(map[string]any{"input": in})
	if err != nil {
		return policy.Decision{}, fmt.Errorf("encode pdp input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+opaDecisionPath, bytes.NewReader(body))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("build opa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("opa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return policy.Decision{}, fmt.Errorf("opa returned status %d", resp.StatusCode)
	}

	var envelope opaEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return policy.Decision{}, fmt.Errorf("decode opa response: %w", err)
	}

	allow, _ := envelope.Result["allow"].(bool)
	requiresApproval, _ := envelope.Result["requires_approval"].(bool)
	reason, _ := envelope.Result["reason"].(string)
	if reason == "" {
		reason = "no_reason"
	}

	return policy.Decision{
		Allow:            allow,
		RequiresApproval: requiresApproval,
		Reason:           reason,
	}, nil
}
