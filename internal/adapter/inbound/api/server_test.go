package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/agent-gate/agentgate/internal/adapter/outbound/audit"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/httpegress"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/pdp"
	"github.com/agent-gate/agentgate/internal/adapter/outbound/store"
	"github.com/agent-gate/agentgate/internal/domain/tool"
	"github.com/agent-gate/agentgate/internal/service"
	"github.com/agent-gate/agentgate/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testCanaries = []string{"CANARY_KEY_001", "CANARY_KEY_002"}

// newTestServer wires a full in-memory stack behind the API.
func newTestServer(t *testing.T, metricsEnabled bool) (*Server, *prometheus.Registry) {
	t.Helper()

	registry := tool.NewRegistry(store.NewDocs(), httpegress.NewMock(), store.NewTickets())
	bundle, err := pdp.DefaultBundle()
	if err != nil {
		t.Fatalf("DefaultBundle() error = %v", err)
	}
	engine, err := pdp.NewEngine(bundle)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	gateway := service.NewGateway(registry, engine, audit.NewMemorySink(), metrics, bundle.Meta, testutil.Logger())
	orch := service.NewOrchestrator(gateway, testCanaries)

	srv := NewServer(orch, bundle.Meta, ServerConfig{
		Addr:            "127.0.0.1:0",
		DefaultBaseline: tool.BaselineB3,
		MetricsEnabled:  metricsEnabled,
		Registry:        reg,
	}, testutil.Logger())
	return srv, reg
}

func postRun(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_Run(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := postRun(t, srv, `{"task": "check the service status"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.FinalOutput, "tool executed: http_get") {
		t.Errorf("final_output = %q", resp.FinalOutput)
	}
	if len(resp.ToolTrace) != 1 {
		t.Errorf("tool_trace steps = %d", len(resp.ToolTrace))
	}
	if !strings.HasPrefix(resp.RequestID, "req-") {
		t.Errorf("request_id = %q", resp.RequestID)
	}
	if !strings.HasPrefix(resp.CorrelationID, "run-") {
		t.Errorf("correlation_id = %q", resp.CorrelationID)
	}
	if resp.PolicyVersion == "" {
		t.Error("policy_version missing")
	}
}

func TestServer_RunTicketHaltsOnApproval(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := postRun(t, srv, `{"task": "open a ticket for the outage"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.FinalOutput, "stopped: approval_required") {
		t.Errorf("final_output = %q", resp.FinalOutput)
	}
}

func TestServer_RunValidation(t *testing.T) {
	srv, _ := newTestServer(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"task":`},
		{"missing task", `{}`},
		{"unknown baseline", `{"task": "x", "baseline": "B9"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRun(t, srv, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestServer_RunExplicitBaseline(t *testing.T) {
	srv, _ := newTestServer(t, false)

	// B0 executes the ticket creation that B3 holds for approval.
	rec := postRun(t, srv, `{"task": "open a ticket", "baseline": "B0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp.FinalOutput, "tool executed: create_ticket") {
		t.Errorf("final_output = %q", resp.FinalOutput)
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	srv, _ := newTestServer(t, true)

	if rec := postRun(t, srv, `{"task": "check the service status"}`); rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, family := range []string{
		"tool_gateway_decisions_total",
		"tool_gateway_tool_calls_total",
		"tool_gateway_latency_ms",
	} {
		if !strings.Contains(body, family) {
			t.Errorf("exposition missing %s", family)
		}
	}
	if !strings.Contains(body, `tool_gateway_decisions_total{decision="allowed"} 1`) {
		t.Error("allowed decision not counted")
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
