package pdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agent-gate/agentgate/internal/domain/policy"
)

func TestOPAClient_Decide(t *testing.T) {
	var gotPath string
	var gotInput map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotInput, _ = body["input"].(map[string]any)
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"allow":             false,
				"requires_approval": true,
				"reason":            "approval_required_action",
			},
		})
	}))
	defer srv.Close()

	client := NewOPAClient(srv.URL + "/")
	got, err := client.Decide(context.Background(), policy.Input{
		Baseline: "B3",
		Tool:     "create_ticket",
		Args:     map[string]any{"project": "SEC"},
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	if gotPath != "/v1/data/agent/policy/result" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotInput["tool"] != "create_ticket" {
		t.Errorf("input.tool = %v", gotInput["tool"])
	}
	want := policy.Decision{Allow: false, RequiresApproval: true, Reason: "approval_required_action"}
	if got != want {
		t.Errorf("Decide() = %+v, want %+v", got, want)
	}
}

func TestOPAClient_MissingResultFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	got, err := NewOPAClient(srv.URL).Decide(context.Background(), policy.Input{Tool: "search_docs"})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	want := policy.Decision{Allow: false, RequiresApproval: false, Reason: "no_reason"}
	if got != want {
		t.Errorf("Decide() = %+v, want %+v", got, want)
	}
}

func TestOPAClient_ErrorsAreNotAllow(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewOPAClient(srv.URL).Decide(context.Background(), policy.Input{Tool: "http_get"})
			if err == nil {
				t.Fatal("Decide() error = nil, want error")
			}
		})
	}
}
