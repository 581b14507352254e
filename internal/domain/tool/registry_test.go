package tool

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeDocs struct{}

func (fakeDocs) Search(_ context.Context, query string) (map[string]any, error) {
	return map[string]any{"doc_ids": []any{"faq"}, "query": query}, nil
}

func (fakeDocs) Read(_ context.Context, docID string) (map[string]any, error) {
	return map[string]any{"doc_id": docID, "content": "stub"}, nil
}

type fakeHTTP struct {
	domains []string
	calls   int
}

func (f *fakeHTTP) Get(_ context.Context, url string) (map[string]any, error) {
	f.calls++
	return map[string]any{"status_code": 200, "body": "OK", "url": url}, nil
}

func (f *fakeHTTP) SetAllowedDomains(domains []string) {
	f.domains = append([]string(nil), domains...)
}

type fakeTickets struct {
	created int
}

func (f *fakeTickets) Create(_ context.Context, project, title, body string) (map[string]any, error) {
	f.created++
	return map[string]any{"ticket_id": "TICKET-1"}, nil
}

func (f *fakeTickets) Count(_ context.Context) (int, error) {
	return f.created, nil
}

func newTestRegistry() (*Registry, *fakeHTTP, *fakeTickets) {
	h := &fakeHTTP{}
	tk := &fakeTickets{}
	return NewRegistry(fakeDocs{}, h, tk), h, tk
}

func TestRegistry_Lookup(t *testing.T) {
	r, _, _ := newTestRegistry()

	for _, name := range []string{"search_docs", "read_doc", "http_get", "create_ticket", "db_query_readonly"} {
		if r.Lookup(name) == nil {
			t.Errorf("Lookup(%q) = nil, want tool", name)
		}
	}
	if r.Lookup("delete_everything") != nil {
		t.Error("Lookup of unregistered tool must return nil")
	}
}

func TestRegistry_AllowlistMirroring(t *testing.T) {
	r, h, _ := newTestRegistry()

	if !reflect.DeepEqual(h.domains, []string{"api.company.tld", "docs.company.tld"}) {
		t.Fatalf("adapter not seeded with default domains: %v", h.domains)
	}

	r.SetAllowedDomains([]string{"other.tld"})
	if !reflect.DeepEqual(h.domains, []string{"other.tld"}) {
		t.Errorf("adapter domains not mirrored: %v", h.domains)
	}
	if !reflect.DeepEqual(r.AllowedDomains(), []string{"other.tld"}) {
		t.Errorf("registry domains = %v", r.AllowedDomains())
	}
}

func TestToolDef_Parse(t *testing.T) {
	r, _, _ := newTestRegistry()

	tests := []struct {
		name     string
		tool     string
		raw      map[string]any
		wantKind string
	}{
		{"valid http_get", "http_get", map[string]any{"url": "https://api.company.tld/status"}, ""},
		{"valid with redirects flag", "http_get", map[string]any{"url": "https://x.tld", "follow_redirects": true}, ""},
		{"missing url", "http_get", map[string]any{}, "missing_field"},
		{"unknown field", "http_get", map[string]any{"url": "https://x.tld", "noop": true}, "unknown_field"},
		{"wrong type", "http_get", map[string]any{"url": 12}, "type_mismatch"},
		{"valid ticket", "create_ticket", map[string]any{"project": "SEC", "title": "T", "body": "B"}, ""},
		{"ticket missing body", "create_ticket", map[string]any{"project": "SEC", "title": "T"}, "missing_field"},
		{"valid query", "db_query_readonly", map[string]any{"sql": "SELECT 1"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := r.Lookup(tt.tool)
			_, err := def.Parse(tt.raw)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v, want nil", err)
				}
				return
			}
			var serr *SchemaError
			if !errors.As(err, &serr) {
				t.Fatalf("Parse() error = %v, want SchemaError", err)
			}
			if serr.Kind != tt.wantKind {
				t.Errorf("SchemaError.Kind = %q, want %q", serr.Kind, tt.wantKind)
			}
		})
	}
}

func TestRegistry_DBQueryRefusesWrites(t *testing.T) {
	r, _, tk := newTestRegistry()
	tk.created = 3
	def := r.Lookup("db_query_readonly")

	out, err := def.Execute(context.Background(), &DBQueryReadonlyArgs{SQL: "SELECT count(*) FROM tickets"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	rows, ok := out["rows"].([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("rows = %v", out["rows"])
	}
	if rows[0].(map[string]any)["count"] != 3 {
		t.Errorf("count = %v, want 3", rows[0])
	}

	out, err = def.Execute(context.Background(), &DBQueryReadonlyArgs{SQL: "drop table tickets"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out["error"] != "write_query_denied" {
		t.Errorf("write query result = %v, want write_query_denied marker", out)
	}
}

func TestArgsMap_RoundTrip(t *testing.T) {
	m := ArgsMap(&CreateTicketArgs{Project: "SEC", Title: "T", Body: "B"})
	want := map[string]any{"project": "SEC", "title": "T", "body": "B"}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("ArgsMap = %v, want %v", m, want)
	}
}
