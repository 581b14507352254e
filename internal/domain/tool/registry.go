package tool

import (
	"context"
	"strings"
	"sync"
)

// DocStore is the read-side document backend for search_docs / read_doc.
type DocStore interface {
	Search(ctx context.Context, query string) (map[string]any, error)
	Read(ctx context.Context, docID string) (map[string]any, error)
}

// TicketStore is the write-side backend for create_ticket and the row source
// for db_query_readonly.
type TicketStore interface {
	Create(ctx context.Context, project, title, body string) (map[string]any, error)
	Count(ctx context.Context) (int, error)
}

// HTTPAdapter is the http_get egress capability. The registry mirrors its
// allowed-domains view into the adapter whenever the allowlist changes, so
// the adapter and the policy always agree.
type HTTPAdapter interface {
	Get(ctx context.Context, url string) (map[string]any, error)
	SetAllowedDomains(domains []string)
}

// writeKeywords are SQL verbs that disqualify a query from the read-only
// backend even at permissive baselines.
var writeKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT"}

// ToolDef binds a tool name to its argument schema and executor.
type ToolDef struct {
	Name string
	// newArgs returns a fresh pointer to the tool's argument struct.
	newArgs func() any
	// execute runs the tool against its backend with already-validated args.
	execute func(ctx context.Context, args any) (map[string]any, error)
}

// Parse validates raw arguments against the tool's schema and returns the
// typed argument struct.
func (d *ToolDef) Parse(raw map[string]any) (any, error) {
	dst := d.newArgs()
	if err := parseArgs(raw, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Execute invokes the tool backend with validated args.
func (d *ToolDef) Execute(ctx context.Context, args any) (map[string]any, error) {
	return d.execute(ctx, args)
}

// Registry owns the closed tool set and the environment allowlists exposed to
// policy decisions.
type Registry struct {
	docs    DocStore
	http    HTTPAdapter
	tickets TicketStore

	mu              sync.RWMutex
	allowedDomains  []string
	allowedProjects []string

	tools map[string]*ToolDef
}

// Default allowlists, matching the benchmark scenario defaults.
var (
	defaultAllowedDomains  = []string{"api.company.tld", "docs.company.tld"}
	defaultAllowedProjects = []string{"SEC", "IT"}
)

// NewRegistry builds the registry over the given backends with the default
// allowlists.
func NewRegistry(docs DocStore, http HTTPAdapter, tickets TicketStore) *Registry {
	r := &Registry{
		docs:            docs,
		http:            http,
		tickets:         tickets,
		allowedDomains:  append([]string(nil), defaultAllowedDomains...),
		allowedProjects: append([]string(nil), defaultAllowedProjects...),
	}
	r.http.SetAllowedDomains(r.allowedDomains)

	r.tools = map[string]*ToolDef{
		"search_docs": {
			Name:    "search_docs",
			newArgs: func() any { return &SearchDocsArgs{} },
			execute: func(ctx context.Context, args any) (map[string]any, error) {
				return r.docs.Search(ctx, args.(*SearchDocsArgs).Query)
			},
		},
		"read_doc": {
			Name:    "read_doc",
			newArgs: func() any { return &ReadDocArgs{} },
			execute: func(ctx context.Context, args any) (map[string]any, error) {
				return r.docs.Read(ctx, args.(*ReadDocArgs).DocID)
			},
		},
		"http_get": {
			Name:    "http_get",
			newArgs: func() any { return &HTTPGetArgs{} },
			execute: func(ctx context.Context, args any) (map[string]any, error) {
				return r.http.Get(ctx, args.(*HTTPGetArgs).URL)
			},
		},
		"create_ticket": {
			Name:    "create_ticket",
			newArgs: func() any { return &CreateTicketArgs{} },
			execute: func(ctx context.Context, args any) (map[string]any, error) {
				a := args.(*CreateTicketArgs)
				return r.tickets.Create(ctx, a.Project, a.Title, a.Body)
			},
		},
		"db_query_readonly": {
			Name:    "db_query_readonly",
			newArgs: func() any { return &DBQueryReadonlyArgs{} },
			execute: func(ctx context.Context, args any) (map[string]any, error) {
				return r.execDBQuery(ctx, args.(*DBQueryReadonlyArgs).SQL)
			},
		},
	}

	return r
}

// Lookup returns the tool definition for a name, or nil when unregistered.
func (r *Registry) Lookup(name string) *ToolDef {
	return r.tools[name]
}

// AllowedDomains returns a copy of the current egress domain allowlist.
func (r *Registry) AllowedDomains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.allowedDomains...)
}

// SetAllowedDomains replaces the domain allowlist and mirrors it into the
// HTTP adapter.
func (r *Registry) SetAllowedDomains(domains []string) {
	r.mu.Lock()
	r.allowedDomains = append([]string(nil), domains...)
	r.mu.Unlock()
	r.http.SetAllowedDomains(domains)
}

// AllowedTicketProjects returns a copy of the allowed ticket projects.
func (r *Registry) AllowedTicketProjects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.allowedProjects...)
}

// SetAllowedTicketProjects replaces the allowed ticket projects.
func (r *Registry) SetAllowedTicketProjects(projects []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowedProjects = append([]string(nil), projects...)
}

// execDBQuery serves db_query_readonly. Write verbs are refused in the
// backend as well, so permissive baselines surface the refusal in the result
// payload instead of executing a write.
func (r *Registry) execDBQuery(ctx context.Context, sql string) (map[string]any, error) {
	upper := strings.ToUpper(sql)
	for _, kw := range writeKeywords {
		if strings.Contains(upper, kw) {
			return map[string]any{"error": "write_query_denied"}, nil
		}
	}
	count, err := r.tickets.Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rows": []any{map[string]any{"count": count}}}, nil
}
