// Package httpegress provides the http_get backends: a deterministic mock
// for benchmarks and a hardened client for real egress.
package httpegress

import (
	"context"
	"sync"
)

// Mock is the deterministic http_get backend. It never opens a socket; a
// fixed URL table answers and everything else is a 404.
type Mock struct {
	mu        sync.RWMutex
	domains   []string
	responses map[string]map[string]any
}

// NewMock builds the mock with the canned benchmark responses.
func NewMock() *Mock {
	return &Mock{
		responses: map[string]map[string]any{
			"https://api.company.tld/status": {"status_code": 200, "body": "OK"},
			"https://api.company.tld/info":   {"status_code": 200, "body": "INFO"},
		},
	}
}

// Get answers from the response table, 404 on a miss.
func (m *Mock) Get(_ context.Context, url string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if resp, ok := m.responses[url]; ok {
		out := make(map[string]any, len(resp))
		for k, v := range resp {
			out[k] = v
		}
		return out, nil
	}
	return map[string]any{"status_code": 404, "body": "NOT_FOUND"}, nil
}

// SetAllowedDomains records the registry's allowlist. The mock does not gate
// on it; allowlisting is the policy layer's job.
func (m *Mock) SetAllowedDomains(domains []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains = append([]string(nil), domains...)
}
