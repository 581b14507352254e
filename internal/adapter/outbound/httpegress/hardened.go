package httpegress

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	pathpkg "path"
	"strings"
	"sync"
	"time"

	"github.com/agent-gate/agentgate/internal/domain/policy"
	"github.com/agent-gate/agentgate/internal/domain/tool"
	"github.com/agent-gate/agentgate/internal/domain/urlpolicy"
)

// maxBodyBytes truncates response bodies so a hostile endpoint cannot flood
// the agent context.
const maxBodyBytes = 8192

// minTimeout is the floor applied to the configured request timeout.
const minTimeout = 100 * time.Millisecond

// HardenedConfig configures the real egress client.
type HardenedConfig struct {
	AllowedDomains []string
	TimeoutMS      int
	AllowRedirects bool
	MaxRedirects   int
}

// Hardened is the SSRF-resistant http_get backend. Every request passes URL
// normalization, host policy, and pre/post-flight DNS checks; redirects are
// re-validated from scratch. Failures are tool.ExecError values whose codes
// are the policy reason taxonomy, so a blocked fetch denies the request with
// a precise reason.
type Hardened struct {
	mu             sync.RWMutex
	allowedDomains []string

	allowRedirects bool
	maxRedirects   int
	client         *http.Client

	// lookupIP is swappable for tests.
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// NewHardened builds the hardened client. The proxy environment is ignored
// and the client never follows redirects on its own.
func NewHardened(cfg HardenedConfig) *Hardened {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &Hardened{
		allowedDomains: append([]string(nil), cfg.AllowedDomains...),
		allowRedirects: cfg.AllowRedirects,
		maxRedirects:   cfg.MaxRedirects,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{Proxy: nil},
		},
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		},
	}
}

// SetAllowedDomains replaces the egress domain allowlist.
func (h *Hardened) SetAllowedDomains(domains []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedDomains = append([]string(nil), domains...)
}

func (h *Hardened) domains() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowedDomains
}

// Get fetches a URL under the full hardening discipline, following redirects
// only when configured and re-running every check per hop.
func (h *Hardened) Get(ctx context.Context, raw string) (map[string]any, error) {
	current, err := h.normalize(raw)
	if err != nil {
		return nil, err
	}

	visited := 0
	for {
		host := current.Hostname()
		if err := h.enforceHostPolicy(host); err != nil {
			return nil, err
		}
		before, err := h.resolvePublicIPs(ctx, host)
		if err != nil {
			return nil, err
		}

		status, body, headers, err := h.doGet(ctx, current.String())
		if err != nil {
			return nil, err
		}

		after, err := h.resolvePublicIPs(ctx, host)
		if err != nil {
			return nil, err
		}
		if !sameIPSet(before, after) {
			return nil, tool.NewExecError(policy.ReasonDNSRebindingSuspected, "resolved IP set changed during request")
		}

		if status >= 300 && status < 400 {
			if !h.allowRedirects {
				return nil, tool.NewExecError(policy.ReasonUnsafeRedirect, "redirects are disabled")
			}
			visited++
			if visited > h.maxRedirects {
				return nil, tool.NewExecError(policy.ReasonTooManyRedirects, "max redirects exceeded")
			}
			location := headers["Location"]
			if location == "" {
				return nil, tool.NewExecError(policy.ReasonUnsafeRedirect, "redirect without location")
			}
			current, err = h.normalize(location)
			if err != nil {
				return nil, err
			}
			continue
		}

		headerMap := make(map[string]any, len(headers))
		for k, v := range headers {
			headerMap[strings.ToLower(k)] = v
		}
		return map[string]any{
			"status_code": status,
			"body":        body,
			"headers":     headerMap,
		}, nil
	}
}

// doGet performs a single request and reads the truncated body.
func (h *Hardened) doGet(ctx context.Context, url string) (status int, body string, headers map[string]string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", nil, tool.NewExecError(policy.ReasonInvalidURL, "build request: %v", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, "", nil, tool.NewExecError("http_request_failed", "%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, "", nil, tool.NewExecError("http_request_failed", "read body: %v", err)
	}

	headers = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[http.CanonicalHeaderKey(k)] = resp.Header.Get(k)
	}
	return resp.StatusCode, string(data), headers, nil
}

// normalize parses and canonicalizes a URL, rejecting every structural trick
// before any network activity.
func (h *Hardened) normalize(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, tool.NewExecError(policy.ReasonInvalidURL, "parse url: %v", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, tool.NewExecError(policy.ReasonSchemeNotAllowed, "only http/https are allowed")
	}
	if u.User != nil {
		return nil, tool.NewExecError(policy.ReasonInvalidURLAuthority, "userinfo in URL is not allowed")
	}
	host := u.Hostname()
	if host == "" {
		return nil, tool.NewExecError(policy.ReasonInvalidURL, "host is required")
	}
	for _, r := range host {
		if r > 127 {
			return nil, tool.NewExecError(policy.ReasonNonASCIIHost, "non-ascii host is not allowed")
		}
	}
	host = strings.ToLower(host)
	if strings.Contains(host, "xn--") {
		return nil, tool.NewExecError(policy.ReasonPunycodeHost, "punycode host is not allowed")
	}

	rawPath := u.EscapedPath()
	if rawPath == "" {
		rawPath = "/"
	}
	if urlpolicy.HasTraversal(rawPath) {
		return nil, tool.NewExecError(policy.ReasonPathTraversal, "path traversal not allowed")
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, tool.NewExecError(policy.ReasonPathTraversal, "undecodable path")
	}
	normalized := pathpkg.Clean(decoded)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	out := &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     normalized,
		RawQuery: u.RawQuery,
	}
	if port := u.Port(); port != "" {
		out.Host = fmt.Sprintf("%s:%s", host, port)
	}
	return out, nil
}

// enforceHostPolicy applies the IP-literal, metadata, and allowlist checks to
// the normalized host.
func (h *Hardened) enforceHostPolicy(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if urlpolicy.IsPrivateIP(ip) {
			return tool.NewExecError(policy.ReasonPrivateIP, "blocked non-public address %s", host)
		}
		return tool.NewExecError(policy.ReasonIPLiteralBlocked, "ip literals are not allowed")
	}
	if urlpolicy.IsMetadataHost(host) {
		return tool.NewExecError(policy.ReasonMetadataEndpoint, "metadata/local endpoints are blocked")
	}
	if !urlpolicy.IsAllowedDomain(host, h.domains()) {
		return tool.NewExecError(policy.ReasonDomainNotAllowlisted, "host is not allowlisted")
	}
	return nil
}

// resolvePublicIPs resolves the host and requires every address to be public.
// The metadata service address is a hard deny even behind an allowlisted name.
func (h *Hardened) resolvePublicIPs(ctx context.Context, host string) (map[string]struct{}, error) {
	ips, err := h.lookupIP(ctx, host)
	if err != nil {
		return nil, tool.NewExecError(policy.ReasonDNSResolutionFailed, "%v", err)
	}
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if ip.String() == urlpolicy.MetadataIP {
			return nil, tool.NewExecError(policy.ReasonMetadataEndpoint, "metadata IP blocked")
		}
		if urlpolicy.IsPrivateIP(ip) {
			return nil, tool.NewExecError(policy.ReasonPrivateIP, "blocked non-public address %s", ip)
		}
		set[ip.String()] = struct{}{}
	}
	return set, nil
}

func sameIPSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for ip := range a {
		if _, ok := b[ip]; !ok {
			return false
		}
	}
	return true
}
