// Package urlpolicy centralizes URL host/path extraction and structural
// checks. The PDP, the B2 inline checks, the hardened egress adapter, and the
// benchmark scorer all use these helpers so that every layer agrees on what
// the host and path of a URL are.
package urlpolicy

import (
	"net"
	"net/url"
	"strings"
)

// Metadata and loopback hostnames that are always blocked for egress.
var metadataHosts = map[string]bool{
	"localhost":                true,
	"metadata":                 true,
	"metadata.google.internal": true,
}

// MetadataIP is the cloud metadata service address; it is a hard deny even
// when DNS resolves an allowlisted name to it.
const MetadataIP = "169.254.169.254"

// privateNetworks contains CIDR ranges blocked for egress to keep SSRF
// attempts away from internal services.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"0.0.0.0/8",      // "this network" / unspecified
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918 private
		"100.64.0.0/10",  // carrier-grade NAT
		"172.16.0.0/12",  // RFC 1918 private
		"192.0.0.0/24",   // IETF protocol assignments
		"192.168.0.0/16", // RFC 1918 private
		"198.18.0.0/15",  // benchmarking
		"169.254.0.0/16", // link-local (cloud metadata at 169.254.169.254)
		"224.0.0.0/4",    // multicast
		"240.0.0.0/4",    // reserved
		"::/128",         // IPv6 unspecified
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
		"ff00::/8",       // IPv6 multicast
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// IsPrivateIP reports whether an IP falls in a private, loopback, link-local,
// multicast, or otherwise reserved range.
func IsPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsMetadataHost reports whether the hostname is a known metadata or loopback
// alias.
func IsMetadataHost(host string) bool {
	return metadataHosts[strings.ToLower(host)]
}

// SplitHostPath extracts the lowercased hostname and the path (query
// stripped, default "/") from a raw URL. Parsing uses net/url, so
// userinfo-authority confusion like https://good.tld@evil.tld/ yields the
// actual host (evil.tld), not the decoy.
func SplitHostPath(raw string) (host, path string) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "/"
	}
	host = strings.ToLower(u.Hostname())
	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return host, path
}

// IsAllowedDomain reports whether host exactly equals an allowed domain or is
// a dotted subdomain of one.
func IsAllowedDomain(host string, allowed []string) bool {
	if host == "" {
		return false
	}
	for _, d := range allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// MatchPathAllowlist reports whether path matches the per-domain allowlist.
// Entries ending in "/" are prefixes; all other entries match exactly. A host
// with no allowlist entry matches nothing.
func MatchPathAllowlist(host, path string, allowlist map[string][]string) bool {
	entries := allowlistFor(host, allowlist)
	for _, e := range entries {
		if strings.HasSuffix(e, "/") {
			if strings.HasPrefix(path, e) || path == strings.TrimSuffix(e, "/") {
				return true
			}
			continue
		}
		if path == e {
			return true
		}
	}
	return false
}

// allowlistFor returns the path allowlist for a host, falling back to the
// parent domain entry for subdomains.
func allowlistFor(host string, allowlist map[string][]string) []string {
	if entries, ok := allowlist[host]; ok {
		return entries
	}
	for domain, entries := range allowlist {
		if strings.HasSuffix(host, "."+domain) {
			return entries
		}
	}
	return nil
}

// HasTraversal reports whether a URL path contains a traversal attempt:
// a raw ".." segment after percent-decoding, or encoded "%2e%2e" / "%2f"
// sequences in the raw path.
func HasTraversal(rawPath string) bool {
	lower := strings.ToLower(rawPath)
	if strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%2f") {
		return true
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Facts is the structural breakdown of an http_get URL, precomputed once so
// policy rules can stay declarative.
type Facts struct {
	Host          string `json:"host"`
	Path          string `json:"path"`
	HasUserinfo   bool   `json:"has_userinfo"`
	HostMissing   bool   `json:"host_missing"`
	IPLiteral     bool   `json:"ip_literal"`
	PrivateIP     bool   `json:"private_ip"`
	MetadataHost  bool   `json:"metadata_host"`
	HostAllowed   bool   `json:"host_allowed"`
	PathAllowed   bool   `json:"path_allowed"`
	PathTraversal bool   `json:"path_traversal"`
}

// Inspect computes Facts for a raw URL against the given domain and path
// allowlists.
func Inspect(raw string, allowedDomains []string, pathAllowlist map[string][]string) Facts {
	f := Facts{Path: "/"}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		f.HostMissing = true
		return f
	}

	f.HasUserinfo = u.User != nil
	f.Host = strings.ToLower(u.Hostname())
	if p := u.EscapedPath(); p != "" {
		f.Path = p
	}

	if ip := net.ParseIP(f.Host); ip != nil {
		f.IPLiteral = true
		f.PrivateIP = IsPrivateIP(ip)
	}
	f.MetadataHost = IsMetadataHost(f.Host)
	f.HostAllowed = IsAllowedDomain(f.Host, allowedDomains)
	f.PathTraversal = HasTraversal(f.Path)
	f.PathAllowed = MatchPathAllowlist(f.Host, f.Path, pathAllowlist)

	return f
}

// Map renders the facts as a generic map for policy-engine activations.
func (f Facts) Map() map[string]any {
	return map[string]any{
		"host":           f.Host,
		"path":           f.Path,
		"has_userinfo":   f.HasUserinfo,
		"host_missing":   f.HostMissing,
		"ip_literal":     f.IPLiteral,
		"private_ip":     f.PrivateIP,
		"metadata_host":  f.MetadataHost,
		"host_allowed":   f.HostAllowed,
		"path_allowed":   f.PathAllowed,
		"path_traversal": f.PathTraversal,
	}
}
