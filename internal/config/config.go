// Package config provides configuration loading for the agent gateway.
//
// Keys are flat and map one-to-one to environment variables (OPA_URL,
// DEFAULT_BASELINE, ...), so the same names work in a YAML file and in the
// environment.
package config

// Config is the top-level runtime configuration.
type Config struct {
	// OPAURL is the base URL of a remote OPA when PDPMode is "opa".
	OPAURL string `yaml:"opa_url" mapstructure:"opa_url" validate:"omitempty,url"`

	// DefaultBaseline is the defense tier used when a request does not name
	// one.
	DefaultBaseline string `yaml:"default_baseline" mapstructure:"default_baseline" validate:"omitempty,oneof=B0 B1 B2 B3"`

	// AuditLogPath is the JSONL audit file.
	AuditLogPath string `yaml:"audit_log_path" mapstructure:"audit_log_path"`

	// HTTPAdapter selects the http_get backend: the deterministic mock or
	// the hardened real adapter.
	HTTPAdapter string `yaml:"http_adapter" mapstructure:"http_adapter" validate:"omitempty,oneof=mock real"`

	// HTTPTimeoutMS is the per-request timeout of the real adapter.
	HTTPTimeoutMS int `yaml:"http_timeout_ms" mapstructure:"http_timeout_ms" validate:"omitempty,min=1"`

	// HTTPAllowRedirects enables revalidated redirect following in the real
	// adapter.
	HTTPAllowRedirects bool `yaml:"http_allow_redirects" mapstructure:"http_allow_redirects"`

	// HTTPMaxRedirects bounds the redirect chain when redirects are enabled.
	HTTPMaxRedirects int `yaml:"http_max_redirects" mapstructure:"http_max_redirects" validate:"min=0,max=10"`

	// MetricsEnabled mounts the Prometheus exposition endpoint.
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`

	// MetricsPath is the exposition endpoint path.
	MetricsPath string `yaml:"metrics_path" mapstructure:"metrics_path" validate:"omitempty,startswith=/"`

	// PDPMode selects the decision point: the embedded rule engine or a
	// remote OPA.
	PDPMode string `yaml:"pdp_mode" mapstructure:"pdp_mode" validate:"omitempty,oneof=embedded opa"`

	// PolicyDir overrides the embedded policy bundle with one on disk.
	PolicyDir string `yaml:"policy_dir" mapstructure:"policy_dir"`

	// TicketStore selects the create_ticket backend.
	TicketStore string `yaml:"ticket_store" mapstructure:"ticket_store" validate:"omitempty,oneof=memory sqlite"`

	// TicketStorePath is the sqlite database file when TicketStore is
	// "sqlite".
	TicketStorePath string `yaml:"ticket_store_path" mapstructure:"ticket_store_path"`

	// ServerAddr is the ingress listen address.
	ServerAddr string `yaml:"server_addr" mapstructure:"server_addr" validate:"omitempty,hostname_port"`
}

// SetDefaults applies the default values for unset fields.
func (c *Config) SetDefaults() {
	if c.OPAURL == "" {
		c.OPAURL = "http://localhost:8181"
	}
	if c.DefaultBaseline == "" {
		c.DefaultBaseline = "B3"
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = "results/audit.jsonl"
	}
	if c.HTTPAdapter == "" {
		c.HTTPAdapter = "mock"
	}
	if c.HTTPTimeoutMS == 0 {
		c.HTTPTimeoutMS = 5000
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.PDPMode == "" {
		c.PDPMode = "embedded"
	}
	if c.TicketStore == "" {
		c.TicketStore = "memory"
	}
	if c.TicketStorePath == "" {
		c.TicketStorePath = "results/tickets.db"
	}
	if c.ServerAddr == "" {
		c.ServerAddr = "127.0.0.1:8080"
	}
}
