package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agent-gate.yaml/.yml in
// standard locations. Env keys carry no prefix so OPA_URL and friends work
// verbatim.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. ReadInConfig will
		// return ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("agent-gate")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	bindEnvKeys()
}

// findConfigFile searches standard locations for an agent-gate config file
// with an explicit YAML extension, so Viper never matches the binary itself.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agent-gate"),
		"/etc/agent-gate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agent-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key so the environment can override it.
func bindEnvKeys() {
	for _, key := range []string{
		"opa_url",
		"default_baseline",
		"audit_log_path",
		"http_adapter",
		"http_timeout_ms",
		"http_allow_redirects",
		"http_max_redirects",
		"metrics_enabled",
		"metrics_path",
		"pdp_mode",
		"policy_dir",
		"ticket_store",
		"ticket_store_path",
		"server_addr",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides and
// defaults, and validates the result.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or empty
// when running on env vars only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
