// Package config provides configuration structures, loading and validation
// for the gatehouse pipeline, and the conversion from configuration to the
// runtime firewall, registry and collaborators.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full gatehouse configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Firewall   FirewallConfig   `yaml:"firewall"`
	Session    SessionConfig    `yaml:"session"`
	Auth       AuthConfig       `yaml:"auth"`
	Access     AccessConfig     `yaml:"access"`
	Governance GovernanceConfig `yaml:"governance"`
	Chains     []ChainConfig    `yaml:"chains"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	// DataAddress serves the protected application behind the pipeline.
	DataAddress string `yaml:"data_address"`
	// AdminAddress serves metrics, health and the chain dump.
	AdminAddress string `yaml:"admin_address"`
	// SecureHost overrides the host used by secure-transport redirects.
	SecureHost string `yaml:"secure_host"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// FirewallConfig holds the request-firewall policy.
type FirewallConfig struct {
	AllowedMethods           []string `yaml:"allowed_methods"`
	AllowSemicolon           bool     `yaml:"allow_semicolon"`
	UnsafeAllowAnyHTTPMethod bool     `yaml:"unsafe_allow_any_http_method"`
}

// SessionConfig holds session-store and concurrency settings.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	// MaxConcurrent bounds live sessions per principal; zero disables.
	MaxConcurrent int `yaml:"max_concurrent"`
	// RejectNewOnLimit refuses a login over the limit instead of expiring
	// the principal's oldest session.
	RejectNewOnLimit bool `yaml:"reject_new_on_limit"`
}

// AuthConfig holds the identity collaborators.
type AuthConfig struct {
	Realm      string           `yaml:"realm"`
	LoginPath  string           `yaml:"login_path"`
	EntryPoint string           `yaml:"entry_point"` // redirect or challenge
	Users      []UserConfig     `yaml:"users"`
	Tokens     []TokenConfig    `yaml:"tokens"`
	Anonymous  AnonymousConfig  `yaml:"anonymous"`
	RememberMe RememberMeConfig `yaml:"remember_me"`
}

// UserConfig declares one user of the in-memory directory.
type UserConfig struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Authorities []string `yaml:"authorities"`
	// RunAs names another directory user this one executes as once
	// authenticated.
	RunAs string `yaml:"run_as"`
}

// TokenConfig declares one static bearer token of the in-memory directory.
type TokenConfig struct {
	Token     string `yaml:"token"`
	Principal string `yaml:"principal"`
}

// AnonymousConfig configures the anonymous fallback principal.
type AnonymousConfig struct {
	Principal   string   `yaml:"principal"`
	Authorities []string `yaml:"authorities"`
}

// RememberMeConfig configures the remember-me fallback.
type RememberMeConfig struct {
	CookieName string `yaml:"cookie_name"`
}

// AccessConfig selects and configures the access decider.
type AccessConfig struct {
	// Decider is "rules" (default) or "opa".
	Decider string       `yaml:"decider"`
	Rules   []RuleConfig `yaml:"rules"`
	Rego    RegoConfig   `yaml:"rego"`
}

// RuleConfig declares one static access rule; first match wins.
type RuleConfig struct {
	Pattern     string   `yaml:"pattern"`
	Kind        string   `yaml:"kind"`
	Methods     []string `yaml:"methods"`
	Access      string   `yaml:"access"`
	Authorities []string `yaml:"authorities"`
}

// RegoConfig configures the OPA decider.
type RegoConfig struct {
	Entrypoint string `yaml:"entrypoint"`
	// ModuleFiles lists rego files loaded at startup.
	ModuleFiles []string `yaml:"module_files"`
	// Modules carries inline rego modules keyed by name.
	Modules map[string]string `yaml:"modules"`
}

// GovernanceConfig bounds external collaborator calls.
type GovernanceConfig struct {
	CollaboratorTimeoutMS int `yaml:"collaborator_timeout_ms"`
}

// ChainConfig declares one registry entry. Entries are matched in
// declaration order; the most specific pattern belongs first and the final
// entry must be a catch-all.
type ChainConfig struct {
	Name    string   `yaml:"name"`
	Pattern string   `yaml:"pattern"`
	Kind    string   `yaml:"kind"`
	Bypass  bool     `yaml:"bypass"`
	Session string   `yaml:"session"`
	Stages  []string `yaml:"stages"`
}

// Load reads configuration from a file, applies environment variable
// overrides and validates eagerly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in defaults applied before file contents.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DataAddress:  ":8080",
			AdminAddress: ":9090",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "gatehouse",
		},
		Session: SessionConfig{
			CookieName: "GATEHOUSE_SESSION",
			TTLSeconds: 3600,
		},
		Auth: AuthConfig{
			Realm:      "gatehouse",
			LoginPath:  "/login",
			EntryPoint: "challenge",
		},
		Governance: GovernanceConfig{CollaboratorTimeoutMS: 5000},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEHOUSE_DATA_ADDRESS"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v := os.Getenv("GATEHOUSE_ADMIN_ADDRESS"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v := os.Getenv("GATEHOUSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEHOUSE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

// Validate checks the configuration shape eagerly so defects surface at
// startup, not per request. Chain semantics (stage order, catch-all) are
// validated again by the registry build; the checks here catch what the
// conversion step needs to assume.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	names := map[string]bool{}
	for i, ch := range c.Chains {
		if ch.Pattern == "" {
			return fmt.Errorf("chain %d has no pattern", i)
		}
		if ch.Name == "" {
			return fmt.Errorf("chain %d (pattern %q) has no name", i, ch.Pattern)
		}
		if names[ch.Name] {
			return fmt.Errorf("duplicate chain name %q", ch.Name)
		}
		names[ch.Name] = true
		if ch.Bypass && len(ch.Stages) > 0 {
			return fmt.Errorf("chain %q: bypass and stages are mutually exclusive", ch.Name)
		}
		if !ch.Bypass && len(ch.Stages) == 0 {
			return fmt.Errorf("chain %q declares neither stages nor bypass", ch.Name)
		}
	}

	switch strings.ToLower(c.Access.Decider) {
	case "", "rules":
	case "opa":
		if len(c.Access.Rego.ModuleFiles) == 0 && len(c.Access.Rego.Modules) == 0 {
			return fmt.Errorf("access.decider is opa but no rego modules are configured")
		}
	default:
		return fmt.Errorf("unknown access decider %q", c.Access.Decider)
	}

	switch strings.ToLower(c.Auth.EntryPoint) {
	case "", "challenge", "redirect":
	default:
		return fmt.Errorf("unknown entry point %q", c.Auth.EntryPoint)
	}

	if c.Session.MaxConcurrent < 0 {
		return fmt.Errorf("session.max_concurrent must not be negative")
	}
	return nil
}
