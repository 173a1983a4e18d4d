// Package config loads and merges the gateway's configuration document:
// transport selection, the policy manifest, the backend tool catalog,
// taint patterns, and risk-judge settings, with environment overrides.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the root of the merged configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Policy  PolicyConfig  `yaml:"policy"`
	Backend BackendConfig `yaml:"backend"`
	Taint   TaintConfig   `yaml:"taint"`
	NSIE    NSIEConfig    `yaml:"nsie"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Keys    KeysConfig    `yaml:"keys"`
}

// BackendConfig is the downstream tool manifest: `backend.tools.{name}`,
// keyed by tool name. ToolCategory ("safe"/"sensitive") is what the Policy
// Engine reads via the `tool_category` field per §4.7.
type BackendConfig struct {
	Tools map[string]ToolConfig `yaml:"tools"`
}

// ToolConfig is one manifest entry, published to the agent and consumed by
// the interceptor for risk/policy scoring.
type ToolConfig struct {
	Category    string         `yaml:"category"` // "safe" or "sensitive"
	Description string         `yaml:"description"`
	ArgsSchema  map[string]any `yaml:"args_schema"`
	Handler     string         `yaml:"handler"`
	KeyField    string         `yaml:"key_field"`
}

// ServerConfig selects and configures the upstream transport.
type ServerConfig struct {
	Transport       string `yaml:"transport"` // "stdio" or "http"
	HTTPAddr        string `yaml:"http_addr"`
	DownstreamCmd   string `yaml:"downstream_cmd"`
	ShutdownGraceMS int    `yaml:"shutdown_grace_ms"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// PolicyConfig is the policy manifest consumed by internal/policy.
type PolicyConfig struct {
	DefaultAction     string                  `yaml:"default_action"`
	EvaluationOrder   []string                `yaml:"evaluation_order"`
	Directives        DirectivesConfig        `yaml:"directives"`
	TrustedWorkflows  []RuleConfig            `yaml:"trusted_workflows"`
	SecurityPolicies  []RuleConfig            `yaml:"security_policies"`
	AccumulatedRisk   AccumulatedRiskPolicy   `yaml:"accumulated_risk_policies"`
	RiskBased         RiskBasedPolicy         `yaml:"risk_based_policies"`
	RiskAccumulation  RiskAccumulationConfig  `yaml:"risk_accumulation"`
}

// DirectivesConfig maps user ids and roles to short-circuiting directives.
type DirectivesConfig struct {
	Users map[string]DirectiveConfig `yaml:"users"`
	Roles map[string]DirectiveConfig `yaml:"roles"`
}

// DirectiveConfig is a single directive's action and reason.
type DirectiveConfig struct {
	Action string `yaml:"action"`
	Reason string `yaml:"reason"`
}

// RuleConfig is one config-defined Rule (trusted_workflows / security_policies).
type RuleConfig struct {
	ID       string         `yaml:"id"`
	Action   string         `yaml:"action"`
	Tools    []string       `yaml:"tools"`
	Match    map[string]any `yaml:"match"`
	Priority int            `yaml:"priority"`
	Reason   string         `yaml:"reason"`
}

// AccumulatedRiskPolicy configures the accumulated-risk phase.
type AccumulatedRiskPolicy struct {
	Threshold float64 `yaml:"threshold"`
	Action    string  `yaml:"action"`
	Reason    string  `yaml:"reason"`
}

// RiskBasedPolicy configures the risk-score-based phase.
type RiskBasedPolicy struct {
	RiskThreshold       float64 `yaml:"risk_threshold"`
	MinConfidence       float64 `yaml:"min_confidence"`
	Action              string  `yaml:"action"`
	LowConfidenceAction string  `yaml:"low_confidence_action"`
}

// RiskAccumulationConfig configures §4.4's decay model. Enabled is a
// pointer so an explicit `enabled: false` in the manifest survives
// applyDefaults instead of being indistinguishable from "unset".
type RiskAccumulationConfig struct {
	Enabled       *bool   `yaml:"enabled"`
	Method        string  `yaml:"method"` // "additive_decay" or "windowed_sum"
	DecayRate     float64 `yaml:"decay_rate"`
	WindowMinutes int     `yaml:"window_minutes"`
}

// IsEnabled reports the effective enabled state, defaulting to true when
// unset.
func (c RiskAccumulationConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// TaintConfig configures the session store's embedded taint classifier.
type TaintConfig struct {
	UntrustedPatterns []string `yaml:"untrusted_patterns"`
	TrustedPatterns   []string `yaml:"trusted_patterns"`
	DefaultTrust      string   `yaml:"default_trust"` // "green" or "red"
}

// MockRuleConfig is one deterministic-fallback rule for the Risk Judge.
type MockRuleConfig struct {
	Tools      []string `yaml:"tools"`
	Field      string   `yaml:"field"`
	Operator   string   `yaml:"operator"`
	Value      any      `yaml:"value"`
	RiskScore  float64  `yaml:"risk_score"`
	Confidence float64  `yaml:"confidence"`
	Reason     string   `yaml:"reason"`
	Tags       []string `yaml:"tags"`
}

// DefaultMockConfig is the fallback-of-last-resort assessment.
type DefaultMockConfig struct {
	RiskScore  float64  `yaml:"risk_score"`
	Confidence float64  `yaml:"confidence"`
	Reason     string   `yaml:"reason"`
	Tags       []string `yaml:"tags"`
}

// NSIEConfig configures the Risk Judge (oracle + deterministic fallback).
type NSIEConfig struct {
	PromptTemplate     string             `yaml:"prompt_template"`
	MockRules          []MockRuleConfig   `yaml:"mock_rules"`
	DefaultMock        DefaultMockConfig  `yaml:"default_mock"`
	OracleAddr         string             `yaml:"oracle_addr"`
	OracleTimeoutMS    int                `yaml:"oracle_timeout_ms"`
	RateLimitPerSecond float64            `yaml:"rate_limit_per_sec"`
	RateLimitBurst     int                `yaml:"rate_limit_burst"`
}

// LedgerConfig configures the forensic ledger's durable file.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// KeysConfig locates the RSA key material loaded by the Warrant Authority.
type KeysConfig struct {
	ProductionPrivateKeyPath string `yaml:"production_private_key_path"`
	ShadowPrivateKeyPath     string `yaml:"shadow_private_key_path"`
	ProductionPublicKeyPath  string `yaml:"production_public_key_path"`
	ShadowPublicKeyPath      string `yaml:"shadow_public_key_path"`
}

// Load reads a merged YAML configuration document from path, loads a local
// .env file if present (godotenv), applies environment overrides, and fills
// in defaults for zero-valued fields. A missing config file is not fatal —
// callers get a defaulted Config; missing keys are fatal later, at key-load
// time, not here.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Transport = getEnv("CHIMERA_TRANSPORT", c.Server.Transport)
	c.Server.HTTPAddr = getEnv("CHIMERA_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.DownstreamCmd = getEnv("CHIMERA_DOWNSTREAM_CMD", c.Server.DownstreamCmd)
	c.Server.MetricsAddr = getEnv("CHIMERA_METRICS_ADDR", c.Server.MetricsAddr)
	if v := getEnvInt("CHIMERA_SHUTDOWN_GRACE_MS", 0); v > 0 {
		c.Server.ShutdownGraceMS = v
	}

	c.Ledger.Path = getEnv("CHIMERA_LEDGER_PATH", c.Ledger.Path)

	c.Keys.ProductionPrivateKeyPath = getEnv("CHIMERA_PRODUCTION_SK_PATH", c.Keys.ProductionPrivateKeyPath)
	c.Keys.ShadowPrivateKeyPath = getEnv("CHIMERA_SHADOW_SK_PATH", c.Keys.ShadowPrivateKeyPath)
	c.Keys.ProductionPublicKeyPath = getEnv("CHIMERA_PRODUCTION_PK_PATH", c.Keys.ProductionPublicKeyPath)
	c.Keys.ShadowPublicKeyPath = getEnv("CHIMERA_SHADOW_PK_PATH", c.Keys.ShadowPublicKeyPath)

	c.NSIE.OracleAddr = getEnv("CHIMERA_ORACLE_ADDR", c.NSIE.OracleAddr)
	if v := getEnvFloat("CHIMERA_ORACLE_RATE_LIMIT", 0); v > 0 {
		c.NSIE.RateLimitPerSecond = v
	}
	if v := getEnvFloat("CHIMERA_ACCUMULATED_RISK_THRESHOLD", 0); v > 0 {
		c.Policy.AccumulatedRisk.Threshold = v
	}
}

// applyDefaults fills in sensible defaults for zero-valued fields, matching
// the rest of the lineage's applyDefaults pattern.
func (c *Config) applyDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8088"
	}
	if c.Server.ShutdownGraceMS == 0 {
		c.Server.ShutdownGraceMS = 5000
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/forensic_ledger.jsonl"
	}
	if c.Keys.ProductionPrivateKeyPath == "" {
		c.Keys.ProductionPrivateKeyPath = "keys/private_prime.pem"
	}
	if c.Keys.ShadowPrivateKeyPath == "" {
		c.Keys.ShadowPrivateKeyPath = "keys/private_shadow.pem"
	}
	if c.Keys.ProductionPublicKeyPath == "" {
		c.Keys.ProductionPublicKeyPath = "keys/public_prime.pem"
	}
	if c.Keys.ShadowPublicKeyPath == "" {
		c.Keys.ShadowPublicKeyPath = "keys/public_shadow.pem"
	}
	if len(c.Taint.UntrustedPatterns) == 0 {
		c.Taint.UntrustedPatterns = []string{"resume", "upload", "external", "/shared/", "attachment"}
	}
	if len(c.Taint.TrustedPatterns) == 0 {
		c.Taint.TrustedPatterns = []string{"/private/", "/real/", "_conf_", "system", "internal"}
	}
	if c.Taint.DefaultTrust == "" {
		c.Taint.DefaultTrust = "green"
	}
	if c.Policy.DefaultAction == "" {
		c.Policy.DefaultAction = "production"
	}
	if len(c.Policy.EvaluationOrder) == 0 {
		c.Policy.EvaluationOrder = []string{
			"directives", "trusted_workflows", "security_policies",
			"accumulated_risk_policies", "risk_based_policies",
		}
	}
	if c.Policy.AccumulatedRisk.Threshold == 0 {
		c.Policy.AccumulatedRisk.Threshold = 2.0
	}
	if c.Policy.AccumulatedRisk.Action == "" {
		c.Policy.AccumulatedRisk.Action = "shadow"
	}
	if c.Policy.RiskBased.RiskThreshold == 0 {
		c.Policy.RiskBased.RiskThreshold = 0.7
	}
	if c.Policy.RiskBased.MinConfidence == 0 {
		c.Policy.RiskBased.MinConfidence = 0.6
	}
	if c.Policy.RiskBased.Action == "" {
		c.Policy.RiskBased.Action = "shadow"
	}
	if c.Policy.RiskBased.LowConfidenceAction == "" {
		c.Policy.RiskBased.LowConfidenceAction = "production"
	}
	if c.Policy.RiskAccumulation.Method == "" {
		c.Policy.RiskAccumulation.Method = "additive_decay"
	}
	if c.Policy.RiskAccumulation.DecayRate == 0 {
		c.Policy.RiskAccumulation.DecayRate = 0.1
	}
	if c.Policy.RiskAccumulation.WindowMinutes == 0 {
		c.Policy.RiskAccumulation.WindowMinutes = 30
	}
	if c.Policy.RiskAccumulation.Enabled == nil {
		enabled := true
		c.Policy.RiskAccumulation.Enabled = &enabled
	}
	if c.NSIE.DefaultMock.Reason == "" {
		c.NSIE.DefaultMock = DefaultMockConfig{
			RiskScore:  0.1,
			Confidence: 0.9,
			Reason:     "no risk indicators",
			Tags:       []string{},
		}
	}
	if c.NSIE.OracleTimeoutMS == 0 {
		c.NSIE.OracleTimeoutMS = 2000
	}
	if c.NSIE.RateLimitPerSecond == 0 {
		c.NSIE.RateLimitPerSecond = 5
	}
	if c.NSIE.RateLimitBurst == 0 {
		c.NSIE.RateLimitBurst = 10
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
