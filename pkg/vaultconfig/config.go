// Package vaultconfig assembles the single immutable configuration
// value vaultcore is built from. It is read once at process start.
// One setting lives outside it: the CORS middleware in internal/routes
// reads ALLOWED_ORIGINS from the environment on every request.
package vaultconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRateLimitCalls  = 120
	DefaultRateLimitWindow = 60 * time.Second
	DefaultReceiptTimeout  = 120 * time.Second
	DefaultFeePercentile   = 50
	DefaultChainCallTimeout = 8 * time.Second
)

// RateLimitRule bounds how many calls a tool (optionally scoped to one
// agent) may receive in a sliding window.
type RateLimitRule struct {
	MaxCalls int           `yaml:"max_calls"`
	Window   time.Duration `yaml:"-"`
	WindowSeconds int      `yaml:"window_seconds"`
}

// PolicyFile is the on-disk shape of the rate-limit rule set, layered
// default -> per-tool -> per-agent-and-tool.
type PolicyFile struct {
	RateLimits struct {
		Default RateLimitRule            `yaml:"default"`
		Tools   map[string]RateLimitRule `yaml:"tools"`
		Agents  map[string]map[string]RateLimitRule `yaml:"agents"`
	} `yaml:"rate_limits"`
}

// Config is the process-wide, immutable configuration. Constructed
// once in Load and passed by value/pointer into every component
// constructor.
type Config struct {
	// Chain Client
	ChainEndpoints  []string
	ChainID         int64
	ChainCallTimeout time.Duration
	FeePercentile   int
	ReceiptTimeout  time.Duration

	// Key Store
	MasterSecret       string
	SecretSidecarPath  string
	AllowPlaintextExport bool
	PlaintextExportCode  string

	// Wallet Manager / Policy
	SpendThresholdWei  string // decimal wei string; empty means no threshold
	ConfirmationCode   string

	// Policy Engine
	DefaultRateLimit RateLimitRule
	ToolRateLimits   map[string]RateLimitRule
	AgentToolRateLimits map[string]map[string]RateLimitRule

	// Persistence
	DatabaseURL    string
	TenantID       string
	MigrationsPath string

	// Strategy Manager
	StrategyPollInterval time.Duration

	// Event bus (optional fan-out)
	AMQPUrl      string
	AMQPExchange string

	// Test-network helper
	FaucetURL string

	// HTTP transport
	HTTPAddr             string
	HTTPRateLimitPerSecond float64
	HTTPRateLimitBurst     int
}

// Load builds a Config from the process environment and an optional
// YAML policy file. It never re-reads the environment after
// returning.
func Load() (*Config, error) {
	cfg := &Config{
		ChainEndpoints:       splitCSV(getenv("VAULTCORE_RPC_ENDPOINTS", "https://ethereum-sepolia.publicnode.com")),
		ChainCallTimeout:     durationOrDefault("VAULTCORE_CHAIN_TIMEOUT_SECONDS", DefaultChainCallTimeout),
		FeePercentile:        intOrDefault("VAULTCORE_FEE_PERCENTILE", DefaultFeePercentile),
		ReceiptTimeout:       durationOrDefault("VAULTCORE_RECEIPT_TIMEOUT_SECONDS", DefaultReceiptTimeout),
		MasterSecret:         os.Getenv("VAULTCORE_MASTER_SECRET"),
		SecretSidecarPath:    getenv("VAULTCORE_SECRET_SIDECAR", "vaultcore_master.secret"),
		AllowPlaintextExport: os.Getenv("VAULTCORE_ALLOW_PLAINTEXT_EXPORT") == "1",
		PlaintextExportCode:  os.Getenv("VAULTCORE_EXPORT_CODE"),
		SpendThresholdWei:    os.Getenv("VAULTCORE_SPEND_THRESHOLD_WEI"),
		ConfirmationCode:     os.Getenv("VAULTCORE_TX_CONFIRM_CODE"),
		DatabaseURL:          getenv("VAULTCORE_DATABASE_URL", "host=localhost user=vaultcore dbname=vaultcore sslmode=disable"),
		TenantID:             getenv("VAULTCORE_TENANT_ID", "default"),
		MigrationsPath:       os.Getenv("VAULTCORE_MIGRATIONS_PATH"),
		StrategyPollInterval: durationOrDefault("VAULTCORE_STRATEGY_POLL_SECONDS", 15*time.Second),
		AMQPUrl:              os.Getenv("VAULTCORE_AMQP_URL"),
		AMQPExchange:         getenv("VAULTCORE_AMQP_EXCHANGE", "vaultcore.events"),
		FaucetURL:            os.Getenv("VAULTCORE_FAUCET_URL"),
		HTTPAddr:             getenv("VAULTCORE_HTTP_ADDR", ":8080"),
		HTTPRateLimitPerSecond: floatOrDefault("VAULTCORE_HTTP_RATE_LIMIT_PER_SECOND", 20),
		HTTPRateLimitBurst:     intOrDefault("VAULTCORE_HTTP_RATE_LIMIT_BURST", 40),
		DefaultRateLimit:     RateLimitRule{MaxCalls: DefaultRateLimitCalls, Window: DefaultRateLimitWindow},
		ToolRateLimits:       map[string]RateLimitRule{},
		AgentToolRateLimits:  map[string]map[string]RateLimitRule{},
	}

	if v := os.Getenv("VAULTCORE_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid VAULTCORE_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	} else {
		cfg.ChainID = 11155111 // sepolia
	}

	policyPath := getenv("VAULTCORE_POLICY_PATH", "vaultcore_policy.yml")
	if data, err := os.ReadFile(policyPath); err == nil {
		var pf PolicyFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("parsing policy file %s: %w", policyPath, err)
		}
		if pf.RateLimits.Default.MaxCalls > 0 {
			cfg.DefaultRateLimit = normalizeRule(pf.RateLimits.Default)
		}
		for tool, rule := range pf.RateLimits.Tools {
			cfg.ToolRateLimits[tool] = normalizeRule(rule)
		}
		for agent, tools := range pf.RateLimits.Agents {
			m := map[string]RateLimitRule{}
			for tool, rule := range tools {
				m[tool] = normalizeRule(rule)
			}
			cfg.AgentToolRateLimits[agent] = m
		}
	}

	return cfg, nil
}

// RuleFor resolves the most specific rate-limit rule for a
// (tool, agent) pair: per-agent-and-tool wins over per-tool wins over
// default.
func (c *Config) RuleFor(tool, agentID string) RateLimitRule {
	if agentID != "" {
		if tools, ok := c.AgentToolRateLimits[agentID]; ok {
			if rule, ok := tools[tool]; ok {
				return rule
			}
		}
	}
	if rule, ok := c.ToolRateLimits[tool]; ok {
		return rule
	}
	return c.DefaultRateLimit
}

func normalizeRule(r RateLimitRule) RateLimitRule {
	if r.WindowSeconds > 0 {
		r.Window = time.Duration(r.WindowSeconds) * time.Second
	}
	if r.Window == 0 {
		r.Window = DefaultRateLimitWindow
	}
	if r.MaxCalls == 0 {
		r.MaxCalls = DefaultRateLimitCalls
	}
	return r
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
