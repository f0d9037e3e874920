// Package config provides configuration loading for briefd.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, BUDGET_RUN_CEILING_USD, etc.)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables use underscore separator and are uppercased.
// The transformer maps them to YAML field names:
//
//	SERVER_PORT             -> server.port
//	BUDGET_RUN_CEILING_USD  -> budget.run_ceiling_usd
//	DEBATE_MAX_ROUNDS       -> debate.max_rounds
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	// Override with environment variables.
	// Strategy: split on first underscore only (section.field_name pattern).
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// tierNames in downgrade order, most capable first.
var tierNames = []string{"frontier", "high", "standard", "fast"}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "briefd"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Routing.DefaultTier == "" {
		cfg.Routing.DefaultTier = "standard"
	}
	if cfg.Routing.MaxAttempts == 0 {
		cfg.Routing.MaxAttempts = 3
	}
	if cfg.Routing.InitialBackoff == 0 {
		cfg.Routing.InitialBackoff = Duration(time.Second)
	}
	if cfg.Routing.MaxBackoff == 0 {
		cfg.Routing.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Routing.Tiers == nil {
		cfg.Routing.Tiers = map[string]TierConfig{
			"frontier": {InputPer1K: 0.015, OutputPer1K: 0.075},
			"high":     {InputPer1K: 0.003, OutputPer1K: 0.015},
			"standard": {InputPer1K: 0.001, OutputPer1K: 0.005},
			"fast":     {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		}
	}

	if cfg.Budget.RunCeilingUSD == 0 {
		cfg.Budget.RunCeilingUSD = 10.0
	}
	if cfg.Budget.DailyCeilingUSD == 0 {
		cfg.Budget.DailyCeilingUSD = 100.0
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(time.Hour)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}

	if cfg.Passes == nil {
		cfg.Passes = map[string]PassTuning{}
	}
	for name, tuning := range cfg.Passes {
		if tuning.GateThreshold == 0 {
			tuning.GateThreshold = 0.80
		}
		if tuning.WallClock == 0 {
			tuning.WallClock = Duration(10 * time.Minute)
		}
		if tuning.CritiqueThreshold == 0 {
			tuning.CritiqueThreshold = 0.5
		}
		if tuning.RevisionCap == 0 {
			tuning.RevisionCap = 2
		}
		cfg.Passes[name] = tuning
	}

	if cfg.Debate.MaxRounds == 0 {
		cfg.Debate.MaxRounds = 3
	}
	if cfg.Debate.ConcedeConfidence == 0 {
		cfg.Debate.ConcedeConfidence = 0.8
	}
	if cfg.Debate.TriggerBand == 0 {
		cfg.Debate.TriggerBand = 0.10
	}

	if cfg.Escalation.Deadlines == nil {
		cfg.Escalation.Deadlines = map[string]Duration{
			"critical": Duration(4 * time.Hour),
			"high":     Duration(24 * time.Hour),
			"medium":   Duration(72 * time.Hour),
			"low":      Duration(7 * 24 * time.Hour),
		}
	}

	if cfg.Verify.Timeout == 0 {
		cfg.Verify.Timeout = Duration(30 * time.Second)
	}

	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if !validTier(c.Routing.DefaultTier) {
		return fmt.Errorf("unknown default tier: %q", c.Routing.DefaultTier)
	}
	for task, tier := range c.Routing.TaskTiers {
		if !validTier(tier) {
			return fmt.Errorf("task %q maps to unknown tier %q", task, tier)
		}
	}
	for name := range c.Routing.Tiers {
		if !validTier(name) {
			return fmt.Errorf("price table names unknown tier %q", name)
		}
	}

	if c.Budget.RunCeilingUSD <= 0 {
		return fmt.Errorf("run ceiling must be > 0")
	}
	if c.Budget.DailyCeilingUSD < c.Budget.RunCeilingUSD {
		return fmt.Errorf("daily ceiling %.2f below run ceiling %.2f", c.Budget.DailyCeilingUSD, c.Budget.RunCeilingUSD)
	}

	for name, tuning := range c.Passes {
		if tuning.GateThreshold < 0 || tuning.GateThreshold > 1 {
			return fmt.Errorf("pass %q gate threshold out of [0,1]: %f", name, tuning.GateThreshold)
		}
		if tuning.MaxRetries < 0 {
			return fmt.Errorf("pass %q max retries must be >= 0", name)
		}
	}

	if c.Debate.MaxRounds < 1 {
		return fmt.Errorf("debate max rounds must be >= 1")
	}
	if c.Debate.ConcedeConfidence <= 0 || c.Debate.ConcedeConfidence > 1 {
		return fmt.Errorf("concede confidence out of (0,1]: %f", c.Debate.ConcedeConfidence)
	}

	for _, trigger := range c.Escalation.Triggers {
		switch trigger.Severity {
		case "critical", "high", "medium", "low":
		default:
			return fmt.Errorf("trigger %q has unknown severity %q", trigger.Name, trigger.Severity)
		}
		switch trigger.Kind {
		case "min_score", "keyword", "zone_count", "domain", "flag":
		default:
			return fmt.Errorf("trigger %q has unknown kind %q", trigger.Name, trigger.Kind)
		}
	}

	for name, provider := range c.Providers {
		switch provider.Type {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("provider %q has unknown type %q", name, provider.Type)
		}
	}

	if c.Routing.DefaultProvider != "" {
		if _, ok := c.Providers[c.Routing.DefaultProvider]; !ok {
			return fmt.Errorf("default provider %q is not registered", c.Routing.DefaultProvider)
		}
	}
	if c.Routing.FallbackProvider != "" {
		if _, ok := c.Providers[c.Routing.FallbackProvider]; !ok {
			return fmt.Errorf("fallback provider %q is not registered", c.Routing.FallbackProvider)
		}
	}

	return nil
}

func validTier(name string) bool {
	for _, t := range tierNames {
		if t == name {
			return true
		}
	}
	return false
}
