package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that should be redacted in logs and serialization.
// Use Value() to access the actual secret value.
type Secret string

// String implements fmt.Stringer. Always returns redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// MarshalJSON implements json.Marshaler. Always redacts.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// Config is the complete briefd configuration, loaded once at startup
// and passed explicitly into component constructors. Nothing mutates it
// after Load returns.
type Config struct {
	Server     ServerConfig              `koanf:"server"`
	Logging    LoggingConfig             `koanf:"logging"`
	Telemetry  TelemetryConfig           `koanf:"telemetry"`
	Providers  map[string]ProviderConfig `koanf:"providers"`
	Routing    RoutingConfig             `koanf:"routing"`
	Budget     BudgetConfig              `koanf:"budget"`
	Cache      CacheConfig               `koanf:"cache"`
	Passes     map[string]PassTuning     `koanf:"passes"`
	Debate     DebateConfig              `koanf:"debate"`
	Escalation EscalationConfig          `koanf:"escalation"`
	Verify     VerifyConfig              `koanf:"verify"`
	Store      StoreConfig               `koanf:"store"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	SampleRate     float64 `koanf:"sample_rate"`
}

// ProviderConfig describes one registered generation provider.
type ProviderConfig struct {
	// Type selects the client implementation: "openai" or "anthropic".
	Type string `koanf:"type"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible servers).
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against the provider.
	APIKey Secret `koanf:"api_key"`

	// Models maps tier name to the concrete model served at that tier.
	Models map[string]string `koanf:"models"`

	// RequestsPerSecond rate-limits calls to this provider (0 = unlimited).
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// RoutingConfig holds the static task routing tables.
type RoutingConfig struct {
	// TaskTiers maps task ID to tier name. Tasks absent from the map
	// route at the default tier.
	TaskTiers map[string]string `koanf:"task_tiers"`

	// TaskProviders maps task ID to a preferred provider name.
	TaskProviders map[string]string `koanf:"task_providers"`

	// DefaultTier is used when a task has no tier mapping.
	DefaultTier string `koanf:"default_tier"`

	// DefaultProvider is the fallback preference when a task has no
	// provider mapping.
	DefaultProvider string `koanf:"default_provider"`

	// FallbackProvider is tried once when the selected provider fails
	// with a permanent error.
	FallbackProvider string `koanf:"fallback_provider"`

	// Tiers maps tier name to its price table.
	Tiers map[string]TierConfig `koanf:"tiers"`

	// MaxAttempts bounds transient-error retries per provider call.
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the first retry delay; doubles each attempt.
	InitialBackoff Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff Duration `koanf:"max_backoff"`
}

// TierConfig prices one quality tier.
type TierConfig struct {
	// InputPer1K is the USD price per 1000 input tokens.
	InputPer1K float64 `koanf:"input_per_1k"`

	// OutputPer1K is the USD price per 1000 output tokens.
	OutputPer1K float64 `koanf:"output_per_1k"`
}

// BudgetConfig bounds spend.
type BudgetConfig struct {
	// RunCeilingUSD caps a single run's cumulative cost.
	RunCeilingUSD float64 `koanf:"run_ceiling_usd"`

	// DailyCeilingUSD caps total spend per calendar day (UTC).
	DailyCeilingUSD float64 `koanf:"daily_ceiling_usd"`
}

// CacheConfig bounds the completion cache.
type CacheConfig struct {
	TTL        Duration `koanf:"ttl"`
	MaxEntries int      `koanf:"max_entries"`
}

// PassTuning is the per-pass quality and retry configuration.
type PassTuning struct {
	// GateThreshold is the minimum aggregate quality score.
	GateThreshold float64 `koanf:"gate_threshold"`

	// MaxRetries bounds whole-pass re-runs after a gate failure.
	MaxRetries int `koanf:"max_retries"`

	// WallClock is the per-pass execution ceiling.
	WallClock Duration `koanf:"wall_clock"`

	// CritiqueThreshold is the severity above which a sequential task
	// is regenerated with its critique attached.
	CritiqueThreshold float64 `koanf:"critique_threshold"`

	// RevisionCap bounds critique-driven regenerations per task.
	RevisionCap int `koanf:"revision_cap"`
}

// DebateConfig tunes the adversarial debate.
type DebateConfig struct {
	// MaxRounds bounds the exchange.
	MaxRounds int `koanf:"max_rounds"`

	// ConcedeConfidence terminates early when the challenger reports
	// confidence in the analysis above this value.
	ConcedeConfidence float64 `koanf:"concede_confidence"`

	// TriggerBand is the width above the synthesis gate threshold in
	// which a passing score is still contestable and triggers a debate.
	TriggerBand float64 `koanf:"trigger_band"`
}

// EscalationConfig configures human-review routing.
type EscalationConfig struct {
	// Triggers is the ordered rule table evaluated against run signals.
	Triggers []TriggerConfig `koanf:"triggers"`

	// Deadlines maps priority to review deadline.
	Deadlines map[string]Duration `koanf:"deadlines"`

	// SensitiveKeywords flag draft content for review when present.
	SensitiveKeywords []string `koanf:"sensitive_keywords"`

	// SensitiveDomains are topic domains that always require review.
	SensitiveDomains []string `koanf:"sensitive_domains"`
}

// TriggerConfig is one escalation rule, kept as data and evaluated by
// the escalation manager's generic matching loop.
type TriggerConfig struct {
	Name         string `koanf:"name"`
	Description  string `koanf:"description"`
	Severity     string `koanf:"severity"`
	AutoEscalate bool   `koanf:"auto_escalate"`

	// Kind selects the predicate: "min_score", "keyword", "zone_count",
	// "domain", or "flag".
	Kind string `koanf:"kind"`

	// Threshold parameterizes min_score and zone_count predicates.
	Threshold float64 `koanf:"threshold"`

	// Keywords parameterizes the keyword predicate.
	Keywords []string `koanf:"keywords"`

	// Domains parameterizes the domain predicate.
	Domains []string `koanf:"domains"`

	// Flag parameterizes the flag predicate ("debate_inconclusive",
	// "max_retries_reached", "disputed_claims").
	Flag string `koanf:"flag"`
}

// VerifyConfig points at the external retrieval and claim-check services.
type VerifyConfig struct {
	RetrievalURL  string   `koanf:"retrieval_url"`
	ClaimCheckURL string   `koanf:"claim_check_url"`
	Timeout       Duration `koanf:"timeout"`
}

// StoreConfig locates durable run state.
type StoreConfig struct {
	DataDir string `koanf:"data_dir"`
}
