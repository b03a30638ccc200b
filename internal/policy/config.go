package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/signals"
	"github.com/triage-ai/replyguard/internal/verify"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the single home of every policy threshold. Orchestration code
// reads thresholds from here and never hardcodes them.
type Config struct {
	Version string `yaml:"version"`

	// Verification loop
	RoundBudget          int         `yaml:"round_budget"`
	MaxConsecutiveErrors int         `yaml:"max_consecutive_errors"`
	RetriesPerRound      int         `yaml:"retries_per_round"`
	MessageTimeout       Duration    `yaml:"message_timeout"`
	CallTimeout          Duration    `yaml:"call_timeout"`
	Retry                RetryConfig `yaml:"retry"`

	// Pre-check
	ToxicityCutoff        float32 `yaml:"toxicity_cutoff"`
	PatternHighConfidence float32 `yaml:"pattern_high_confidence"`
	PatternMedConfidence  float32 `yaml:"pattern_med_confidence"`

	// Decision table
	EscalateMinSeverity string   `yaml:"escalate_min_severity"`
	EscalateCritical    bool     `yaml:"escalate_critical"`
	MinorAgeBands       []string `yaml:"minor_age_bands"`
	NotifyTimeout       Duration `yaml:"notify_timeout"` // bound on each escalation delivery

	Model     ModelLimits     `yaml:"model"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Texts     Texts           `yaml:"texts"`
}

// RetryConfig is the exponential backoff schedule for transient model errors.
type RetryConfig struct {
	BaseDelay  Duration `yaml:"base_delay"`
	Multiplier float64  `yaml:"multiplier"`
	Jitter     float64  `yaml:"jitter"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// ModelLimits bounds outbound model calls across all sessions.
type ModelLimits struct {
	MaxConcurrent int64   `yaml:"max_concurrent"`
	PerSecond     float64 `yaml:"per_second"` // 0 = unpaced
	Burst         int     `yaml:"burst"`
}

// SessionConfig controls the per-session queues.
type SessionConfig struct {
	IdleTimeout     Duration `yaml:"idle_timeout"`
	QueueDepth      int      `yaml:"queue_depth"`
	JanitorInterval Duration `yaml:"janitor_interval"`
}

// TelemetryConfig controls aggregation buckets and pseudonym rotation.
type TelemetryConfig struct {
	TimeBucket    Duration `yaml:"time_bucket"`
	EpochLength   Duration `yaml:"epoch_length"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// Texts are the user-facing replies for non-delivered outcomes.
type Texts struct {
	Refusal string `yaml:"refusal"`
	Hold    string `yaml:"hold"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() Config {
	vc := verify.DefaultConfig()
	pc := precheck.DefaultConfig()
	return Config{
		Version:              "1",
		RoundBudget:          vc.RoundBudget,
		MaxConsecutiveErrors: vc.MaxConsecutiveErrors,
		RetriesPerRound:      vc.RetriesPerRound,
		MessageTimeout:       Duration(30 * time.Second),
		CallTimeout:          Duration(vc.CallTimeout),
		Retry: RetryConfig{
			BaseDelay:  Duration(vc.Backoff.Base),
			Multiplier: vc.Backoff.Multiplier,
			Jitter:     vc.Backoff.Jitter,
			MaxDelay:   Duration(vc.Backoff.Max),
		},
		ToxicityCutoff:        pc.ToxicityCutoff,
		PatternHighConfidence: pc.PatternHighConfidence,
		PatternMedConfidence:  pc.PatternMedConfidence,
		EscalateMinSeverity:   signals.SeverityMed.String(),
		EscalateCritical:      false,
		MinorAgeBands:         []string{"under_13", "13_17"},
		NotifyTimeout:         Duration(5 * time.Second),
		Model: ModelLimits{
			MaxConcurrent: 16,
			PerSecond:     0,
			Burst:         1,
		},
		Sessions: SessionConfig{
			IdleTimeout:     Duration(15 * time.Minute),
			QueueDepth:      32,
			JanitorInterval: Duration(time.Minute),
		},
		Telemetry: TelemetryConfig{
			TimeBucket:    Duration(time.Hour),
			EpochLength:   Duration(24 * time.Hour),
			FlushInterval: Duration(time.Minute),
		},
		Texts: Texts{
			Refusal: "Sorry, I can't help with that request. / عذراً، لا يمكنني المساعدة في هذا الطلب.",
			Hold:    "Your message has been passed to a reviewer. / تم تحويل رسالتك إلى مراجع.",
		},
	}
}

// ConfigurationError reports a malformed policy. It is fatal at startup and
// never raised per message.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "policy configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks every threshold and returns a *ConfigurationError listing
// all problems, or nil.
func (c Config) Validate() error {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if c.RoundBudget < 1 {
		add("round_budget must be >= 1, got %d", c.RoundBudget)
	}
	if c.MaxConsecutiveErrors < 1 {
		add("max_consecutive_errors must be >= 1, got %d", c.MaxConsecutiveErrors)
	}
	if c.RetriesPerRound < 0 {
		add("retries_per_round must be >= 0, got %d", c.RetriesPerRound)
	}
	if c.MessageTimeout <= 0 {
		add("message_timeout must be positive")
	}
	if c.CallTimeout < 0 {
		add("call_timeout must not be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		add("retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		add("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		add("retry.jitter must be within [0,1], got %g", c.Retry.Jitter)
	}
	for name, v := range map[string]float32{
		"toxicity_cutoff":         c.ToxicityCutoff,
		"pattern_high_confidence": c.PatternHighConfidence,
		"pattern_med_confidence":  c.PatternMedConfidence,
	} {
		if v <= 0 || v > 1 {
			add("%s must be within (0,1], got %g", name, v)
		}
	}
	if c.PatternMedConfidence > c.PatternHighConfidence {
		add("pattern_med_confidence must not exceed pattern_high_confidence")
	}
	if _, ok := signals.ParseSeverity(c.EscalateMinSeverity); !ok {
		add("escalate_min_severity %q is not one of LOW, MED, HIGH, CRITICAL", c.EscalateMinSeverity)
	}
	if c.NotifyTimeout <= 0 {
		add("notify_timeout must be positive")
	}
	if c.Model.MaxConcurrent < 1 {
		add("model.max_concurrent must be >= 1, got %d", c.Model.MaxConcurrent)
	}
	if c.Model.PerSecond < 0 {
		add("model.per_second must not be negative")
	}
	if c.Sessions.QueueDepth < 1 {
		add("sessions.queue_depth must be >= 1, got %d", c.Sessions.QueueDepth)
	}
	if c.Sessions.IdleTimeout <= 0 {
		add("sessions.idle_timeout must be positive")
	}
	if c.Telemetry.TimeBucket <= 0 || c.Telemetry.EpochLength <= 0 {
		add("telemetry.time_bucket and telemetry.epoch_length must be positive")
	}
	if strings.TrimSpace(c.Texts.Refusal) == "" || strings.TrimSpace(c.Texts.Hold) == "" {
		add("texts.refusal and texts.hold are required")
	}

	if len(p) > 0 {
		return &ConfigurationError{Problems: p}
	}
	return nil
}

// EscalateMin returns the parsed escalation threshold. Call Validate first.
func (c Config) EscalateMin() signals.Severity {
	s, ok := signals.ParseSeverity(c.EscalateMinSeverity)
	if !ok {
		return signals.SeverityMed
	}
	return s
}

// IsMinor reports whether an age band gets the minor-session rules.
func (c Config) IsMinor(ageBand string) bool {
	for _, b := range c.MinorAgeBands {
		if strings.EqualFold(b, ageBand) {
			return true
		}
	}
	return false
}

// PreCheck returns the pre-check thresholds.
func (c Config) PreCheck() precheck.Config {
	return precheck.Config{
		ToxicityCutoff:        c.ToxicityCutoff,
		PatternHighConfidence: c.PatternHighConfidence,
		PatternMedConfidence:  c.PatternMedConfidence,
	}
}

// Verify returns the verification loop settings.
func (c Config) Verify() verify.Config {
	return verify.Config{
		RoundBudget:          c.RoundBudget,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		RetriesPerRound:      c.RetriesPerRound,
		CallTimeout:          time.Duration(c.CallTimeout),
		Backoff: verify.Backoff{
			Base:       time.Duration(c.Retry.BaseDelay),
			Multiplier: c.Retry.Multiplier,
			Jitter:     c.Retry.Jitter,
			Max:        time.Duration(c.Retry.MaxDelay),
		},
	}
}

// LoadConfig reads a YAML policy file over the defaults and validates it.
// A missing file yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("LoadConfig: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigurationError{Problems: []string{"yaml: " + err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
