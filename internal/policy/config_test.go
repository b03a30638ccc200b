package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultConfig_Thresholds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RoundBudget != 2 {
		t.Errorf("round budget = %d, want 2", cfg.RoundBudget)
	}
	if cfg.ToxicityCutoff != 0.7 {
		t.Errorf("toxicity cutoff = %v, want 0.7", cfg.ToxicityCutoff)
	}
	if cfg.EscalateMin().String() != "MED" {
		t.Errorf("escalate min = %v, want MED", cfg.EscalateMin())
	}
	if time.Duration(cfg.NotifyTimeout) != 5*time.Second {
		t.Errorf("notify timeout = %v, want 5s", time.Duration(cfg.NotifyTimeout))
	}
	if !cfg.IsMinor("UNDER_13") || cfg.IsMinor("adult") {
		t.Error("minor age band matching wrong")
	}
}

func TestParseConfig_OverridesDefaults(t *testing.T) {
	data := []byte(`
round_budget: 3
message_timeout: 5s
notify_timeout: 2s
toxicity_cutoff: 0.8
escalate_min_severity: HIGH
retry:
  base_delay: 50ms
  multiplier: 3
texts:
  refusal: "no"
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.RoundBudget != 3 {
		t.Errorf("round budget = %d", cfg.RoundBudget)
	}
	if time.Duration(cfg.MessageTimeout) != 5*time.Second {
		t.Errorf("message timeout = %v", time.Duration(cfg.MessageTimeout))
	}
	if time.Duration(cfg.NotifyTimeout) != 2*time.Second {
		t.Errorf("notify timeout = %v", time.Duration(cfg.NotifyTimeout))
	}
	if cfg.Texts.Refusal != "no" {
		t.Errorf("refusal = %q", cfg.Texts.Refusal)
	}
	if cfg.Texts.Hold == "" {
		t.Error("unset hold text should keep its default")
	}

	vc := cfg.Verify()
	if vc.RoundBudget != 3 || vc.Backoff.Base != 50*time.Millisecond || vc.Backoff.Multiplier != 3 {
		t.Errorf("verify config not derived: %+v", vc)
	}
	if pc := cfg.PreCheck(); pc.ToxicityCutoff != 0.8 {
		t.Errorf("precheck cutoff = %v", pc.ToxicityCutoff)
	}
}

func TestParseConfig_InvalidIsConfigurationError(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero budget", "round_budget: 0", "round_budget"},
		{"bad severity", "escalate_min_severity: SEVERE", "escalate_min_severity"},
		{"cutoff out of range", "toxicity_cutoff: 1.5", "toxicity_cutoff"},
		{"med above high", "pattern_med_confidence: 0.95\npattern_high_confidence: 0.9", "pattern_med_confidence"},
		{"bad duration", "message_timeout: soon", "yaml"},
		{"empty hold", "texts:\n  hold: \"  \"", "texts"},
		{"zero notify timeout", "notify_timeout: 0s", "notify_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigurationError, got %v", err)
			}
			if !strings.Contains(ce.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", ce.Error(), tt.want)
			}
		})
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RoundBudget != DefaultConfig().RoundBudget {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("escalate_critical: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.EscalateCritical {
		t.Error("escalate_critical not read")
	}
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions.QueueDepth = 0
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected error for zero queue depth")
	}
}
