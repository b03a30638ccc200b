package precheck

import (
	"github.com/triage-ai/replyguard/internal/signals"
)

// Rule is one row of the pre-check table: a predicate over the signal set,
// the verdict it produces, and the severity/confidence of the match.
type Rule struct {
	Name    string
	Verdict Verdict
	Match   func(set signals.Set, cfg Config) (signals.Severity, float32, bool)
}

// DefaultRules returns the rule table in declaration (priority) order, most
// specific first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "pii_match",
			Verdict: VerdictUnsafe,
			Match: func(set signals.Set, _ Config) (signals.Severity, float32, bool) {
				if !set.Has(signals.CategoryPII) {
					return 0, 0, false
				}
				return signals.SeverityCritical, set.MaxConfidence(signals.CategoryPII), true
			},
		},
		{
			Name:    "jailbreak_pattern",
			Verdict: VerdictUnsafe,
			Match: func(set signals.Set, cfg Config) (signals.Severity, float32, bool) {
				conf := set.MaxConfidence(signals.CategoryJailbreak)
				if conf == 0 {
					return 0, 0, false
				}
				return patternSeverity(conf, cfg), conf, true
			},
		},
		{
			Name:    "code_switch_obfuscation",
			Verdict: VerdictUnsafe,
			Match: func(set signals.Set, cfg Config) (signals.Severity, float32, bool) {
				conf := set.MaxConfidence(signals.CategoryCodeSwitchObfuscation)
				if conf == 0 {
					return 0, 0, false
				}
				// Deliberate disguise is never rated below MED.
				return signals.MaxSeverity(signals.SeverityMed, patternSeverity(conf, cfg)), conf, true
			},
		},
		{
			Name:    "toxicity_high",
			Verdict: VerdictUnsafe,
			Match: func(set signals.Set, cfg Config) (signals.Severity, float32, bool) {
				conf := set.MaxConfidence(signals.CategoryToxicity)
				if conf == 0 || conf < cfg.ToxicityCutoff {
					return 0, 0, false
				}
				return signals.SeverityHigh, conf, true
			},
		},
		{
			Name:    "toxicity_low",
			Verdict: VerdictInconclusive,
			Match: func(set signals.Set, cfg Config) (signals.Severity, float32, bool) {
				conf := set.MaxConfidence(signals.CategoryToxicity)
				if conf == 0 || conf >= cfg.ToxicityCutoff {
					return 0, 0, false
				}
				return signals.SeverityMed, conf, true
			},
		},
		{
			Name:    "decode_error",
			Verdict: VerdictInconclusive,
			Match: func(set signals.Set, _ Config) (signals.Severity, float32, bool) {
				if !set.Has(signals.CategoryDecodeError) {
					return 0, 0, false
				}
				return signals.SeverityMed, 1.0, true
			},
		},
		{
			Name:    "no_signal",
			Verdict: VerdictSafe,
			Match: func(signals.Set, Config) (signals.Severity, float32, bool) {
				return signals.SeverityLow, 1.0, true
			},
		},
	}
}

func patternSeverity(conf float32, cfg Config) signals.Severity {
	switch {
	case conf >= cfg.PatternHighConfidence:
		return signals.SeverityHigh
	case conf >= cfg.PatternMedConfidence:
		return signals.SeverityMed
	default:
		return signals.SeverityLow
	}
}
