package precheck

import (
	"strings"

	"github.com/triage-ai/replyguard/internal/signals"
)

// Verdict is the pre-check stage's local, model-free verdict.
type Verdict int

const (
	VerdictSafe Verdict = iota + 1
	VerdictUnsafe
	VerdictInconclusive
)

// String returns the upper-case verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "SAFE"
	case VerdictUnsafe:
		return "UNSAFE"
	case VerdictInconclusive:
		return "INCONCLUSIVE"
	default:
		return "UNSPECIFIED"
	}
}

// Config holds the pre-check thresholds. Values are supplied by the policy
// configuration; DefaultConfig mirrors its defaults.
type Config struct {
	ToxicityCutoff        float32 // lexicon confidence >= this → UNSAFE, below → INCONCLUSIVE
	PatternHighConfidence float32 // jailbreak/obfuscation confidence >= this → HIGH
	PatternMedConfidence  float32 // >= this → MED, below → LOW
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		ToxicityCutoff:        0.7,
		PatternHighConfidence: 0.9,
		PatternMedConfidence:  0.75,
	}
}

// Result is the immutable output of the pre-check stage.
type Result struct {
	Verdict    Verdict
	Severity   signals.Severity
	Rule       string
	Categories []signals.Category
	Confidence float32
	Findings   []signals.Finding
	Mixture    string
}

// Bypass reports whether the result must skip the verification loop entirely.
func (r Result) Bypass() bool {
	return r.Verdict == VerdictUnsafe && r.Severity == signals.SeverityCritical
}

// CategoryNames returns the matched categories as strings.
func (r Result) CategoryNames() []string {
	out := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		out[i] = c.String()
	}
	return out
}

// Stage runs the signal extractors and evaluates the rule table.
type Stage struct {
	extractors []signals.Extractor
	rules      []Rule
	cfg        Config
}

// NewStage creates a stage. A nil extractor list uses signals.DefaultExtractors.
func NewStage(cfg Config, extractors []signals.Extractor) *Stage {
	if extractors == nil {
		extractors = signals.DefaultExtractors()
	}
	return &Stage{
		extractors: extractors,
		rules:      DefaultRules(),
		cfg:        cfg,
	}
}

// Check extracts signals from text and returns the verdict.
func (s *Stage) Check(text string) Result {
	set := signals.Extract(text, s.extractors...)
	return Evaluate(set, s.rules, s.cfg)
}

// Evaluate applies rules to a signal set. Every matching rule is a candidate;
// the highest severity wins and equal severities go to the earlier rule.
func Evaluate(set signals.Set, rules []Rule, cfg Config) Result {
	var (
		best     *Rule
		bestSev  signals.Severity
		bestConf float32
	)
	for i := range rules {
		r := &rules[i]
		sev, conf, ok := r.Match(set, cfg)
		if !ok {
			continue
		}
		if best == nil || sev > bestSev {
			best, bestSev, bestConf = r, sev, conf
		}
	}

	res := Result{
		Categories: set.Categories(),
		Findings:   set.Findings,
		Mixture:    set.MixtureBucket(),
	}
	if best == nil {
		// Unreachable with DefaultRules (no_signal always matches); a custom
		// table without a catch-all resolves toward the verification loop.
		res.Verdict = VerdictInconclusive
		res.Severity = signals.SeverityMed
		res.Rule = "no_rule_matched"
		return res
	}
	res.Verdict = best.Verdict
	res.Severity = bestSev
	res.Rule = best.Name
	res.Confidence = bestConf
	return res
}

// Summary is a compact, text-free description for logs.
func (r Result) Summary() string {
	return r.Verdict.String() + "/" + r.Severity.String() + " rule=" + r.Rule +
		" categories=" + strings.Join(r.CategoryNames(), ",")
}
