package policy

import (
	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/signals"
	"github.com/triage-ai/replyguard/internal/verify"
)

// Outcome is the final decision for one message.
type Outcome int

const (
	OutcomeDeliver Outcome = iota + 1
	OutcomeRefuse
	OutcomeEscalate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeliver:
		return "DELIVER"
	case OutcomeRefuse:
		return "REFUSE"
	case OutcomeEscalate:
		return "ESCALATE"
	default:
		return "UNSPECIFIED"
	}
}

// Input is everything the engine decides on. Loop is zero when the
// verification loop did not run.
type Input struct {
	PreCheck         precheck.Verdict
	PreCheckSeverity signals.Severity
	Loop             verify.Outcome
	Severity         signals.Severity // max of pre-check and verifier severity
	AgeBand          string
}

// Decision is the engine's output. Rule names the table row that matched.
type Decision struct {
	Outcome  Outcome
	Severity signals.Severity
	Rule     string
}

// Rule is one row of the ordered decision table.
type Rule struct {
	Name string
	// Match returns the outcome and true when the row applies.
	Match func(in Input, cfg *Config) (Outcome, bool)
}

const RuleFailClosedDefault = "fail_closed_default"

// DefaultRules returns the built-in decision table. The first matching row
// wins.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "precheck_critical_bypass",
			Match: func(in Input, cfg *Config) (Outcome, bool) {
				if in.PreCheck != precheck.VerdictUnsafe || in.PreCheckSeverity != signals.SeverityCritical {
					return 0, false
				}
				if cfg.EscalateCritical {
					return OutcomeEscalate, true
				}
				return OutcomeRefuse, true
			},
		},
		{
			Name: "precheck_unsafe",
			Match: func(in Input, _ *Config) (Outcome, bool) {
				return OutcomeRefuse, in.PreCheck == precheck.VerdictUnsafe
			},
		},
		{
			Name: "verified_pass",
			Match: func(in Input, _ *Config) (Outcome, bool) {
				return OutcomeDeliver, in.Loop == verify.OutcomePass
			},
		},
		{
			Name: "fail_closed_errors",
			Match: func(in Input, _ *Config) (Outcome, bool) {
				return OutcomeEscalate, in.Loop == verify.OutcomeFailClosed || in.Loop == verify.OutcomeCancelled
			},
		},
		{
			Name: "exhausted_escalate",
			Match: func(in Input, cfg *Config) (Outcome, bool) {
				return OutcomeEscalate, unresolved(in.Loop) && in.Severity >= cfg.EscalateMin()
			},
		},
		{
			Name: "minor_session_escalate",
			Match: func(in Input, cfg *Config) (Outcome, bool) {
				return OutcomeEscalate, unresolved(in.Loop) && cfg.IsMinor(in.AgeBand)
			},
		},
		{
			Name: RuleFailClosedDefault,
			Match: func(Input, *Config) (Outcome, bool) {
				return OutcomeRefuse, true
			},
		},
	}
}

func unresolved(o verify.Outcome) bool {
	return o == verify.OutcomeExhausted || o == verify.OutcomeError
}

// Engine applies the decision table. It is pure and safe for concurrent use.
type Engine struct {
	cfg   Config
	rules []Rule
}

// NewEngine validates cfg and builds an engine over the default table.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, rules: DefaultRules()}, nil
}

// Config returns the engine's policy configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Decide returns the first matching row's outcome. Nothing is auto-delivered:
// without a verified PASS the result is REFUSE or ESCALATE.
func (e *Engine) Decide(in Input) Decision {
	sev := signals.MaxSeverity(in.Severity, in.PreCheckSeverity)
	in.Severity = sev
	for _, r := range e.rules {
		if out, ok := r.Match(in, &e.cfg); ok {
			return Decision{Outcome: out, Severity: sev, Rule: r.Name}
		}
	}
	return Decision{Outcome: OutcomeRefuse, Severity: sev, Rule: RuleFailClosedDefault}
}

// Text returns the user-facing reply for a non-delivered outcome.
func (e *Engine) Text(o Outcome) string {
	switch o {
	case OutcomeEscalate:
		return e.cfg.Texts.Hold
	case OutcomeRefuse:
		return e.cfg.Texts.Refusal
	default:
		return ""
	}
}

// ShouldNotify reports whether a decision goes to the escalation channel.
func (e *Engine) ShouldNotify(d Decision) bool {
	return d.Outcome == OutcomeEscalate || d.Severity >= signals.SeverityHigh
}
