package verify

import (
	"context"
	"time"

	"github.com/triage-ai/replyguard/internal/signals"
)

// JudgmentVerdict is the verifier's judgment of one candidate.
type JudgmentVerdict int

const (
	JudgmentPass JudgmentVerdict = iota + 1
	JudgmentFail
	JudgmentError
)

func (j JudgmentVerdict) String() string {
	switch j {
	case JudgmentPass:
		return "PASS"
	case JudgmentFail:
		return "FAIL"
	case JudgmentError:
		return "ERROR"
	default:
		return "UNSPECIFIED"
	}
}

// Judgment is what a verification call returns. Verdict is PASS or FAIL; any
// other value is treated as FAIL. Severity is optional (zero = unspecified).
type Judgment struct {
	Verdict  JudgmentVerdict
	Severity signals.Severity
	Reason   string
}

// SessionContext is the conversational context passed to generation. It
// carries no real identifiers.
type SessionContext struct {
	TraceID string
	AgeBand string
	Mixture string
}

// PolicyContext tells the verifier what to judge the candidate against.
type PolicyContext struct {
	Prompt          string
	PreCheckVerdict string
	Categories      []string
	AgeBand         string
	Mixture         string
}

// Collaborator is the external language model. Both calls are fallible and
// non-deterministic; the loop never assumes identical output for identical
// input.
type Collaborator interface {
	Generate(ctx context.Context, session SessionContext, prompt string) (string, error)
	Verify(ctx context.Context, candidate string, policy PolicyContext) (Judgment, error)
}

// Attempt is one completed verification round. Attempts are appended whole and
// never modified afterwards.
type Attempt struct {
	Round     int
	Candidate string
	Judgment  JudgmentVerdict
	Severity  signals.Severity
	Reason    string
	Latency   time.Duration
	Tries     int // transport calls made in this round, retries included
}

// Outcome is how the loop ended.
type Outcome int

const (
	OutcomePass       Outcome = iota + 1 // a candidate was judged PASS
	OutcomeExhausted                     // round budget spent without PASS
	OutcomeFailClosed                    // consecutive ERROR rounds
	OutcomeError                         // permanent collaborator error
	OutcomeCancelled                     // message context ended
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "PASS"
	case OutcomeExhausted:
		return "EXHAUSTED"
	case OutcomeFailClosed:
		return "FAIL_CLOSED"
	case OutcomeError:
		return "ERROR"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return "NOT_RUN"
	}
}

// Result is the ordered attempt sequence plus the loop outcome.
type Result struct {
	Outcome   Outcome
	Attempts  []Attempt
	Candidate string           // the passing candidate, when Outcome == OutcomePass
	Severity  signals.Severity // highest severity reported by the verifier
}
