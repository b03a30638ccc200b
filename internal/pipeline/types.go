package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/triage-ai/replyguard/internal/policy"
	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/signals"
	"github.com/triage-ai/replyguard/internal/telemetry"
	"github.com/triage-ai/replyguard/internal/verify"
)

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("pipeline: orchestrator is shut down")

// RuleInternalError names the decision made when processing panicked or
// the verification loop refused the request.
const RuleInternalError = "internal_error"

// InboundMessage is one user turn. Text lives only for the pipeline's
// lifetime and is never logged or persisted.
type InboundMessage struct {
	SessionID string
	Text      string
	AgeBand   string // optional coarse range, e.g. "under_13", "13_17", "adult"
	ArrivedAt time.Time
}

// Outcome is the terminal result handed back upstream.
type Outcome struct {
	Decision policy.Outcome
	Text     string // the verified reply, or the refusal / hold text
	TraceID  string
	Severity signals.Severity
	Rule     string
	Mixture  string
	PreCheck precheck.Verdict
	Loop     verify.Outcome
	Attempts int
	States   []State
	Latency  time.Duration
}

// Telemetry receives exactly one record per message.
type Telemetry interface {
	Emit(r telemetry.Record)
	Flush() []telemetry.Count
}

// job is one accepted message moving through a session queue.
type job struct {
	ctx     context.Context // the caller's context
	msg     InboundMessage
	traceID string
	result  chan Outcome // buffered, receives exactly one value
	once    sync.Once

	pre atomic.Pointer[precheck.Result] // set once the pre-check has run
}
