package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/signals"
	"go.uber.org/zap"
)

// Config controls the loop's round budget and retry policy.
type Config struct {
	RoundBudget          int           // max rounds per message (default 2)
	MaxConsecutiveErrors int           // ERROR rounds in a row that force fail-closed (default 2)
	RetriesPerRound      int           // transient retries allowed per round (default 1)
	CallTimeout          time.Duration // per model call; 0 = bounded only by the message context
	Backoff              Backoff
}

// DefaultConfig returns the built-in loop settings.
func DefaultConfig() Config {
	return Config{
		RoundBudget:          2,
		MaxConsecutiveErrors: 2,
		RetriesPerRound:      1,
		CallTimeout:          10 * time.Second,
		Backoff:              DefaultBackoff(),
	}
}

// Request is the input to one loop run.
type Request struct {
	Prompt   string
	Session  SessionContext
	PreCheck precheck.Result
}

// Loop drives propose-then-verify rounds against the model collaborator.
type Loop struct {
	collab  Collaborator
	limiter *Limiter
	cfg     Config
	logger  *zap.Logger
	rnd     func() float64
}

// NewLoop creates a loop. limiter may be nil (no global limit).
func NewLoop(collab Collaborator, limiter *Limiter, cfg Config, logger *zap.Logger) *Loop {
	if cfg.RoundBudget < 1 {
		cfg.RoundBudget = 1
	}
	if cfg.MaxConsecutiveErrors < 1 {
		cfg.MaxConsecutiveErrors = 1
	}
	if cfg.RetriesPerRound < 0 {
		cfg.RetriesPerRound = 0
	}
	return &Loop{
		collab:  collab,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run executes up to RoundBudget rounds. The only error is ErrBypassRequired;
// every collaborator failure is folded into the Result's outcome.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	if req.PreCheck.Verdict == precheck.VerdictUnsafe {
		return Result{}, ErrBypassRequired
	}

	policyCtx := PolicyContext{
		Prompt:          req.Prompt,
		PreCheckVerdict: req.PreCheck.Verdict.String(),
		Categories:      req.PreCheck.CategoryNames(),
		AgeBand:         req.Session.AgeBand,
		Mixture:         req.Session.Mixture,
	}

	var res Result
	consecutiveErrors := 0

	for round := 1; round <= l.cfg.RoundBudget; round++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			return res, nil
		}

		att, permanent := l.round(ctx, round, req, policyCtx)
		res.Attempts = append(res.Attempts, att)
		res.Severity = signals.MaxSeverity(res.Severity, att.Severity)

		l.logger.Debug("verification round complete",
			zap.String("trace_id", req.Session.TraceID),
			zap.Int("round", att.Round),
			zap.String("judgment", att.Judgment.String()),
			zap.Int("tries", att.Tries),
			zap.Duration("latency", att.Latency),
		)

		switch att.Judgment {
		case JudgmentPass:
			res.Outcome = OutcomePass
			res.Candidate = att.Candidate
			return res, nil
		case JudgmentFail:
			consecutiveErrors = 0
		case JudgmentError:
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				return res, nil
			}
			if permanent {
				res.Outcome = OutcomeError
				return res, nil
			}
			consecutiveErrors++
			if consecutiveErrors >= l.cfg.MaxConsecutiveErrors {
				res.Outcome = OutcomeFailClosed
				return res, nil
			}
		}
	}

	res.Outcome = OutcomeExhausted
	return res, nil
}

// round runs generate then verify. It always returns a complete Attempt; on
// failure the judgment is ERROR and permanent reports a non-retryable error.
func (l *Loop) round(ctx context.Context, n int, req Request, policyCtx PolicyContext) (Attempt, bool) {
	start := time.Now()
	att := Attempt{Round: n}
	retries := l.cfg.RetriesPerRound

	var candidate string
	err := l.call(ctx, "generate", &att.Tries, &retries, func(cctx context.Context) error {
		c, err := l.collab.Generate(cctx, req.Session, req.Prompt)
		if err != nil {
			return err
		}
		candidate = c
		return nil
	})
	if err != nil {
		return l.failed(att, start, err), isPermanent(ctx, err)
	}

	var judgment Judgment
	err = l.call(ctx, "verify", &att.Tries, &retries, func(cctx context.Context) error {
		j, err := l.collab.Verify(cctx, candidate, policyCtx)
		if err != nil {
			return err
		}
		judgment = j
		return nil
	})
	if err != nil {
		att.Candidate = candidate
		return l.failed(att, start, err), isPermanent(ctx, err)
	}

	att.Candidate = candidate
	att.Severity = judgment.Severity
	att.Reason = judgment.Reason
	if judgment.Verdict == JudgmentPass {
		att.Judgment = JudgmentPass
	} else {
		// Anything but an explicit PASS is a failure to verify.
		att.Judgment = JudgmentFail
	}
	att.Latency = time.Since(start)
	return att, false
}

func (l *Loop) failed(att Attempt, start time.Time, err error) Attempt {
	att.Judgment = JudgmentError
	att.Reason = err.Error()
	att.Latency = time.Since(start)
	return att
}

// call invokes fn under the global limiter and the per-call timeout, retrying
// transient failures while the round's retry budget lasts.
func (l *Loop) call(ctx context.Context, op string, tries, retriesLeft *int, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := l.once(ctx, fn)
		*tries++
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !IsTransient(err) || *retriesLeft <= 0 {
			return fmt.Errorf("%s: %w", op, err)
		}
		*retriesLeft--

		delay := l.cfg.Backoff.Delay(attempt, l.rnd)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", op, serr)
		}
	}
}

func (l *Loop) once(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.limiter.Acquire(ctx)
	if err != nil {
		// Could not get a slot before the deadline; a retry may.
		return Transient("acquire", err)
	}
	defer release()

	cctx := ctx
	if l.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, l.cfg.CallTimeout)
		defer cancel()
	}
	return fn(cctx)
}

// isPermanent reports errors that end the loop immediately. Cancellation of
// the message context is not permanent; the caller handles it.
func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !IsTransient(err) && !errors.Is(err, context.Canceled)
}
