package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/replyguard/internal/escalation"
	"github.com/triage-ai/replyguard/internal/policy"
	"github.com/triage-ai/replyguard/internal/precheck"
	"github.com/triage-ai/replyguard/internal/signals"
	"github.com/triage-ai/replyguard/internal/telemetry"
	"github.com/triage-ai/replyguard/internal/verify"
	"go.uber.org/zap"
)

// shutdownGrace bounds the wait for cancelled messages to resolve after the
// Shutdown context has ended. Each one still owes its notify and telemetry.
const shutdownGrace = 2 * time.Second

// loopRunner is the verification loop as the orchestrator drives it.
type loopRunner interface {
	Run(ctx context.Context, req verify.Request) (verify.Result, error)
}

// Deps holds the orchestrator's collaborators.
type Deps struct {
	Engine        *policy.Engine
	Collaborator  verify.Collaborator
	Limiter       *verify.Limiter // nil: built from the policy's model limits
	Stage         *precheck.Stage // nil: default extractors with the policy's thresholds
	Telemetry     Telemetry
	Pseudonymizer *telemetry.Pseudonymizer
	Notifier      escalation.Notifier
	Logger        *zap.Logger
}

// Orchestrator runs every inbound message through pre-check, verification
// and decision, one sequential queue per session.
type Orchestrator struct {
	engine   *policy.Engine
	cfg      policy.Config
	stage    *precheck.Stage
	loop     loopRunner
	tele     Telemetry
	pseudo   *telemetry.Pseudonymizer
	notifier escalation.Notifier
	logger   *zap.Logger
	now      func() time.Time

	sessions sync.Map // session id -> *session

	// lifecycle orders session creation against Shutdown. Submit takes the
	// read side only while looking up its session.
	lifecycle sync.RWMutex
	closing   atomic.Bool
	workers   sync.WaitGroup

	stopJanitor chan struct{}
	janitorDone chan struct{}
	stopOnce    sync.Once
}

// New creates an orchestrator and starts its idle-session janitor.
func New(d Deps) (*Orchestrator, error) {
	if d.Engine == nil || d.Collaborator == nil || d.Telemetry == nil || d.Pseudonymizer == nil {
		return nil, errors.New("pipeline.New: engine, collaborator, telemetry and pseudonymizer are required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = escalation.NewLogNotifier(d.Logger)
	}

	cfg := d.Engine.Config()
	if d.Stage == nil {
		d.Stage = precheck.NewStage(cfg.PreCheck(), nil)
	}
	if d.Limiter == nil {
		d.Limiter = verify.NewLimiter(cfg.Model.MaxConcurrent, cfg.Model.PerSecond, cfg.Model.Burst)
	}

	o := &Orchestrator{
		engine:      d.Engine,
		cfg:         cfg,
		stage:       d.Stage,
		loop:        verify.NewLoop(d.Collaborator, d.Limiter, cfg.Verify(), d.Logger),
		tele:        d.Telemetry,
		pseudo:      d.Pseudonymizer,
		notifier:    d.Notifier,
		logger:      d.Logger,
		now:         time.Now,
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go o.janitor()
	return o, nil
}

// Submit runs msg through the pipeline and blocks until its terminal outcome.
// Every accepted message gets exactly one outcome; the only error is
// ErrClosed.
func (o *Orchestrator) Submit(ctx context.Context, msg InboundMessage) (Outcome, error) {
	if msg.ArrivedAt.IsZero() {
		msg.ArrivedAt = o.now()
	}
	j := &job{
		ctx:     ctx,
		msg:     msg,
		traceID: uuid.NewString(),
		result:  make(chan Outcome, 1),
	}

	s, err := o.acquire(msg.SessionID)
	if err != nil {
		return Outcome{}, err
	}

	select {
	case s.queue <- j:
	case <-ctx.Done():
		// Accepted but never queued: resolve it here.
		tr := newTracker()
		tr.decided()
		out := o.terminal(j, tr, o.cancelledDecision(precheck.Result{}), precheck.Result{}, verify.Result{Outcome: verify.OutcomeCancelled})
		s.leave(o.now())
		return out, nil
	}

	return <-j.result, nil
}

// CloseSession cancels the session's in-flight and queued messages; each
// resolves as ESCALATE. It reports whether the session existed.
func (o *Orchestrator) CloseSession(id string) bool {
	v, ok := o.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	s := v.(*session)
	s.cancel()
	s.close()
	o.logger.Debug("session closed")
	return true
}

// Shutdown stops intake, lets session workers drain and flushes telemetry.
// When ctx ends first, remaining messages are cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifecycle.Lock()
	o.closing.Store(true)
	o.lifecycle.Unlock()

	o.stopOnce.Do(func() { close(o.stopJanitor) })
	<-o.janitorDone

	var all []*session
	o.sessions.Range(func(k, v any) bool {
		s := v.(*session)
		all = append(all, s)
		s.close()
		o.sessions.Delete(k)
		return true
	})

	done := make(chan struct{})
	go func() {
		o.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		for _, s := range all {
			s.cancel()
		}
		err = fmt.Errorf("Shutdown: %w", ctx.Err())

		// Cancelled messages resolve without waiting on the model; give them
		// time to emit before the final flush.
		grace := time.NewTimer(time.Duration(o.cfg.NotifyTimeout) + shutdownGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			o.logger.Error("session workers did not drain; late records miss the final flush")
		}
	}

	counts := o.tele.Flush()
	o.logger.Info("orchestrator stopped", zap.Int("aggregate_keys", len(counts)))
	return err
}

// acquire returns the live session for id with a reserved slot, creating it
// and its worker on first use.
func (o *Orchestrator) acquire(id string) (*session, error) {
	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()

	for {
		if o.closing.Load() {
			return nil, ErrClosed
		}
		v, ok := o.sessions.Load(id)
		if !ok {
			fresh := newSession(id, o.cfg.Sessions.QueueDepth, o.now())
			var loaded bool
			v, loaded = o.sessions.LoadOrStore(id, fresh)
			if !loaded {
				o.workers.Add(1)
				go o.worker(fresh)
			} else {
				fresh.cancel()
			}
		}
		s := v.(*session)
		if s.enter(o.now()) {
			return s, nil
		}
		// Closed under us by the janitor or CloseSession.
		o.sessions.CompareAndDelete(id, s)
	}
}

func (o *Orchestrator) worker(s *session) {
	defer o.workers.Done()
	defer s.cancel()
	for {
		select {
		case j := <-s.queue:
			o.handle(s, j)
			s.leave(o.now())
		case <-s.quit:
			return
		}
	}
}

func (o *Orchestrator) janitor() {
	defer close(o.janitorDone)
	interval := time.Duration(o.cfg.Sessions.JanitorInterval)
	if interval <= 0 {
		interval = time.Minute
	}
	idle := time.Duration(o.cfg.Sessions.IdleTimeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopJanitor:
			return
		case <-ticker.C:
			now := o.now()
			evicted := 0
			o.sessions.Range(func(k, v any) bool {
				s := v.(*session)
				if s.closeIfIdle(now, idle) {
					o.sessions.CompareAndDelete(k, s)
					evicted++
				}
				return true
			})
			if evicted > 0 {
				o.logger.Debug("idle sessions evicted", zap.Int("count", evicted))
			}
		}
	}
}

// evaluation is what evaluate hands back to handle.
type evaluation struct {
	tr      *tracker
	dec     policy.Decision
	pre     precheck.Result
	loopRes verify.Result
}

// handle processes one message on its session's worker. The message deadline
// is enforced here: evaluation runs on its own goroutine, and when the
// deadline passes first the message is decided without it. A late result is
// dropped.
func (o *Orchestrator) handle(s *session, j *job) {
	mctx, cancel := context.WithTimeout(s.ctx, time.Duration(o.cfg.MessageTimeout))
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()

	done := make(chan evaluation, 1)
	go func() {
		var ev evaluation
		ev.tr, ev.dec, ev.pre, ev.loopRes = o.evaluate(mctx, j)
		done <- ev
	}()

	var ev evaluation
	select {
	case ev = <-done:
	case <-mctx.Done():
		select {
		case ev = <-done:
		default:
			ev = o.abandon(j)
		}
	}
	j.result <- o.terminal(j, ev.tr, ev.dec, ev.pre, ev.loopRes)
}

// abandon decides a message whose evaluation is still running past its
// deadline.
func (o *Orchestrator) abandon(j *job) evaluation {
	ev := evaluation{tr: newTracker(), loopRes: verify.Result{Outcome: verify.OutcomeCancelled}}
	if p := j.pre.Load(); p != nil {
		ev.pre = *p
		o.step(ev.tr, StatePrechecked, j)
		if ev.pre.Verdict != precheck.VerdictUnsafe {
			o.step(ev.tr, StateVerifying, j)
		}
	}
	ev.tr.decided()
	ev.dec = o.cancelledDecision(ev.pre)
	o.logger.Warn("message deadline passed with evaluation still running",
		zap.String("trace_id", j.traceID),
	)
	return ev
}

// evaluate runs pre-check, the verification loop and the decision table.
// A panic is recovered into a fail-closed escalation.
func (o *Orchestrator) evaluate(ctx context.Context, j *job) (tr *tracker, dec policy.Decision, pre precheck.Result, loopRes verify.Result) {
	tr = newTracker()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while processing message",
				zap.String("trace_id", j.traceID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			tr.decided()
			dec = internalErrorDecision(pre)
		}
	}()

	if ctx.Err() != nil {
		// Session closed or caller gone while queued.
		tr.decided()
		loopRes.Outcome = verify.OutcomeCancelled
		return tr, o.cancelledDecision(pre), pre, loopRes
	}

	pre = o.stage.Check(j.msg.Text)
	published := pre
	j.pre.Store(&published)
	o.step(tr, StatePrechecked, j)

	if pre.Verdict != precheck.VerdictUnsafe {
		o.step(tr, StateVerifying, j)
		var err error
		loopRes, err = o.loop.Run(ctx, verify.Request{
			Prompt: j.msg.Text,
			Session: verify.SessionContext{
				TraceID: j.traceID,
				AgeBand: j.msg.AgeBand,
				Mixture: pre.Mixture,
			},
			PreCheck: pre,
		})
		if err != nil {
			o.logger.Error("verification loop rejected request",
				zap.String("trace_id", j.traceID),
				zap.Error(err),
			)
			tr.decided()
			return tr, internalErrorDecision(pre), pre, loopRes
		}
		// The wall-clock budget wins over whatever the loop concluded.
		if ctx.Err() != nil && loopRes.Outcome != verify.OutcomeCancelled {
			o.logger.Debug("message deadline overrides loop outcome",
				zap.String("trace_id", j.traceID),
				zap.String("loop_outcome", loopRes.Outcome.String()),
			)
			loopRes.Outcome = verify.OutcomeCancelled
			loopRes.Candidate = ""
		}
	}

	dec = o.engine.Decide(policy.Input{
		PreCheck:         pre.Verdict,
		PreCheckSeverity: pre.Severity,
		Loop:             loopRes.Outcome,
		Severity:         loopRes.Severity,
		AgeBand:          j.msg.AgeBand,
	})
	o.step(tr, StateDecided, j)
	return tr, dec, pre, loopRes
}

func internalErrorDecision(pre precheck.Result) policy.Decision {
	return policy.Decision{
		Outcome:  policy.OutcomeEscalate,
		Severity: signals.MaxSeverity(pre.Severity, signals.SeverityMed),
		Rule:     RuleInternalError,
	}
}

func (o *Orchestrator) cancelledDecision(pre precheck.Result) policy.Decision {
	return o.engine.Decide(policy.Input{
		PreCheck:         pre.Verdict,
		PreCheckSeverity: signals.MaxSeverity(pre.Severity, signals.SeverityMed),
		Loop:             verify.OutcomeCancelled,
	})
}

func (o *Orchestrator) step(tr *tracker, next State, j *job) {
	if err := tr.to(next); err != nil {
		o.logger.Error("state machine violation",
			zap.String("trace_id", j.traceID),
			zap.Error(err),
		)
	}
}

// terminal is the only place that emits telemetry and notifies escalation,
// each at most once per message.
func (o *Orchestrator) terminal(j *job, tr *tracker, dec policy.Decision, pre precheck.Result, loopRes verify.Result) Outcome {
	var out Outcome
	j.once.Do(func() {
		now := o.now()

		final := StateRefused
		text := o.engine.Text(dec.Outcome)
		switch dec.Outcome {
		case policy.OutcomeDeliver:
			final = StateDelivered
			text = loopRes.Candidate
		case policy.OutcomeEscalate:
			final = StateEscalated
		}
		o.step(tr, final, j)

		mixture := pre.Mixture
		if mixture == "" {
			mixture = "none"
		}
		out = Outcome{
			Decision: dec.Outcome,
			Text:     text,
			TraceID:  j.traceID,
			Severity: dec.Severity,
			Rule:     dec.Rule,
			Mixture:  mixture,
			PreCheck: pre.Verdict,
			Loop:     loopRes.Outcome,
			Attempts: len(loopRes.Attempts),
			States:   tr.history,
			Latency:  now.Sub(j.msg.ArrivedAt),
		}

		if o.engine.ShouldNotify(dec) {
			o.notify(j, out, now)
		}

		judgments := make([]string, len(loopRes.Attempts))
		for i, a := range loopRes.Attempts {
			judgments[i] = a.Judgment.String()
		}
		o.tele.Emit(telemetry.Record{
			TraceID:     j.traceID,
			SessionID:   j.msg.SessionID,
			Outcome:     dec.Outcome.String(),
			Severity:    dec.Severity.String(),
			Rule:        dec.Rule,
			Mixture:     mixture,
			LoopOutcome: loopRes.Outcome.String(),
			Judgments:   judgments,
			Categories:  pre.CategoryNames(),
			Latency:     out.Latency,
			Timestamp:   now,
		})

		o.logger.Info("message decided",
			zap.String("trace_id", j.traceID),
			zap.String("outcome", dec.Outcome.String()),
			zap.String("severity", dec.Severity.String()),
			zap.String("rule", dec.Rule),
			zap.String("precheck", pre.Summary()),
			zap.String("loop_outcome", loopRes.Outcome.String()),
			zap.Int("rounds", len(loopRes.Attempts)),
			zap.Duration("latency", out.Latency),
		)
	})
	return out
}

// notify hands the decision to the escalation channel and waits for the
// attempt. Failures are logged, never surfaced to the caller.
func (o *Orchestrator) notify(j *job, out Outcome, now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(o.cfg.NotifyTimeout))
	defer cancel()

	notice := escalation.Notice{
		TraceID:       j.traceID,
		SessionBucket: o.pseudo.BucketAt(j.msg.SessionID, now),
		Severity:      out.Severity.String(),
		Outcome:       out.Decision.String(),
		Rule:          out.Rule,
		LanguageMix:   out.Mixture,
		Timestamp:     now.UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("escalation notifier panicked",
				zap.String("trace_id", j.traceID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := o.notifier.Notify(ctx, notice); err != nil {
		o.logger.Warn("escalation notify failed",
			zap.String("trace_id", j.traceID),
			zap.Error(err),
		)
	}
}
