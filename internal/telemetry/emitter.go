package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Record is the terminal outcome of one message as handed over by the
// orchestrator. SessionID is pseudonymized before anything leaves the
// emitter; no message text is ever part of a record.
type Record struct {
	TraceID     string
	SessionID   string
	Outcome     string
	Severity    string
	Rule        string
	Mixture     string
	LoopOutcome string
	Judgments   []string // one per recorded verification round
	Categories  []string
	Latency     time.Duration
	Timestamp   time.Time
}

// Event is the anonymized row appended to a Sink.
type Event struct {
	TraceID       string
	SessionBucket string
	TimeBucket    time.Time
	Outcome       string
	Severity      string
	Rule          string
	Mixture       string
	LoopOutcome   string
	Rounds        uint8
	Categories    []string
	LatencyMs     float32
}

// Sink is an append-only destination for events. Write must never block the
// caller.
type Sink interface {
	Write(event *Event)
	Close()
}

// Emitter turns records into counter increments and sink events.
type Emitter struct {
	agg    *Aggregator
	pseudo *Pseudonymizer
	sink   Sink
	logger *zap.Logger
}

// NewEmitter creates an emitter. sink may be nil.
func NewEmitter(agg *Aggregator, pseudo *Pseudonymizer, sink Sink, logger *zap.Logger) *Emitter {
	return &Emitter{agg: agg, pseudo: pseudo, sink: sink, logger: logger}
}

// Aggregator returns the emitter's counters.
func (e *Emitter) Aggregator() *Aggregator {
	return e.agg
}

// Emit records one terminal outcome. The orchestrator calls it exactly once
// per message.
func (e *Emitter) Emit(r Record) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	e.agg.Inc(r.Outcome, r.Severity, r.Mixture, ts)

	decisionsTotal.WithLabelValues(r.Outcome, r.Severity, r.Mixture).Inc()
	decisionLatency.WithLabelValues(r.Outcome).Observe(r.Latency.Seconds())
	for _, j := range r.Judgments {
		verificationAttempts.WithLabelValues(j).Inc()
	}

	if e.sink == nil {
		return
	}
	rounds := len(r.Judgments)
	if rounds > 255 {
		rounds = 255
	}
	e.sink.Write(&Event{
		TraceID:       r.TraceID,
		SessionBucket: e.pseudo.BucketAt(r.SessionID, ts),
		TimeBucket:    e.agg.BucketOf(ts),
		Outcome:       r.Outcome,
		Severity:      r.Severity,
		Rule:          r.Rule,
		Mixture:       r.Mixture,
		LoopOutcome:   r.LoopOutcome,
		Rounds:        uint8(rounds),
		Categories:    r.Categories,
		LatencyMs:     float32(r.Latency.Microseconds()) / 1000,
	})
}

// Flush drains the aggregate counters and logs them.
func (e *Emitter) Flush() []Count {
	counts := e.agg.Drain()
	for _, c := range counts {
		e.logger.Info("decision_counts",
			zap.String("outcome", c.Outcome),
			zap.String("severity", c.Severity),
			zap.String("mixture", c.Mixture),
			zap.Time("bucket", c.Bucket),
			zap.Uint64("count", c.N),
		)
	}
	return counts
}

// Close flushes the counters and closes the sink.
func (e *Emitter) Close() {
	e.Flush()
	if e.sink != nil {
		e.sink.Close()
	}
}
