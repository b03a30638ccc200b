package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// decisionsTotal counts terminal decisions.
	// Labels: outcome (DELIVER, REFUSE, ESCALATE), severity, mixture
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyguard",
		Name:      "decisions_total",
		Help:      "Total terminal decisions by outcome, severity and language mixture",
	}, []string{"outcome", "severity", "mixture"})

	// verificationAttempts counts recorded verification rounds.
	// Labels: judgment (PASS, FAIL, ERROR)
	verificationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replyguard",
		Name:      "verification_attempts_total",
		Help:      "Total verification rounds by judgment",
	}, []string{"judgment"})

	// decisionLatency measures time from receipt to terminal decision.
	decisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "replyguard",
		Name:      "decision_latency_seconds",
		Help:      "Time from message receipt to terminal decision",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	// sinkDropped counts events dropped because a sink buffer was full.
	sinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replyguard",
		Subsystem: "telemetry",
		Name:      "sink_dropped_total",
		Help:      "Telemetry events dropped because the sink buffer was full",
	})
)
