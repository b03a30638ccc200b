package telemetry

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 250 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseSink appends decision events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a
// background goroutine.
type ClickHouseSink struct {
	conn    driver.Conn
	buffer  chan *Event
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and starts the background flush loop.
func NewClickHouseSink(dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ClickHouse Cloud listens on TLS only.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:    conn,
		buffer:  make(chan *Event, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go s.flushLoop()
	return s, nil
}

// Write queues an event. Drops it if the buffer is full.
func (s *ClickHouseSink) Write(event *Event) {
	select {
	case s.buffer <- event:
	default:
		sinkDropped.Inc()
		s.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Close drains buffered events, waits for the final insert and closes the
// connection. Call once.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, flushBatch)

	for {
		select {
		case event := <-s.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-s.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *ClickHouseSink) flush(events []*Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO replyguard_decisions (
			trace_id, session_bucket, time_bucket,
			outcome, severity, rule, mixture,
			loop_outcome, rounds, categories, latency_ms
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.TraceID,
			e.SessionBucket,
			e.TimeBucket,
			e.Outcome,
			e.Severity,
			e.Rule,
			e.Mixture,
			e.LoopOutcome,
			e.Rounds,
			e.Categories,
			e.LatencyMs,
		); err != nil {
			s.logger.Error("clickhouse append event failed",
				zap.String("trace_id", e.TraceID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogSink is a fallback Sink for local development. It logs events as
// structured JSON via zap.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink that writes to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(event *Event) {
	s.logger.Info("decision_event",
		zap.String("trace_id", event.TraceID),
		zap.String("session_bucket", event.SessionBucket),
		zap.Time("time_bucket", event.TimeBucket),
		zap.String("outcome", event.Outcome),
		zap.String("severity", event.Severity),
		zap.String("rule", event.Rule),
		zap.String("mixture", event.Mixture),
		zap.String("loop_outcome", event.LoopOutcome),
		zap.Uint8("rounds", event.Rounds),
		zap.Strings("categories", event.Categories),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (s *LogSink) Close() {}
