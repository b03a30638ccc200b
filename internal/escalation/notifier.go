package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Notice is what the human-review channel receives. It carries the rotating
// session bucket, never the raw session id or message text.
type Notice struct {
	TraceID       string    `json:"decision_trace_id"`
	SessionBucket string    `json:"session_id_bucket"`
	Severity      string    `json:"severity"`
	Outcome       string    `json:"outcome"`
	Rule          string    `json:"rule"`
	LanguageMix   string    `json:"language_mix"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier delivers escalation notices. Delivery is best effort; callers log
// errors and never fail a message on them.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// WithTimeout bounds each Notify call on next.
func WithTimeout(next Notifier, d time.Duration) Notifier {
	if d <= 0 {
		return next
	}
	return NotifierFunc(func(ctx context.Context, n Notice) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.Notify(ctx, n)
	})
}

// Fanout delivers a notice to every channel and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for i, ch := range f {
		if err := ch.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notices to the log. It is the fallback channel for local
// development.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notice) error {
	l.logger.Warn("escalation",
		zap.String("trace_id", n.TraceID),
		zap.String("session_bucket", n.SessionBucket),
		zap.String("severity", n.Severity),
		zap.String("outcome", n.Outcome),
		zap.String("rule", n.Rule),
		zap.String("language_mix", n.LanguageMix),
		zap.Time("timestamp", n.Timestamp),
	)
	return nil
}
