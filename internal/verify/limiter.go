package verify

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds outbound model calls across all sessions. Concurrency is
// capped by a weighted semaphore; an optional token bucket paces call starts.
// Callers that exceed either limit wait, bounded by their context.
type Limiter struct {
	sem  *semaphore.Weighted
	pace *rate.Limiter
}

// NewLimiter creates a limiter. maxConcurrent <= 0 disables the concurrency
// cap; perSecond <= 0 disables pacing.
func NewLimiter(maxConcurrent int64, perSecond float64, burst int) *Limiter {
	l := &Limiter{}
	if maxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(maxConcurrent)
	}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		l.pace = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

// Acquire blocks until a call slot is free. The returned release func must be
// called exactly once. A nil Limiter never blocks.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("Limiter.Acquire: %w", err)
		}
	}
	release := func() {
		if l.sem != nil {
			l.sem.Release(1)
		}
	}
	if l.pace != nil {
		if err := l.pace.Wait(ctx); err != nil {
			release()
			return nil, fmt.Errorf("Limiter.Acquire: %w", err)
		}
	}
	return release, nil
}
