package verify

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with jitter:
// base * multiplier^n, plus up to Jitter*delay of random extra, capped at Max.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the delay, 0.0 – 1.0
	Max        time.Duration
}

// DefaultBackoff returns the built-in retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       200 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0.2,
		Max:        2 * time.Second,
	}
}

// Delay returns the wait before retry number n (0-based). rnd returns a value
// in [0,1); nil uses math/rand/v2.
func (b Backoff) Delay(n int, rnd func() float64) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Base) * math.Pow(mult, float64(n))
	if b.Jitter > 0 {
		if rnd == nil {
			rnd = rand.Float64
		}
		d += d * b.Jitter * rnd()
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
