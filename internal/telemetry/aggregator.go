package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Key identifies one aggregate counter. No field identifies a user.
type Key struct {
	Outcome  string
	Severity string
	Mixture  string
	Bucket   time.Time // start of the time bucket, UTC
}

// Count is one drained counter value.
type Count struct {
	Key
	N uint64
}

// Aggregator holds the process-wide decision counters. Increments are atomic;
// the map lock is taken exclusively only to insert a new key or to drain.
type Aggregator struct {
	bucket time.Duration

	mu       sync.RWMutex
	counters map[Key]*atomic.Uint64
}

// NewAggregator creates an empty aggregator that groups counts into buckets
// of the given width.
func NewAggregator(bucket time.Duration) *Aggregator {
	if bucket <= 0 {
		bucket = time.Hour
	}
	return &Aggregator{
		bucket:   bucket,
		counters: make(map[Key]*atomic.Uint64),
	}
}

// BucketOf truncates t to its time bucket.
func (a *Aggregator) BucketOf(t time.Time) time.Time {
	return t.UTC().Truncate(a.bucket)
}

// Inc adds one to the counter for (outcome, severity, mixture, bucket of t).
func (a *Aggregator) Inc(outcome, severity, mixture string, t time.Time) {
	k := Key{Outcome: outcome, Severity: severity, Mixture: mixture, Bucket: a.BucketOf(t)}

	// The increment happens under the read lock so Drain never misses it.
	a.mu.RLock()
	c, ok := a.counters[k]
	if ok {
		c.Add(1)
		a.mu.RUnlock()
		return
	}
	a.mu.RUnlock()

	a.mu.Lock()
	c, ok = a.counters[k]
	if !ok {
		c = new(atomic.Uint64)
		a.counters[k] = c
	}
	c.Add(1)
	a.mu.Unlock()
}

// Snapshot returns the current counts without resetting them.
func (a *Aggregator) Snapshot() []Count {
	a.mu.RLock()
	out := make([]Count, 0, len(a.counters))
	for k, c := range a.counters {
		out = append(out, Count{Key: k, N: c.Load()})
	}
	a.mu.RUnlock()
	sortCounts(out)
	return out
}

// Drain returns the current counts and resets the aggregator.
func (a *Aggregator) Drain() []Count {
	a.mu.Lock()
	old := a.counters
	a.counters = make(map[Key]*atomic.Uint64, len(old))
	a.mu.Unlock()

	out := make([]Count, 0, len(old))
	for k, c := range old {
		if n := c.Load(); n > 0 {
			out = append(out, Count{Key: k, N: n})
		}
	}
	sortCounts(out)
	return out
}

func sortCounts(cs []Count) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if !a.Bucket.Equal(b.Bucket) {
			return a.Bucket.Before(b.Bucket)
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		return a.Mixture < b.Mixture
	})
}
