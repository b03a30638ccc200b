package pipeline

import (
	"context"
	"sync"
	"time"
)

// session is the sequential queue for one conversational context. Exactly
// one worker goroutine drains it; messages run strictly in arrival order.
type session struct {
	id        string
	createdAt time.Time

	ctx    context.Context // cancelled by CloseSession; parent of every message context
	cancel context.CancelFunc
	queue  chan *job

	mu         sync.Mutex
	closed     bool
	pending    int // accepted messages not yet resolved, queued or in flight
	lastActive time.Time
	quit       chan struct{}
	quitOnce   sync.Once
}

func newSession(id string, depth int, now time.Time) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:         id,
		createdAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan *job, depth),
		lastActive: now,
		quit:       make(chan struct{}),
	}
}

// enter reserves a slot for a new message. It fails once the session is
// closing; the caller then creates a fresh session.
func (s *session) enter(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending++
	s.lastActive = now
	return true
}

// leave releases a slot. The worker stops after the last message of a closed
// session.
func (s *session) leave(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	s.lastActive = now
	if s.closed && s.pending == 0 {
		s.stop()
	}
}

// close stops intake. Pending messages still drain.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pending == 0 {
		s.stop()
	}
}

// closeIfIdle closes the session when nothing is pending and it has been
// inactive for at least idle.
func (s *session) closeIfIdle(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pending > 0 || now.Sub(s.lastActive) < idle {
		return false
	}
	s.closed = true
	s.stop()
	return true
}

func (s *session) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}
