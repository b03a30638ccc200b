package pipeline

import "fmt"

// State is a message's position in the pipeline.
type State int

const (
	StateReceived State = iota + 1
	StatePrechecked
	StateVerifying
	StateDecided
	StateDelivered
	StateRefused
	StateEscalated
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StatePrechecked:
		return "PRECHECKED"
	case StateVerifying:
		return "VERIFYING"
	case StateDecided:
		return "DECIDED"
	case StateDelivered:
		return "DELIVERED"
	case StateRefused:
		return "REFUSED"
	case StateEscalated:
		return "ESCALATED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the three outcomes.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateRefused || s == StateEscalated
}

// transitions lists the allowed next states. Anything may jump straight to
// DECIDED when the message is cancelled or fails internally.
var transitions = map[State][]State{
	StateReceived:   {StatePrechecked, StateDecided},
	StatePrechecked: {StateVerifying, StateDecided},
	StateVerifying:  {StateDecided},
	StateDecided:    {StateDelivered, StateRefused, StateEscalated},
}

// TransitionError reports a step the state machine does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// tracker walks one message through the state machine and keeps its path.
type tracker struct {
	state   State
	history []State
}

func newTracker() *tracker {
	return &tracker{state: StateReceived, history: []State{StateReceived}}
}

func (t *tracker) to(next State) error {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			t.history = append(t.history, next)
			return nil
		}
	}
	return &TransitionError{From: t.state, To: next}
}

// decided moves to DECIDED from any non-terminal state.
func (t *tracker) decided() {
	if t.state == StateDecided || t.state.Terminal() {
		return
	}
	_ = t.to(StateDecided)
}
