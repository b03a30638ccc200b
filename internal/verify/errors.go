package verify

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrBypassRequired is returned when an UNSAFE pre-check result is handed
	// to the loop. Those messages are decided without the model.
	ErrBypassRequired = errors.New("verify: unsafe pre-check result must bypass the model")

	// ErrMalformedJudgment marks a verifier reply that could not be parsed.
	ErrMalformedJudgment = errors.New("verify: malformed judgment")
)

// TransientError wraps a collaborator failure that is worth retrying: a
// timeout, an unavailable backend, a 5xx or a rate limit.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Per-call deadline
// expiry counts as transient; the caller checks its own context separately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
