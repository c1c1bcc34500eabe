package reconciler

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
)

// ErrEngineStopped is returned by queries after the engine loop exited.
var ErrEngineStopped = errors.New("reconciliation engine stopped")

// Permanent marks err as not worth retrying. Nil stays nil. The marker is
// backoff's own, so errors from code built on backoff classify the same.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...interface{}) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err or anything it wraps was marked
// Permanent. Unmarked errors are transient.
func IsPermanent(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// AbandonedError is reported to observers when a transition is given up.
type AbandonedError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", e.Reason, e.Attempts, e.Err)
}

func (e *AbandonedError) Unwrap() error { return e.Err }

const (
	reasonPermanent = "permanent failure"
	reasonExhausted = "retries exhausted"
	reasonPersist   = "persist failed"
)

// DispatchError wraps a handler failure with the operation that failed.
// Permanence is preserved through Unwrap.
type DispatchError struct {
	Subsystem string
	Operation string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Subsystem, e.Operation, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
