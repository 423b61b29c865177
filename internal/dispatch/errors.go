package dispatch

import (
	"errors"
	"fmt"
)

// ErrCancelled resolves the result slot of a call that was cancelled or torn
// down before completion, so callers can tell "cancelled" from "rejected".
var ErrCancelled = errors.New("call cancelled")

// UsageError reports misuse of the runtime API, such as calling a service
// that is not running. It is surfaced synchronously and never retried.
type UsageError struct {
	Msg string
}

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...any) *UsageError {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

func (e *UsageError) Error() string {
	return e.Msg
}

// TransientError wraps a backend failure that is worth retrying, such as a
// throttling signal or a timeout from the remote side.
type TransientError struct {
	Err error
}

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientError anywhere in its
// chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FailedCallError is the terminal failure written to a result slot once
// retries are exhausted or a non-transient backend failure occurs.
type FailedCallError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *FailedCallError) Error() string {
	return fmt.Sprintf("service %q: call failed after %d attempt(s): %v", e.Service, e.Attempts, e.Err)
}

func (e *FailedCallError) Unwrap() error {
	return e.Err
}

// ShutdownError reports a service that failed to stop cleanly. The registry
// still gives every started service a stop attempt before returning it.
type ShutdownError struct {
	Service string
	Err     error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("service %q: shutdown failed: %v", e.Service, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}
