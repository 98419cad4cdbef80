package comm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotReady indicates the link is not bound or not ready for commands.
	ErrNotReady = errors.New("not ready")
	// ErrClosed indicates the queue was closed and the command discarded.
	ErrClosed = errors.New("queue closed")
	// ErrDropped indicates the command was dropped after the firmware
	// rejected it twice.
	ErrDropped = errors.New("command dropped after retry")
	// ErrUnrecognized indicates an unexpected line was received while
	// the command was in flight.
	ErrUnrecognized = errors.New("unrecognized reply")
)

// TransportError is a failure to move bytes over the link. It is fatal:
// the queue is closed once it happens.
type TransportError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("serial %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates no matching reply within the command timeout.
// The queue recovers and moves to the next command.
type TimeoutError struct {
	Command string
	After   time.Duration
}

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q: no reply after %v", e.Command, e.After)
}

// IsTimeout is a helper to check for TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsFatal reports whether err requires rebinding the link.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
