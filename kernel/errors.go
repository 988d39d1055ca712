package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors for kernel operations.
var (
	// ErrClosed indicates the kernel connection is gone.
	ErrClosed = errors.New("kernel connection closed")

	// ErrUnknownBackend indicates the requested backend is not registered.
	ErrUnknownBackend = errors.New("unknown kernel backend")

	// ErrUnknownChannel indicates a receive on a channel the kernel does not expose.
	ErrUnknownChannel = errors.New("unknown kernel channel")

	// ErrNotReady indicates the kernel did not answer its startup handshake.
	ErrNotReady = errors.New("kernel not ready")
)

// Error wraps backend errors with context.
type Error struct {
	Backend string // Backend name ("subprocess", "gateway")
	Op      string // Operation that failed ("start", "execute", "shutdown")
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new backend error.
func NewError(backend, op string, err error) *Error {
	return &Error{Backend: backend, Op: op, Err: err}
}

// IsClosed reports whether err means the kernel connection is gone.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
