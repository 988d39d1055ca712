package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionNotFound indicates no session is registered under the name.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed indicates the session is shutting down or shut down.
	ErrSessionClosed = errors.New("session closed")

	// ErrManagerClosed indicates the manager has been closed.
	ErrManagerClosed = errors.New("session manager closed")

	// ErrMaxSessions indicates the manager is at its session limit.
	ErrMaxSessions = errors.New("max sessions reached")
)
