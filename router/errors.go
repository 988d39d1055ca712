package router

import "errors"

// Sentinel errors for router operations.
var (
	// ErrDuplicateWaiter indicates a waiter is already registered for the id.
	ErrDuplicateWaiter = errors.New("waiter already registered")

	// ErrRouterClosed indicates the router has been shut down.
	ErrRouterClosed = errors.New("router closed")

	// ErrCanceled indicates the waiter was cancelled before its reply arrived,
	// because the router shut down or the sessions were reset.
	ErrCanceled = errors.New("request canceled")
)
