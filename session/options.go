package session

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/kernelmux/kernel"
)

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	maxSessions     int
	sessionTTL      time.Duration
	cleanupInterval time.Duration
	reapTimeout     time.Duration
	logger          *slog.Logger
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		maxSessions:     100,
		sessionTTL:      0, // no idle reaping
		cleanupInterval: 5 * time.Minute,
		reapTimeout:     30 * time.Second,
		logger:          slog.Default(),
	}
}

// WithMaxSessions sets the maximum number of concurrent sessions.
func WithMaxSessions(n int) ManagerOption {
	return func(c *managerConfig) { c.maxSessions = n }
}

// WithSessionTTL stops sessions that have been idle longer than ttl.
// Zero disables idle reaping.
func WithSessionTTL(ttl time.Duration) ManagerOption {
	return func(c *managerConfig) { c.sessionTTL = ttl }
}

// WithCleanupInterval sets how often idle sessions are looked for.
func WithCleanupInterval(interval time.Duration) ManagerOption {
	return func(c *managerConfig) { c.cleanupInterval = interval }
}

// WithReapTimeout bounds the shutdown of a session stopped for being idle.
func WithReapTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.reapTimeout = d }
}

// WithLogger sets the logger for the manager and its sessions.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = l }
}

// ExecuteOption adjusts an execute request.
type ExecuteOption func(*kernel.ExecuteRequest)

// WithMsgID sets the request id instead of letting the kernel client pick one.
// The id is echoed as the correlation id of every reply.
func WithMsgID(id string) ExecuteOption {
	return func(r *kernel.ExecuteRequest) { r.MsgID = id }
}

// WithSilent asks the kernel not to broadcast output for the request.
func WithSilent() ExecuteOption {
	return func(r *kernel.ExecuteRequest) {
		r.Silent = true
		r.StoreHistory = false
	}
}

// WithStopOnError aborts queued executions if this one raises.
func WithStopOnError() ExecuteOption {
	return func(r *kernel.ExecuteRequest) { r.StopOnError = true }
}
