package session

import "time"

// Status represents the current state of a session.
type Status string

// Session status constants.
const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusClosing  Status = "closing"
	StatusClosed   Status = "closed"
	StatusError    Status = "error"
)

// Info is a snapshot of a session's state.
type Info struct {
	Name         string    `json:"name"`
	KernelID     string    `json:"kernel_id"`
	Status       Status    `json:"status"`
	Generation   uint64    `json:"generation"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Executions   int64     `json:"executions"`
	Forwarded    int64     `json:"forwarded"`
}
