package models

import (
	"time"
)

// Job is the unit of scheduled work for one order.
// OrderID doubles as the idempotency key.
type Job struct {
	OrderID     string    `json:"orderId"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	NextAttempt time.Time `json:"nextAttempt"`
	LastError   string    `json:"lastError,omitempty"`
}

// IsRetry reports whether this dispatch is a re-run of an earlier attempt
func (j Job) IsRetry() bool {
	return j.Attempt > 1
}

// JobOutcome is the terminal result of a job kept in history
type JobOutcome struct {
	OrderID    string    `json:"orderId"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// QueueMetrics reports scheduler counts
type QueueMetrics struct {
	Waiting   int `json:"waiting"`
	Delayed   int `json:"delayed"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
