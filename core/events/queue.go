package events

import "time"

// JobFinished is emitted once per job attempt.
// Outcome is "completed", "retry" or "failed".
type JobFinished struct {
	JobID    string
	Kind     string
	Attempt  int
	Outcome  string
	Duration time.Duration
	Err      error
}

// SessionChanged is emitted when a realtime session joins or leaves the hub.
type SessionChanged struct {
	SessionID string
	UserID    string
	Role      string
	Connected bool
}
