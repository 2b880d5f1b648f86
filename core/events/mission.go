package events

import (
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// MissionTransitioned is published after a mission transition is committed.
type MissionTransitioned struct {
	MissionID      string
	OrganizationID string
	CollectorID    string
	From           model.Status
	To             model.Status
	At             time.Time
}

// DispatchAttempted is published for every engine run, successful or not.
type DispatchAttempted struct {
	MissionID      string
	OrganizationID string
	WinnerID       string
	Score          float64
	Considered     int
	UsedFallback   bool
	// Outcome mirrors metrics.DispatchEvent.Outcome.
	Outcome  string
	Duration time.Duration
	Err      error
}
