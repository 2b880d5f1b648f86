package metrics

import (
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// DispatchEvent is one run of the dispatch engine for a mission.
type DispatchEvent struct {
	MissionID      string
	OrganizationID string
	WinnerID       string
	Score          float64
	Considered     int
	UsedFallback   bool
	// Outcome is "assigned", "no_collector", "timeout" or "error".
	Outcome  string
	Duration time.Duration
	Time     time.Time
}

// MetricsSink records dispatch results for observability purposes.
type MetricsSink interface {
	RecordDispatch(ev DispatchEvent) error
}

// TransitionEvent records a committed mission status change.
type TransitionEvent struct {
	MissionID      string
	OrganizationID string
	CollectorID    string
	From           model.Status
	To             model.Status
	Time           time.Time
}

// TransitionRecorder records mission transitions.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// JobEvent records the outcome of one job attempt.
type JobEvent struct {
	JobID    string
	Kind     string
	Attempt  int
	Outcome  string
	Duration time.Duration
	Time     time.Time
}

// JobRecorder records job attempts.
type JobRecorder interface {
	RecordJob(ev JobEvent) error
}

// SessionRecorder tracks the number of connected realtime sessions per role.
type SessionRecorder interface {
	RecordSession(role string, delta int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDispatch(DispatchEvent) error     { return nil }
func (NopSink) RecordTransition(TransitionEvent) error { return nil }
func (NopSink) RecordJob(JobEvent) error               { return nil }
func (NopSink) RecordSession(string, int) error        { return nil }
