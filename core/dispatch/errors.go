package dispatch

import "errors"

var (
	// ErrNoAvailableCollector is returned when no collector survives the
	// radius query, fallback listing and load filter.
	ErrNoAvailableCollector = errors.New("dispatch: no available collector")
	// ErrDispatchTimeout is returned when the candidate lookup exceeds the
	// configured time budget. It is transient and safe to retry.
	ErrDispatchTimeout = errors.New("dispatch: timeout")
	// ErrMissionNotPending is returned by Engine.Assign for missions that
	// are no longer waiting for a collector.
	ErrMissionNotPending = errors.New("dispatch: mission not pending")
)
