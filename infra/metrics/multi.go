package metrics

import (
	"errors"

	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
)

// MultiSink fans events out to multiple sinks. Every sink receives the event
// even when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDispatch forwards dispatch events to all sinks.
func (m *MultiSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordDispatch(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordTransition forwards transitions to sinks that record them.
func (m *MultiSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TransitionRecorder); ok {
			if err := rec.RecordTransition(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordJob forwards job attempts to sinks that record them.
func (m *MultiSink) RecordJob(ev coremetrics.JobEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.JobRecorder); ok {
			if err := rec.RecordJob(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordSession forwards session gauges to sinks that record them.
func (m *MultiSink) RecordSession(role string, delta int) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.SessionRecorder); ok {
			if err := rec.RecordSession(role, delta); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
