package metrics

import (
	coremetrics "github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exposes mission, job and session activity as Prometheus metrics.
type PromSink struct {
	scores      *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobLatency  *prometheus.HistogramVec
	sessions    *prometheus.GaugeVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	scores, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mission_dispatch_score",
		Help:    "Score of the winning collector per dispatch",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}, []string{"fallback"}))
	if err != nil {
		return nil, err
	}
	transitions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mission_transitions_total",
		Help: "Committed mission status changes",
	}, []string{"from", "to"}))
	if err != nil {
		return nil, err
	}
	jobs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_attempts_total",
		Help: "Job attempts by kind and outcome",
	}, []string{"kind", "outcome"}))
	if err != nil {
		return nil, err
	}
	jobLatency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Handler duration per job attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	sessions, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_sessions",
		Help: "Connected realtime sessions by role",
	}, []string{"role"}))
	if err != nil {
		return nil, err
	}
	return &PromSink{
		scores:      scores,
		transitions: transitions,
		jobs:        jobs,
		jobLatency:  jobLatency,
		sessions:    sessions,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

// RecordDispatch observes the winning score of successful dispatches.
func (s *PromSink) RecordDispatch(ev coremetrics.DispatchEvent) error {
	if ev.WinnerID == "" {
		return nil
	}
	fb := "false"
	if ev.UsedFallback {
		fb = "true"
	}
	s.scores.WithLabelValues(fb).Observe(ev.Score)
	return nil
}

// RecordTransition counts a mission status change.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

// RecordJob counts a job attempt and its duration.
func (s *PromSink) RecordJob(ev coremetrics.JobEvent) error {
	s.jobs.WithLabelValues(ev.Kind, ev.Outcome).Inc()
	s.jobLatency.WithLabelValues(ev.Kind).Observe(ev.Duration.Seconds())
	return nil
}

// RecordSession adjusts the connected-session gauge for role.
func (s *PromSink) RecordSession(role string, delta int) error {
	s.sessions.WithLabelValues(role).Add(float64(delta))
	return nil
}
