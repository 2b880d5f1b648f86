package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchDuration   *prometheus.HistogramVec
	dispatchOutcomes   *prometheus.CounterVec
	candidatesConsider prometheus.Histogram
	fallbackUsed       prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Histogram, prometheus.Counter) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time spent computing a dispatch plan",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	out := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Number of dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)
	cand := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_candidates",
			Help:    "Collectors considered per dispatch after filtering",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
	fb := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_fallback_total",
			Help: "Number of dispatches that used the fallback listing",
		},
	)
	return dur, out, cand, fb
}

func init() {
	dispatchDuration, dispatchOutcomes, candidatesConsider, fallbackUsed = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(dispatchDuration, dispatchOutcomes, candidatesConsider, fallbackUsed)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	dispatchDuration, dispatchOutcomes, candidatesConsider, fallbackUsed = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
