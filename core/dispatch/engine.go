package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/wastedispatch/core/events"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/metrics"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/internal/eventbus"
)

// Result is the outcome of a successful dispatch plan.
type Result struct {
	MissionID    string                     `json:"mission_id"`
	Winner       Candidate                  `json:"winner"`
	Alternatives []Candidate                `json:"alternatives"`
	UsedFallback bool                       `json:"used_fallback"`
	Considered   int                        `json:"considered"`
	Settings     model.OrganizationSettings `json:"settings"`
}

// Engine picks a collector for a mission. It reads the index and the
// organization policy but never writes; callers drive the mission state
// machine with the winner.
type Engine struct {
	index    geoindex.Index
	missions MissionReader
	settings OrgSettingsProvider
	scorer   Scorer
	filter   CollectorFilter
	fallback FallbackStrategy
	cfg      Config
	log      logger.Logger
	sink     metrics.MetricsSink
	bus      eventbus.EventBus
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = logger.OrNop(l) } }

// WithMetrics sets the sink receiving one DispatchEvent per run.
func WithMetrics(s metrics.MetricsSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithEventBus publishes events.DispatchAttempted on bus.
func WithEventBus(bus eventbus.EventBus) Option { return func(e *Engine) { e.bus = bus } }

// WithFallback replaces the listing fallback.
func WithFallback(f FallbackStrategy) Option {
	return func(e *Engine) {
		if f != nil {
			e.fallback = f
		}
	}
}

// WithFilter replaces the load filter.
func WithFilter(f CollectorFilter) Option {
	return func(e *Engine) {
		if f != nil {
			e.filter = f
		}
	}
}

// NewEngine creates a dispatch engine.
func NewEngine(idx geoindex.Index, missions MissionReader, settings OrgSettingsProvider, cfg Config, opts ...Option) (*Engine, error) {
	if idx == nil || missions == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		index:    idx,
		missions: missions,
		settings: settings,
		scorer:   Scorer{Weights: cfg.Weights},
		filter:   LoadFilter{},
		fallback: ListingFallback{Limit: cfg.FallbackLimit},
		cfg:      cfg,
		log:      logger.NopLogger{},
		sink:     metrics.NopSink{},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Assign loads the mission and computes its dispatch plan. organizationID
// overrides the mission's own organization when non-empty.
func (e *Engine) Assign(ctx context.Context, missionID, organizationID string) (Result, error) {
	m, err := e.missions.Get(ctx, missionID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: load mission %s: %w", missionID, err)
	}
	if m.Status != model.StatusPending {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrMissionNotPending, m.ID, m.Status)
	}
	if organizationID != "" {
		m.OrganizationID = organizationID
	}
	return e.Plan(ctx, m)
}

// Plan computes the dispatch plan for m without checking its status.
func (e *Engine) Plan(ctx context.Context, m model.Mission) (Result, error) {
	start := time.Now()
	res, err := e.plan(ctx, m)
	e.observe(m, res, err, time.Since(start))
	return res, err
}

func (e *Engine) plan(ctx context.Context, m model.Mission) (Result, error) {
	settings, err := ResolveSettings(ctx, e.settings, m.OrganizationID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: organization settings: %w", err)
	}
	collectors, usedFallback, err := e.lookup(ctx, m, settings)
	if err != nil {
		return Result{}, err
	}
	eligible := e.filter.Filter(collectors, settings)
	if len(eligible) == 0 {
		return Result{MissionID: m.ID, UsedFallback: usedFallback, Settings: settings},
			fmt.Errorf("%w for mission %s (%d found)", ErrNoAvailableCollector, m.ID, len(collectors))
	}
	ranked := e.scorer.Score(m, eligible)
	res := Result{
		MissionID:    m.ID,
		Winner:       ranked[0],
		UsedFallback: usedFallback,
		Considered:   len(ranked),
		Settings:     settings,
	}
	rest := ranked[1:]
	if len(rest) > e.cfg.Alternatives {
		rest = rest[:e.cfg.Alternatives]
	}
	res.Alternatives = append([]Candidate(nil), rest...)
	return res, nil
}

type lookupResult struct {
	collectors []model.Collector
	fallback   bool
	err        error
}

// lookup runs the radius query and fallback under the time budget. The work
// runs in its own goroutine so that an index ignoring its context cannot
// hold the caller past the budget.
func (e *Engine) lookup(ctx context.Context, m model.Mission, s model.OrganizationSettings) ([]model.Collector, bool, error) {
	budget, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		cs, fb, err := e.query(budget, m, s)
		done <- lookupResult{collectors: cs, fallback: fb, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			if errors.Is(r.err, context.DeadlineExceeded) || budget.Err() != nil {
				return nil, false, fmt.Errorf("%w after %s: %v", ErrDispatchTimeout, e.cfg.Timeout, r.err)
			}
			return nil, false, fmt.Errorf("dispatch: candidate lookup: %w", r.err)
		}
		return r.collectors, r.fallback, nil
	case <-budget.Done():
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, fmt.Errorf("%w after %s", ErrDispatchTimeout, e.cfg.Timeout)
	}
}

func (e *Engine) query(ctx context.Context, m model.Mission, s model.OrganizationSettings) ([]model.Collector, bool, error) {
	f := geoindex.Filter{OrganizationID: m.OrganizationID, OnDutyOnly: true}
	if m.Pickup != nil {
		cs, err := e.index.QueryWithinRadius(ctx, *m.Pickup, s.AutoAssignRadiusMeters, f)
		if err != nil {
			return nil, false, err
		}
		if len(cs) > 0 {
			return cs, false, nil
		}
	}
	e.log.Debugf("no collector within %.0fm of mission %s, using fallback listing", s.AutoAssignRadiusMeters, m.ID)
	cs, err := e.fallback.Candidates(ctx, e.index, f)
	return cs, true, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "assigned"
	case errors.Is(err, ErrNoAvailableCollector):
		return "no_collector"
	case errors.Is(err, ErrDispatchTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func (e *Engine) observe(m model.Mission, res Result, err error, d time.Duration) {
	out := outcome(err)
	dispatchDuration.WithLabelValues(out).Observe(d.Seconds())
	dispatchOutcomes.WithLabelValues(out).Inc()
	candidatesConsider.Observe(float64(res.Considered))
	if res.UsedFallback {
		fallbackUsed.Inc()
	}

	ev := metrics.DispatchEvent{
		MissionID:      m.ID,
		OrganizationID: m.OrganizationID,
		WinnerID:       res.Winner.Collector.ID,
		Score:          res.Winner.Score,
		Considered:     res.Considered,
		UsedFallback:   res.UsedFallback,
		Outcome:        out,
		Duration:       d,
		Time:           time.Now(),
	}
	if rerr := e.sink.RecordDispatch(ev); rerr != nil {
		e.log.Errorf("metrics error: %v", rerr)
	}
	if e.bus != nil {
		e.bus.Publish(events.DispatchAttempted{
			MissionID:      m.ID,
			OrganizationID: m.OrganizationID,
			WinnerID:       res.Winner.Collector.ID,
			Score:          res.Winner.Score,
			Considered:     res.Considered,
			UsedFallback:   res.UsedFallback,
			Outcome:        out,
			Duration:       d,
			Err:            err,
		})
	}
	if err != nil {
		e.log.Warnf("dispatch %s: %v", m.ID, err)
		return
	}
	e.log.Infow("dispatch planned", map[string]any{
		"mission_id":   m.ID,
		"collector_id": res.Winner.Collector.ID,
		"score":        res.Winner.Score,
		"considered":   res.Considered,
		"fallback":     res.UsedFallback,
	})
}
