package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/queue"
)

// ScheduleConfig defines the recurring jobs. Specs use the robfig/cron
// syntax, including descriptors such as "@every 5m". An empty spec takes
// the default; "off" disables the job.
type ScheduleConfig struct {
	Cleanup    string `json:"cleanup" koanf:"cleanup"`
	Heatmap    string `json:"heatmap" koanf:"heatmap"`
	Redispatch string `json:"redispatch" koanf:"redispatch"`
	// RedispatchAfter is the age after which a pending mission is queued
	// for assignment again.
	RedispatchAfter time.Duration `json:"redispatch_after" koanf:"redispatch_after"`
	// Organizations receive a heatmap each; empty means one heatmap over
	// every organization.
	Organizations []string `json:"organizations" koanf:"organizations"`
}

// SetDefaults fills zero values.
func (c *ScheduleConfig) SetDefaults() {
	if c.Cleanup == "" {
		c.Cleanup = "@every 10m"
	}
	if c.Heatmap == "" {
		c.Heatmap = "@every 5m"
	}
	if c.Redispatch == "" {
		c.Redispatch = "@every 2m"
	}
	if c.RedispatchAfter <= 0 {
		c.RedispatchAfter = 5 * time.Minute
	}
}

// Validate parses every spec.
func (c ScheduleConfig) Validate() error {
	for name, spec := range map[string]string{"cleanup": c.Cleanup, "heatmap": c.Heatmap, "redispatch": c.Redispatch} {
		if spec == "" || spec == "off" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule.%s: %w", name, err)
		}
	}
	return nil
}

// Redispatcher re-queues stale pending missions. mission.Service implements it.
type Redispatcher interface {
	RedispatchPending(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler enqueues maintenance jobs on a cron timetable. Work runs on
// the queue; the cron callbacks only enqueue.
type Scheduler struct {
	cron       *cron.Cron
	cfg        ScheduleConfig
	jobs       mission.Enqueuer
	redispatch Redispatcher
	log        logger.Logger
}

// NewScheduler registers the configured entries. Nothing runs before Start.
func NewScheduler(cfg ScheduleConfig, jobs mission.Enqueuer, r Redispatcher, log logger.Logger) (*Scheduler, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		cfg:        cfg,
		jobs:       jobs,
		redispatch: r,
		log:        logger.OrNop(log),
	}
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"cleanup", cfg.Cleanup, s.enqueueCleanup},
		{"heatmap", cfg.Heatmap, s.enqueueHeatmaps},
		{"redispatch", cfg.Redispatch, s.sweepPending},
	}
	for _, e := range entries {
		if e.spec == "off" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			return nil, fmt.Errorf("register %s job: %w", e.name, err)
		}
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("scheduler started with %d entries", len(s.cron.Entries()))
}

// Stop waits for running callbacks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Infof("scheduler stopped")
}

func (s *Scheduler) enqueueCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.jobs.Enqueue(ctx, queue.KindCleanup, queue.CleanupPayload{}); err != nil {
		s.log.Errorf("enqueue cleanup: %v", err)
	}
}

func (s *Scheduler) enqueueHeatmaps() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orgs := s.cfg.Organizations
	if len(orgs) == 0 {
		orgs = []string{""}
	}
	for _, org := range orgs {
		if _, err := s.jobs.Enqueue(ctx, queue.KindRecomputeHeatmap, queue.HeatmapPayload{OrganizationID: org}); err != nil {
			s.log.Errorf("enqueue heatmap %q: %v", org, err)
		}
	}
}

func (s *Scheduler) sweepPending() {
	if s.redispatch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.redispatch.RedispatchPending(ctx, s.cfg.RedispatchAfter); err != nil {
		s.log.Errorf("re-dispatch sweep: %v", err)
	}
}
