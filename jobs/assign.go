package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/queue"
)

// DefaultMaxRedispatch bounds the delayed retries chained by one
// assignment job. Missions still pending afterwards are picked up by the
// re-dispatch sweep.
const DefaultMaxRedispatch = 10

// Assigner runs dispatch and schedules the winner. mission.Service
// implements it.
type Assigner interface {
	Assign(ctx context.Context, missionID string) (mission.Transition, dispatch.Result, error)
}

// AssignHandler processes assign-collector jobs.
type AssignHandler struct {
	Assigner      Assigner
	Jobs          mission.Enqueuer
	Delay         time.Duration
	MaxRedispatch int
	Log           logger.Logger
}

// Handle assigns the mission. A mission that is no longer pending was
// assigned or cancelled meanwhile, which counts as success. When no
// collector is available the mission stays pending and a delayed job is
// queued; timeouts are returned so that the queue retries with backoff.
func (h *AssignHandler) Handle(ctx context.Context, job queue.Job) error {
	var p queue.AssignPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.MissionID == "" {
		return queue.Permanent(errors.New("assign: mission_id required"))
	}
	log := logger.OrNop(h.Log)

	tr, _, err := h.Assigner.Assign(ctx, p.MissionID)
	switch {
	case err == nil:
		log.Infof("mission %s assigned to %s", p.MissionID, tr.Mission.AssignedCollectorID)
		return nil
	case errors.Is(err, mission.ErrInvalidTransition), errors.Is(err, dispatch.ErrMissionNotPending):
		log.Debugf("mission %s no longer pending: %v", p.MissionID, err)
		return nil
	case errors.Is(err, mission.ErrNotFound):
		return queue.Permanent(err)
	case errors.Is(err, dispatch.ErrNoAvailableCollector):
		return h.redispatch(ctx, p, log)
	default:
		return err
	}
}

func (h *AssignHandler) redispatch(ctx context.Context, p queue.AssignPayload, log logger.Logger) error {
	limit := h.MaxRedispatch
	if limit <= 0 {
		limit = DefaultMaxRedispatch
	}
	if h.Jobs == nil || p.Redispatch >= limit {
		log.Warnf("mission %s left pending, no collector available", p.MissionID)
		return nil
	}
	p.Redispatch++
	if _, err := h.Jobs.Enqueue(ctx, queue.KindAssignCollector, p, queue.WithDelay(h.Delay), queue.WithID(queue.AssignJobID(p.MissionID))); err != nil {
		return err
	}
	log.Infof("mission %s re-dispatch %d scheduled in %s", p.MissionID, p.Redispatch, h.Delay)
	return nil
}
