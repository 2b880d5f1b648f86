package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// Transition is the result of a committed status change.
type Transition struct {
	Mission model.Mission
	Prior   model.Status
	// PriorCollectorID is the collector assigned before the change. It
	// differs from Mission.AssignedCollectorID only on cancellation.
	PriorCollectorID string
	Load             model.LoadChange
}

// allowed lists the legal transitions.
var allowed = map[model.Status][]model.Status{
	model.StatusPending:    {model.StatusScheduled, model.StatusCancelled},
	model.StatusScheduled:  {model.StatusInProgress, model.StatusCancelled},
	model.StatusInProgress: {model.StatusCompleted, model.StatusCancelled},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to model.Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine applies mission transitions. Transitions on one mission are
// serialised by an in-process lock; the store's compare-and-swap on status
// protects against other processes.
type Machine struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

// NewMachine returns a state machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, locks: newKeyedMutex(), now: time.Now}
}

// Assign moves a pending mission to scheduled with collectorID.
func (m *Machine) Assign(ctx context.Context, missionID, collectorID string) (Transition, error) {
	collectorID = strings.TrimSpace(collectorID)
	return m.apply(ctx, missionID, model.StatusScheduled, func(cur *model.Mission, now time.Time) error {
		if collectorID == "" {
			return errors.New("collector id required")
		}
		if cur.AssignedCollectorID != "" {
			return fmt.Errorf("already assigned to %s", cur.AssignedCollectorID)
		}
		cur.AssignedCollectorID = collectorID
		cur.ScheduledAt = &now
		return nil
	})
}

// Start moves a scheduled mission to in_progress. Only the assigned
// collector may start it.
func (m *Machine) Start(ctx context.Context, missionID, collectorID string) (Transition, error) {
	return m.apply(ctx, missionID, model.StatusInProgress, func(cur *model.Mission, now time.Time) error {
		if cur.AssignedCollectorID != collectorID {
			return fmt.Errorf("collector %q is not assigned", collectorID)
		}
		cur.StartedAt = &now
		return nil
	})
}

// Complete moves an in_progress mission to completed. Weight and notes are
// stored as given.
func (m *Machine) Complete(ctx context.Context, missionID, collectorID string, c model.Completion) (Transition, error) {
	return m.apply(ctx, missionID, model.StatusCompleted, func(cur *model.Mission, now time.Time) error {
		if cur.AssignedCollectorID != collectorID {
			return fmt.Errorf("collector %q is not assigned", collectorID)
		}
		done := c
		if c.ActualWeightKg != nil {
			w := *c.ActualWeightKg
			done.ActualWeightKg = &w
		}
		cur.Completion = &done
		cur.CompletedAt = &now
		return nil
	})
}

// Cancel moves a non-terminal mission to cancelled and releases its collector.
func (m *Machine) Cancel(ctx context.Context, missionID, reason string) (Transition, error) {
	return m.apply(ctx, missionID, model.StatusCancelled, func(cur *model.Mission, now time.Time) error {
		cur.AssignedCollectorID = ""
		cur.CancelReason = reason
		cur.CancelledAt = &now
		return nil
	})
}

// loadChange derives the collector counter updates of a transition.
func loadChange(from, to model.Status, collectorID string) model.LoadChange {
	lc := model.LoadChange{CollectorID: collectorID}
	switch {
	case to == model.StatusScheduled:
		lc.Active = 1
	case to == model.StatusCompleted:
		lc.Active = -1
		lc.Completed = 1
	case to == model.StatusCancelled && from.Active():
		lc.Active = -1
	}
	return lc
}

func (m *Machine) apply(ctx context.Context, missionID string, to model.Status, guard func(*model.Mission, time.Time) error) (Transition, error) {
	unlock := m.locks.Lock(missionID)
	defer unlock()

	cur, err := m.store.Get(ctx, missionID)
	if err != nil {
		return Transition{}, err
	}
	if !CanTransition(cur.Status, to) {
		return Transition{}, &InvalidTransitionError{MissionID: missionID, Current: cur.Status, Attempted: to}
	}
	prior := cur.Status
	priorCollector := cur.AssignedCollectorID
	now := m.now().UTC()

	next := cur
	if err := guard(&next, now); err != nil {
		return Transition{}, &InvalidTransitionError{MissionID: missionID, Current: prior, Attempted: to, Reason: err.Error()}
	}
	next.Status = to
	next.UpdatedAt = now
	if err := next.CheckInvariant(); err != nil {
		return Transition{}, err
	}

	collector := next.AssignedCollectorID
	if collector == "" {
		collector = priorCollector
	}
	lc := loadChange(prior, to, collector)
	if err := m.store.Commit(ctx, prior, next, lc); err != nil {
		if errors.Is(err, ErrConflict) {
			latest, gerr := m.store.Get(ctx, missionID)
			if gerr != nil {
				return Transition{}, gerr
			}
			return Transition{}, &InvalidTransitionError{MissionID: missionID, Current: latest.Status, Attempted: to, Reason: "concurrent update"}
		}
		return Transition{}, fmt.Errorf("commit %s -> %s: %w", prior, to, err)
	}
	return Transition{Mission: next, Prior: prior, PriorCollectorID: priorCollector, Load: lc}, nil
}
