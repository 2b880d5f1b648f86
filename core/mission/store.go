package mission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// LoadAdjuster applies collector load changes. geoindex.Fleet implements it.
type LoadAdjuster interface {
	AdjustLoad(ctx context.Context, change model.LoadChange) error
}

// Query selects missions. Zero fields match all.
type Query struct {
	RequesterID    string
	CollectorID    string
	OrganizationID string
	Statuses       []model.Status
	// CreatedBefore keeps missions created strictly before the instant.
	CreatedBefore time.Time
	Limit         int
}

func (q Query) match(m model.Mission) bool {
	if q.RequesterID != "" && m.RequesterID != q.RequesterID {
		return false
	}
	if q.CollectorID != "" && m.AssignedCollectorID != q.CollectorID {
		return false
	}
	if q.OrganizationID != "" && m.OrganizationID != q.OrganizationID {
		return false
	}
	if !q.CreatedBefore.IsZero() && !m.CreatedAt.Before(q.CreatedBefore) {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if m.Status == s {
			return true
		}
	}
	return false
}

// Store persists missions.
type Store interface {
	Insert(ctx context.Context, m model.Mission) error
	Get(ctx context.Context, id string) (model.Mission, error)
	// Commit replaces the mission when its stored status equals expected
	// and applies load in the same atomic step. It returns ErrConflict when
	// the status changed meanwhile; nothing is written in that case.
	Commit(ctx context.Context, expected model.Status, next model.Mission, load model.LoadChange) error
	// Find returns matching missions ordered by creation time, oldest first.
	Find(ctx context.Context, q Query) ([]model.Mission, error)
}

// MemoryStore keeps missions in memory and applies load changes under the
// same lock as the status write.
type MemoryStore struct {
	mu       sync.Mutex
	missions map[string]model.Mission
	load     LoadAdjuster
}

// NewMemoryStore returns an empty store. load may be nil when no collector
// counters are tracked.
func NewMemoryStore(load LoadAdjuster) *MemoryStore {
	return &MemoryStore{missions: make(map[string]model.Mission), load: load}
}

func (s *MemoryStore) Insert(_ context.Context, m model.Mission) error {
	if m.ID == "" {
		return fmt.Errorf("%w: id required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; ok {
		return fmt.Errorf("mission %s already exists", m.ID)
	}
	s.missions[m.ID] = cloneMission(m)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return model.Mission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneMission(m), nil
}

func (s *MemoryStore) Commit(ctx context.Context, expected model.Status, next model.Mission, load model.LoadChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.missions[next.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, next.ID)
	}
	if cur.Status != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrConflict, next.ID, cur.Status, expected)
	}
	if !load.IsZero() && s.load != nil {
		if err := s.load.AdjustLoad(ctx, load); err != nil {
			return fmt.Errorf("adjust load: %w", err)
		}
	}
	s.missions[next.ID] = cloneMission(next)
	return nil
}

func (s *MemoryStore) Find(_ context.Context, q Query) ([]model.Mission, error) {
	s.mu.Lock()
	var out []model.Mission
	for _, m := range s.missions {
		if q.match(m) {
			out = append(out, cloneMission(m))
		}
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func cloneMission(m model.Mission) model.Mission {
	cp := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	if m.Pickup != nil {
		p := *m.Pickup
		m.Pickup = &p
	}
	m.ScheduledAt = cp(m.ScheduledAt)
	m.StartedAt = cp(m.StartedAt)
	m.CompletedAt = cp(m.CompletedAt)
	m.CancelledAt = cp(m.CancelledAt)
	if m.Completion != nil {
		c := *m.Completion
		if c.ActualWeightKg != nil {
			w := *c.ActualWeightKg
			c.ActualWeightKg = &w
		}
		m.Completion = &c
	}
	return m
}
