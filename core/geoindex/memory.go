package geoindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/wastedispatch/core/model"
)

// MemoryFleet keeps collectors in memory. Queries scan the whole fleet, which
// is fine for the few thousand collectors a single organization runs.
type MemoryFleet struct {
	mu         sync.RWMutex
	collectors map[string]model.Collector
	order      []string
}

// NewMemoryFleet returns a fleet seeded with cs.
func NewMemoryFleet(cs ...model.Collector) *MemoryFleet {
	f := &MemoryFleet{collectors: make(map[string]model.Collector)}
	for _, c := range cs {
		_ = f.Upsert(context.Background(), c)
	}
	return f
}

// Upsert inserts or replaces a collector.
func (f *MemoryFleet) Upsert(_ context.Context, c model.Collector) error {
	if c.ID == "" {
		return fmt.Errorf("geoindex: collector id required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collectors[c.ID]; !ok {
		f.order = append(f.order, c.ID)
	}
	f.collectors[c.ID] = clone(c)
	return nil
}

// Register implements Fleet.
func (f *MemoryFleet) Register(_ context.Context, c model.Collector) (model.Collector, error) {
	if c.ID == "" {
		return model.Collector{}, fmt.Errorf("geoindex: collector id required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.collectors[c.ID]
	if !ok {
		f.order = append(f.order, c.ID)
		cur = model.Collector{ID: c.ID}
	}
	cur.Name = c.Name
	cur.OrganizationID = c.OrganizationID
	cur.OnDuty = c.OnDuty
	f.collectors[c.ID] = cur
	return clone(cur), nil
}

// Get returns a copy of the collector.
func (f *MemoryFleet) Get(_ context.Context, id string) (model.Collector, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.collectors[id]
	if !ok {
		return model.Collector{}, fmt.Errorf("%w: %s", ErrUnknownCollector, id)
	}
	return clone(c), nil
}

// UpdatePosition stores the last known position. Stale fixes (older than the
// stored timestamp) are ignored.
func (f *MemoryFleet) UpdatePosition(_ context.Context, id string, pos model.Position) error {
	if err := pos.Point.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collectors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, id)
	}
	if c.Position != nil && pos.Timestamp.Before(c.Position.Timestamp) {
		return nil
	}
	p := pos
	c.Position = &p
	f.collectors[id] = c
	return nil
}

// SetOnDuty toggles availability.
func (f *MemoryFleet) SetOnDuty(_ context.Context, id string, onDuty bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collectors[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, id)
	}
	c.OnDuty = onDuty
	f.collectors[id] = c
	return nil
}

// AdjustLoad applies a load change atomically. The change is rejected as a
// whole when any counter would become negative.
func (f *MemoryFleet) AdjustLoad(_ context.Context, change model.LoadChange) error {
	if change.IsZero() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collectors[change.CollectorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollector, change.CollectorID)
	}
	active := c.ActiveMissions + change.Active
	completed := c.CompletedMissions + change.Completed
	if active < 0 || completed < 0 {
		return fmt.Errorf("%w: collector %s active=%d completed=%d", ErrNegativeLoad, c.ID, active, completed)
	}
	c.ActiveMissions = active
	c.CompletedMissions = completed
	f.collectors[c.ID] = c
	return nil
}

// QueryWithinRadius implements Index.
func (f *MemoryFleet) QueryWithinRadius(ctx context.Context, center model.Point, radiusMeters float64, flt Filter) ([]model.Collector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type hit struct {
		c model.Collector
		d float64
	}
	f.mu.RLock()
	var hits []hit
	for _, id := range f.order {
		c := f.collectors[id]
		if c.Position == nil || !flt.Match(c) {
			continue
		}
		d := model.DistanceMeters(center, c.Position.Point)
		if d <= radiusMeters {
			hits = append(hits, hit{c: clone(c), d: d})
		}
	}
	f.mu.RUnlock()
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	out := make([]model.Collector, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out, nil
}

// ListAll implements Index. Collectors are returned in insertion order.
func (f *MemoryFleet) ListAll(ctx context.Context, flt Filter, limit int) ([]model.Collector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []model.Collector
	for _, id := range f.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := f.collectors[id]
		if flt.Match(c) {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func clone(c model.Collector) model.Collector {
	if c.Position != nil {
		p := *c.Position
		c.Position = &p
	}
	return c
}
