package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/queue"
)

// DefaultCellDegrees is the heatmap grid resolution, about 1 km.
const DefaultCellDegrees = 0.01

// Cell is one heatmap bucket, located at its south-west corner.
type Cell struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Count  int     `json:"count"`
	Weight float64 `json:"weight"`
}

// Heatmap is the demand density of pending pickups.
type Heatmap struct {
	OrganizationID string    `json:"organization_id"`
	CellDegrees    float64   `json:"cell_degrees"`
	Cells          []Cell    `json:"cells"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// HeatmapKey is the cache key of an organization's heatmap.
func HeatmapKey(organizationID string) string { return cache.PrefixHeatmap + organizationID }

// MissionFinder lists missions. mission.Store implements it.
type MissionFinder interface {
	Find(ctx context.Context, q mission.Query) ([]model.Mission, error)
}

// BuildHeatmap buckets the pickups of missions into a grid weighted by
// urgency and normalises the weights to [0,1]. Missions without a pickup
// are skipped.
func BuildHeatmap(orgID string, missions []model.Mission, cellDeg float64, now time.Time) Heatmap {
	if cellDeg <= 0 {
		cellDeg = DefaultCellDegrees
	}
	type key struct{ lat, lng int64 }
	idx := make(map[key]int)
	var cells []Cell
	var weights []float64
	for _, m := range missions {
		if m.Pickup == nil {
			continue
		}
		k := key{int64(math.Floor(m.Pickup.Lat / cellDeg)), int64(math.Floor(m.Pickup.Lng / cellDeg))}
		i, ok := idx[k]
		if !ok {
			i = len(cells)
			idx[k] = i
			cells = append(cells, Cell{Lat: float64(k.lat) * cellDeg, Lng: float64(k.lng) * cellDeg})
			weights = append(weights, 0)
		}
		cells[i].Count++
		weights[i] += m.Waste.Urgency.Weight()
	}
	if len(weights) > 0 {
		if top := floats.Max(weights); top > 0 {
			floats.Scale(1/top, weights)
		}
	}
	for i := range cells {
		cells[i].Weight = weights[i]
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Weight != cells[j].Weight {
			return cells[i].Weight > cells[j].Weight
		}
		if cells[i].Lat != cells[j].Lat {
			return cells[i].Lat < cells[j].Lat
		}
		return cells[i].Lng < cells[j].Lng
	})
	return Heatmap{OrganizationID: orgID, CellDegrees: cellDeg, Cells: cells, GeneratedAt: now.UTC()}
}

// HeatmapHandler processes recompute-heatmap jobs.
type HeatmapHandler struct {
	Missions    MissionFinder
	Cache       cache.Cache
	CellDegrees float64
	TTL         time.Duration
}

func (h *HeatmapHandler) Handle(ctx context.Context, job queue.Job) error {
	var p queue.HeatmapPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	pending, err := h.Missions.Find(ctx, mission.Query{
		OrganizationID: p.OrganizationID,
		Statuses:       []model.Status{model.StatusPending},
	})
	if err != nil {
		return fmt.Errorf("heatmap: list pending missions: %w", err)
	}
	hm := BuildHeatmap(p.OrganizationID, pending, h.CellDegrees, time.Now())
	return cache.SetJSON(ctx, h.Cache, HeatmapKey(p.OrganizationID), hm, h.TTL)
}
