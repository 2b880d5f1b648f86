package dispatch

import "github.com/kilianp07/wastedispatch/core/model"

// RouteStop is one pickup in a planned route.
type RouteStop struct {
	MissionID string       `json:"mission_id"`
	Point     *model.Point `json:"point,omitempty"`
	// LegMeters is the distance from the previous stop (or the start).
	LegMeters float64 `json:"leg_m"`
}

// Route is an ordered list of pickups.
type Route struct {
	Stops       []RouteStop `json:"stops"`
	TotalMeters float64     `json:"total_m"`
}

// PlanRoute orders pickups greedily, always visiting the nearest unvisited
// pickup next. When start is nil the first located pickup is the origin.
// Missions without a pickup point are appended at the end in input order.
// Ties keep input order.
func PlanRoute(start *model.Point, missions []model.Mission) Route {
	var (
		located   []model.Mission
		unlocated []model.Mission
	)
	for _, m := range missions {
		if m.Pickup == nil {
			unlocated = append(unlocated, m)
			continue
		}
		located = append(located, m)
	}

	route := Route{Stops: make([]RouteStop, 0, len(missions))}
	var cur *model.Point
	if start != nil {
		p := *start
		cur = &p
	}
	visited := make([]bool, len(located))
	for range located {
		best := -1
		bestDist := 0.0
		for i, m := range located {
			if visited[i] {
				continue
			}
			d := 0.0
			if cur != nil {
				d = model.DistanceMeters(*cur, *m.Pickup)
			}
			if best == -1 || d < bestDist {
				best, bestDist = i, d
			}
		}
		visited[best] = true
		p := *located[best].Pickup
		route.Stops = append(route.Stops, RouteStop{MissionID: located[best].ID, Point: &p, LegMeters: bestDist})
		route.TotalMeters += bestDist
		cur = &p
	}
	for _, m := range unlocated {
		route.Stops = append(route.Stops, RouteStop{MissionID: m.ID})
	}
	return route
}
