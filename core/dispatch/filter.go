package dispatch

import "github.com/kilianp07/wastedispatch/core/model"

// CollectorFilter removes collectors that must not receive a mission.
type CollectorFilter interface {
	Filter(collectors []model.Collector, settings model.OrganizationSettings) []model.Collector
}

// LoadFilter drops collectors already carrying the maximum number of active
// missions allowed by the organization. Collectors flagged off duty are
// dropped as well since fallback listings may include stale entries.
type LoadFilter struct{}

func (LoadFilter) Filter(collectors []model.Collector, settings model.OrganizationSettings) []model.Collector {
	out := make([]model.Collector, 0, len(collectors))
	for _, c := range collectors {
		if !c.OnDuty {
			continue
		}
		if c.ActiveMissions >= settings.MaxActiveMissionsPerCollector {
			continue
		}
		out = append(out, c)
	}
	return out
}
