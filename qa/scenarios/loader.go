// Package scenarios replays declarative dispatch scenarios against the
// in-memory engine and checks winners, outcomes and collector loads.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/wastedispatch/core/model"
)

// CollectorDef describes a collector. A collector without coordinates has
// no known position.
type CollectorDef struct {
	ID        string   `yaml:"id"`
	Org       string   `yaml:"org,omitempty"`
	Lat       *float64 `yaml:"lat,omitempty"`
	Lng       *float64 `yaml:"lng,omitempty"`
	OnDuty    bool     `yaml:"on_duty"`
	Active    int      `yaml:"active,omitempty"`
	Completed int      `yaml:"completed,omitempty"`
}

func (c CollectorDef) ToModel(now time.Time) model.Collector {
	out := model.Collector{
		ID:                c.ID,
		OrganizationID:    c.Org,
		OnDuty:            c.OnDuty,
		ActiveMissions:    c.Active,
		CompletedMissions: c.Completed,
	}
	if c.Lat != nil && c.Lng != nil {
		out.Position = &model.Position{Point: model.Point{Lat: *c.Lat, Lng: *c.Lng}, Timestamp: now}
	}
	return out
}

// MissionDef describes a pending mission.
type MissionDef struct {
	ID       string   `yaml:"id"`
	Org      string   `yaml:"org,omitempty"`
	Lat      *float64 `yaml:"lat,omitempty"`
	Lng      *float64 `yaml:"lng,omitempty"`
	Urgency  string   `yaml:"urgency,omitempty"`
	WeightKg float64  `yaml:"weight_kg,omitempty"`
}

func (m MissionDef) ToModel(now time.Time) model.Mission {
	out := model.Mission{
		ID:             m.ID,
		RequesterID:    "requester-" + m.ID,
		OrganizationID: m.Org,
		Waste: model.Waste{
			Type:              "mixed",
			EstimatedWeightKg: m.WeightKg,
			Urgency:           model.Urgency(m.Urgency),
		},
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if out.Waste.Urgency == "" {
		out.Waste.Urgency = model.UrgencyNormal
	}
	if m.Lat != nil && m.Lng != nil {
		out.Pickup = &model.Point{Lat: *m.Lat, Lng: *m.Lng}
	}
	return out
}

// SettingsDef overrides the policy of one organization.
type SettingsDef struct {
	Org       string  `yaml:"org"`
	RadiusM   float64 `yaml:"radius_m,omitempty"`
	MaxActive int     `yaml:"max_active,omitempty"`
}

func (s SettingsDef) ToModel() model.OrganizationSettings {
	return model.OrganizationSettings{
		OrganizationID:                s.Org,
		AutoAssignRadiusMeters:        s.RadiusM,
		MaxActiveMissionsPerCollector: s.MaxActive,
		AutoAssignEnabled:             true,
	}.WithDefaults()
}

// Expected holds the checks applied after every mission was dispatched.
type Expected struct {
	// Winners maps mission id to the expected collector, "" for none.
	Winners map[string]string `yaml:"winners"`
	// Outcomes maps mission id to the decision log outcome.
	Outcomes map[string]string `yaml:"outcomes,omitempty"`
	// Fallback lists missions expected to use the fallback listing.
	Fallback []string `yaml:"fallback,omitempty"`
	// Active maps collector id to its final active mission count.
	Active map[string]int `yaml:"active,omitempty"`
	// Assigned is the number of pending to scheduled transitions.
	Assigned int `yaml:"assigned"`
}

// Scenario is one replayable dispatch sequence. Missions are assigned in
// order; OffDutyAfter takes a collector off duty once that many missions
// have been dispatched.
type Scenario struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description,omitempty"`
	Collectors   []CollectorDef `yaml:"collectors"`
	Settings     []SettingsDef  `yaml:"settings,omitempty"`
	Missions     []MissionDef   `yaml:"missions"`
	OffDutyAfter map[string]int `yaml:"off_duty_after,omitempty"`
	Expected     Expected       `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name required", path)
	}
	seen := make(map[string]bool, len(sc.Missions))
	for _, m := range sc.Missions {
		if m.ID == "" || seen[m.ID] {
			return nil, fmt.Errorf("%s: mission ids must be unique and non-empty", path)
		}
		seen[m.ID] = true
	}
	return &sc, nil
}
