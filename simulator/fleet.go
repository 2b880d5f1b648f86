package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// FleetConfig holds parameters for bulk fleet generation.
type FleetConfig struct {
	Size         int
	Organization string
	Center       model.Point
	SpreadM      float64
	Duty         [24]float64
}

// GenerateFleet creates Size collectors with IDs col0001..colNNNN placed
// uniformly within SpreadM of Center.
func GenerateFleet(cfg FleetConfig) []SimulatedCollector {
	if cfg.Size <= 0 {
		return nil
	}
	cs := make([]SimulatedCollector, cfg.Size)
	for i := range cs {
		r := cfg.SpreadM * math.Sqrt(fleetRng.Float64())
		cs[i] = SimulatedCollector{
			ID:             fmt.Sprintf("col%04d", i+1),
			OrganizationID: cfg.Organization,
			Center:         cfg.Center,
			SpreadM:        cfg.SpreadM,
			Duty:           cfg.Duty,
			pos:            offset(cfg.Center, r, fleetRng.Float64()*2*math.Pi),
		}
	}
	return cs
}

// FullDuty keeps collectors on duty around the clock.
func FullDuty() [24]float64 {
	var prof [24]float64
	for i := range prof {
		prof[i] = 1
	}
	return prof
}

// LoadDutyProfile reads an hourly on-duty probability profile from JSON
// keyed by hour ("0".."23"). Missing hours are off duty.
func LoadDutyProfile(data []byte) ([24]float64, error) {
	var m map[string]float64
	var prof [24]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return prof, err
	}
	for h, v := range m {
		var hour int
		if _, err := fmt.Sscanf(h, "%d", &hour); err != nil {
			continue
		}
		if hour >= 0 && hour < 24 {
			prof[hour] = math.Max(0, math.Min(1, v))
		}
	}
	return prof, nil
}
