package model

// Collector is a mobile agent able to perform pickups.
type Collector struct {
	ID             string    `json:"id" bson:"_id"`
	Name           string    `json:"name,omitempty" bson:"name,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty" bson:"organization_id,omitempty"`
	OnDuty         bool      `json:"on_duty" bson:"on_duty"`
	Position       *Position `json:"position,omitempty" bson:"position,omitempty"`
	// ActiveMissions counts missions in scheduled or in_progress state.
	ActiveMissions int `json:"active_missions" bson:"active_missions"`
	// CompletedMissions is the historical number of completed missions.
	CompletedMissions int `json:"completed_missions" bson:"completed_missions"`
}

// LoadChange describes the counter updates derived from a mission transition.
// It is applied in the same commit as the transition itself.
type LoadChange struct {
	CollectorID string
	Active      int
	Completed   int
}

// IsZero reports whether the change has no effect.
func (c LoadChange) IsZero() bool {
	return c.CollectorID == "" || (c.Active == 0 && c.Completed == 0)
}
