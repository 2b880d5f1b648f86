package model

import "errors"

// Default organization policy values.
const (
	DefaultAutoAssignRadiusMeters        = 10000.0
	DefaultMaxActiveMissionsPerCollector = 5
)

// OrganizationSettings is the per-organization dispatch policy.
type OrganizationSettings struct {
	OrganizationID                string  `json:"organization_id" bson:"_id"`
	AutoAssignRadiusMeters        float64 `json:"auto_assign_radius_m" bson:"auto_assign_radius_m"`
	MaxActiveMissionsPerCollector int     `json:"max_active_missions_per_collector" bson:"max_active_missions_per_collector"`
	AutoAssignEnabled             bool    `json:"auto_assign_enabled" bson:"auto_assign_enabled"`
}

// DefaultOrganizationSettings returns the policy used when an organization
// is absent or has no settings.
func DefaultOrganizationSettings() OrganizationSettings {
	return OrganizationSettings{
		AutoAssignRadiusMeters:        DefaultAutoAssignRadiusMeters,
		MaxActiveMissionsPerCollector: DefaultMaxActiveMissionsPerCollector,
		AutoAssignEnabled:             true,
	}
}

// WithDefaults fills zero values with the defaults.
func (s OrganizationSettings) WithDefaults() OrganizationSettings {
	if s.AutoAssignRadiusMeters <= 0 {
		s.AutoAssignRadiusMeters = DefaultAutoAssignRadiusMeters
	}
	if s.MaxActiveMissionsPerCollector <= 0 {
		s.MaxActiveMissionsPerCollector = DefaultMaxActiveMissionsPerCollector
	}
	return s
}

// ErrOrganizationNotFound is returned by settings providers for unknown
// organizations. Consumers fall back to DefaultOrganizationSettings.
var ErrOrganizationNotFound = errors.New("organization not found")
