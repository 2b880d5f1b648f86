package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/wastedispatch/core/model"
)

// OrgSettingsProvider resolves the dispatch policy of an organization.
// Implementations return model.ErrOrganizationNotFound for unknown ids.
type OrgSettingsProvider interface {
	Settings(ctx context.Context, organizationID string) (model.OrganizationSettings, error)
}

// MissionReader loads missions by id.
type MissionReader interface {
	Get(ctx context.Context, id string) (model.Mission, error)
}

// ResolveSettings returns the policy for organizationID with defaults applied.
// An empty id or an unknown organization yields the defaults.
func ResolveSettings(ctx context.Context, p OrgSettingsProvider, organizationID string) (model.OrganizationSettings, error) {
	if p == nil || organizationID == "" {
		return model.DefaultOrganizationSettings(), nil
	}
	s, err := p.Settings(ctx, organizationID)
	if errors.Is(err, model.ErrOrganizationNotFound) {
		d := model.DefaultOrganizationSettings()
		d.OrganizationID = organizationID
		return d, nil
	}
	if err != nil {
		return model.OrganizationSettings{}, err
	}
	s.OrganizationID = organizationID
	return s.WithDefaults(), nil
}

// MemorySettings is an in-process OrgSettingsProvider.
type MemorySettings struct {
	mu   sync.RWMutex
	orgs map[string]model.OrganizationSettings
}

// NewMemorySettings returns a provider seeded with the given settings.
func NewMemorySettings(settings ...model.OrganizationSettings) *MemorySettings {
	m := &MemorySettings{orgs: make(map[string]model.OrganizationSettings)}
	for _, s := range settings {
		m.Put(s)
	}
	return m
}

// Put stores s under s.OrganizationID.
func (m *MemorySettings) Put(s model.OrganizationSettings) {
	m.mu.Lock()
	m.orgs[s.OrganizationID] = s
	m.mu.Unlock()
}

func (m *MemorySettings) Settings(_ context.Context, id string) (model.OrganizationSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.orgs[id]
	if !ok {
		return model.OrganizationSettings{}, model.ErrOrganizationNotFound
	}
	return s, nil
}
