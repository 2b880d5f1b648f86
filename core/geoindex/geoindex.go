// Package geoindex defines the collector location index used by the
// dispatch engine and an in-memory implementation backed by a map.
package geoindex

import (
	"context"
	"errors"

	"github.com/kilianp07/wastedispatch/core/model"
)

// ErrUnknownCollector is returned when an operation targets a collector the
// index has never seen.
var ErrUnknownCollector = errors.New("geoindex: unknown collector")

// ErrNegativeLoad is returned when a load change would drive a counter below zero.
var ErrNegativeLoad = errors.New("geoindex: negative load")

// Filter restricts index queries.
type Filter struct {
	// OrganizationID scopes results to one organization when non-empty.
	OrganizationID string
	OnDutyOnly     bool
}

// Match reports whether c satisfies the filter.
func (f Filter) Match(c model.Collector) bool {
	if f.OnDutyOnly && !c.OnDuty {
		return false
	}
	if f.OrganizationID != "" && c.OrganizationID != f.OrganizationID {
		return false
	}
	return true
}

// Index answers proximity queries over collectors.
type Index interface {
	// QueryWithinRadius returns collectors whose last known position lies
	// within radiusMeters of center, nearest first.
	QueryWithinRadius(ctx context.Context, center model.Point, radiusMeters float64, f Filter) ([]model.Collector, error)
	// ListAll returns at most limit collectors matching f regardless of position.
	ListAll(ctx context.Context, f Filter, limit int) ([]model.Collector, error)
}

// Fleet is an Index that also accepts position and load updates.
type Fleet interface {
	Index
	Get(ctx context.Context, id string) (model.Collector, error)
	Upsert(ctx context.Context, c model.Collector) error
	// Register creates c or updates its name, organization and duty flag.
	// Position and load counters of an existing collector are kept.
	Register(ctx context.Context, c model.Collector) (model.Collector, error)
	UpdatePosition(ctx context.Context, id string, pos model.Position) error
	SetOnDuty(ctx context.Context, id string, onDuty bool) error
	AdjustLoad(ctx context.Context, change model.LoadChange) error
}
