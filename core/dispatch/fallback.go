package dispatch

import (
	"context"

	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/model"
)

// FallbackStrategy supplies candidates when the radius query finds nobody.
type FallbackStrategy interface {
	Candidates(ctx context.Context, idx geoindex.Index, f geoindex.Filter) ([]model.Collector, error)
}

// ListingFallback lists on-duty collectors of the organization regardless of
// distance, never returning more than Limit entries.
type ListingFallback struct {
	Limit int
}

func (l ListingFallback) Candidates(ctx context.Context, idx geoindex.Index, f geoindex.Filter) ([]model.Collector, error) {
	limit := l.Limit
	if limit <= 0 {
		limit = 100
	}
	cs, err := idx.ListAll(ctx, f, limit)
	if err != nil {
		return nil, err
	}
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs, nil
}

// NoopFallback never returns candidates.
type NoopFallback struct{}

func (NoopFallback) Candidates(context.Context, geoindex.Index, geoindex.Filter) ([]model.Collector, error) {
	return nil, nil
}
