package scenarios

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/kilianp07/wastedispatch/core/dispatch"
	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/infra/metrics"
)

type memoryDecisions struct{ recs []logging.LogRecord }

func (m *memoryDecisions) Append(_ context.Context, r logging.LogRecord) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memoryDecisions) Query(_ context.Context, q logging.LogQuery) ([]logging.LogRecord, error) {
	var out []logging.LogRecord
	for _, r := range m.recs {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryDecisions) Close() error { return nil }

// RunScenario dispatches every mission of sc and reports mismatches on t.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	fleet := geoindex.NewMemoryFleet()
	for _, c := range sc.Collectors {
		if err := fleet.Upsert(ctx, c.ToModel(now)); err != nil {
			t.Fatalf("collector %s: %v", c.ID, err)
		}
	}
	settings := dispatch.NewMemorySettings()
	for _, s := range sc.Settings {
		settings.Put(s.ToModel())
	}
	store := mission.NewMemoryStore(fleet)
	engine, err := dispatch.NewEngine(fleet, store, settings, dispatch.Config{}, dispatch.WithMetrics(sink))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	decisions := &memoryDecisions{}
	svc, err := mission.NewService(mission.ServiceConfig{}, store, engine, mission.ServiceOptions{
		Fleet:     fleet,
		Settings:  settings,
		Decisions: decisions,
		Metrics:   sink,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	winners := make(map[string]string, len(sc.Missions))
	fallback := make(map[string]bool)
	for i, def := range sc.Missions {
		for id, after := range sc.OffDutyAfter {
			if i == after {
				if err := fleet.SetOnDuty(ctx, id, false); err != nil {
					t.Fatalf("off duty %s: %v", id, err)
				}
			}
		}
		if err := store.Insert(ctx, def.ToModel(now)); err != nil {
			t.Fatalf("insert %s: %v", def.ID, err)
		}
		tr, res, err := svc.Assign(ctx, def.ID)
		if err == nil {
			winners[def.ID] = tr.Mission.AssignedCollectorID
		} else {
			winners[def.ID] = ""
		}
		if res.UsedFallback {
			fallback[def.ID] = true
		}
	}

	for id, want := range sc.Expected.Winners {
		if got := winners[id]; got != want {
			t.Errorf("scenario %s: mission %s won by %q, want %q", sc.Name, id, got, want)
		}
	}
	for _, id := range sc.Expected.Fallback {
		if !fallback[id] {
			t.Errorf("scenario %s: mission %s did not use the fallback listing", sc.Name, id)
		}
	}
	for id, want := range sc.Expected.Outcomes {
		recs, _ := decisions.Query(ctx, logging.LogQuery{MissionID: id})
		if len(recs) == 0 || recs[len(recs)-1].Outcome != want {
			t.Errorf("scenario %s: mission %s outcome mismatch, want %q (records %v)", sc.Name, id, want, recs)
		}
	}
	for id, want := range sc.Expected.Active {
		c, err := fleet.Get(ctx, id)
		if err != nil {
			t.Fatalf("collector %s: %v", id, err)
		}
		if c.ActiveMissions != want {
			t.Errorf("scenario %s: collector %s has %d active missions, want %d", sc.Name, id, c.ActiveMissions, want)
		}
	}
	if got := counterValue(t, reg, "mission_transitions_total", map[string]string{"from": "pending", "to": "scheduled"}); int(got) != sc.Expected.Assigned {
		t.Errorf("scenario %s: expected %d assignments, got %v", sc.Name, sc.Expected.Assigned, got)
	}
}

// counterValue sums the series of a counter family matching labels.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matches(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}
