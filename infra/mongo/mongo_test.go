package mongo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
)

func TestCollectorDocRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := model.Collector{
		ID:             "c1",
		OrganizationID: "o1",
		OnDuty:         true,
		Position: &model.Position{
			Point:          model.Point{Lat: 48.85, Lng: 2.35},
			Timestamp:      ts,
			AccuracyMeters: 12,
		},
		ActiveMissions: 2,
	}
	d := toDoc(c)
	require.NotNil(t, d.Location)
	assert.Equal(t, "Point", d.Location.Type)
	assert.Equal(t, [2]float64{2.35, 48.85}, d.Location.Coordinates)
	assert.Equal(t, c, d.model())

	assert.Nil(t, toDoc(model.Collector{ID: "c2"}).model().Position)
}

func TestNearFilter(t *testing.T) {
	f := nearFilter(model.Point{Lat: 1, Lng: 2}, 500, geoindex.Filter{OrganizationID: "o1", OnDutyOnly: true})
	require.Len(t, f, 3)
	assert.Equal(t, "location", f[0].Key)
	near := f[0].Value.(bson.D)[0]
	assert.Equal(t, "$nearSphere", near.Key)
	geo := near.Value.(bson.D)
	assert.Equal(t, newGeoPoint(model.Point{Lat: 1, Lng: 2}), geo[0].Value)
	assert.Equal(t, 500.0, geo[1].Value)
	assert.Equal(t, bson.E{Key: "organization_id", Value: "o1"}, f[1])
	assert.Equal(t, bson.E{Key: "on_duty", Value: true}, f[2])

	assert.Len(t, nearFilter(model.Point{}, 1, geoindex.Filter{}), 1)
}

func TestLoadFilterGuardsDecrements(t *testing.T) {
	f := loadFilter(model.LoadChange{CollectorID: "c1", Active: 1})
	assert.Equal(t, bson.D{{Key: "_id", Value: "c1"}}, f)

	f = loadFilter(model.LoadChange{CollectorID: "c1", Active: -1, Completed: 1})
	assert.Equal(t, bson.D{
		{Key: "_id", Value: "c1"},
		{Key: "active_missions", Value: bson.D{{Key: "$gte", Value: 1}}},
	}, f)
}

func TestMissionFilter(t *testing.T) {
	assert.Empty(t, missionFilter(mission.Query{}))

	before := time.Now()
	f := missionFilter(mission.Query{
		RequesterID:   "u1",
		CollectorID:   "c1",
		Statuses:      []model.Status{model.StatusScheduled, model.StatusInProgress},
		CreatedBefore: before,
	})
	assert.Equal(t, bson.D{
		{Key: "requester_id", Value: "u1"},
		{Key: "assigned_collector_id", Value: "c1"},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{model.StatusScheduled, model.StatusInProgress}}}},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: before}}},
	}, f)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "mongodb://localhost:27017", c.URI)
	assert.Equal(t, "wastedispatch", c.Database)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.NoError(t, c.Validate())
	assert.Error(t, Config{URI: "mongodb://x"}.Validate())
}
