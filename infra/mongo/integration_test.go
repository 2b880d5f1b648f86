//go:build integration

package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
)

// startMongo runs a single-node replica set so that transactions work.
func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			Cmd:          []string{"--replSet", "rs0", "--bind_ip_all"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	uri := fmt.Sprintf("mongodb://%s:%s/?directConnection=true", host, port.Port())

	admin, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = admin.Disconnect(ctx) }()
	err = admin.Database("admin").RunCommand(ctx, bson.D{{Key: "replSetInitiate", Value: bson.D{
		{Key: "_id", Value: "rs0"},
		{Key: "members", Value: bson.A{bson.D{{Key: "_id", Value: 0}, {Key: "host", Value: "localhost:27017"}}}},
	}}}).Err()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		if err := admin.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
			return false
		}
		return hello.IsWritablePrimary
	}, 30*time.Second, 200*time.Millisecond)

	client, db, err := Connect(ctx, Config{URI: uri, Database: "wastedispatch_test", Transactions: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return db
}

func TestIntegrationFleetNearSphere(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	fleet := NewFleet(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	for _, c := range []model.Collector{
		{ID: "near", OrganizationID: "o1", OnDuty: true, Position: &model.Position{Point: model.Point{Lat: 48.8566, Lng: 2.3522}, Timestamp: now}},
		{ID: "mid", OrganizationID: "o1", OnDuty: true, Position: &model.Position{Point: model.Point{Lat: 48.8600, Lng: 2.3600}, Timestamp: now}},
		{ID: "off", OrganizationID: "o1", OnDuty: false, Position: &model.Position{Point: model.Point{Lat: 48.8567, Lng: 2.3523}, Timestamp: now}},
		{ID: "far", OrganizationID: "o1", OnDuty: true, Position: &model.Position{Point: model.Point{Lat: 45.76, Lng: 4.83}, Timestamp: now}},
		{ID: "nopos", OrganizationID: "o1", OnDuty: true},
	} {
		require.NoError(t, fleet.Upsert(ctx, c))
	}

	got, err := fleet.QueryWithinRadius(ctx, model.Point{Lat: 48.8566, Lng: 2.3522}, 5000, geoindex.Filter{OrganizationID: "o1", OnDutyOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)

	all, err := fleet.ListAll(ctx, geoindex.Filter{OnDutyOnly: true}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// stale fixes are ignored
	require.NoError(t, fleet.UpdatePosition(ctx, "near", model.Position{Point: model.Point{Lat: 1, Lng: 1}, Timestamp: now.Add(-time.Minute)}))
	c, err := fleet.Get(ctx, "near")
	require.NoError(t, err)
	assert.Equal(t, 48.8566, c.Position.Point.Lat)

	assert.ErrorIs(t, fleet.UpdatePosition(ctx, "ghost", model.Position{Point: model.Point{Lat: 1, Lng: 1}, Timestamp: now}), geoindex.ErrUnknownCollector)
	assert.ErrorIs(t, fleet.AdjustLoad(ctx, model.LoadChange{CollectorID: "near", Active: -1}), geoindex.ErrNegativeLoad)

	require.NoError(t, fleet.AdjustLoad(ctx, model.LoadChange{CollectorID: "near", Active: 1}))
	reg, err := fleet.Register(ctx, model.Collector{ID: "near", Name: "Truck 1", OrganizationID: "o1", OnDuty: false})
	require.NoError(t, err)
	assert.Equal(t, "Truck 1", reg.Name)
	assert.False(t, reg.OnDuty)
	assert.Equal(t, 1, reg.ActiveMissions)
	require.NotNil(t, reg.Position)

	fresh, err := fleet.Register(ctx, model.Collector{ID: "new", OrganizationID: "o1", OnDuty: true})
	require.NoError(t, err)
	assert.True(t, fresh.OnDuty)
	assert.Zero(t, fresh.ActiveMissions)
}

func TestIntegrationMissionCommit(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	fleet := NewFleet(db)
	require.NoError(t, fleet.Upsert(ctx, model.Collector{ID: "c1", OnDuty: true}))
	store := NewMissionStore(db, fleet, true)

	now := time.Now().UTC().Truncate(time.Millisecond)
	m := model.Mission{ID: "m1", RequesterID: "u1", Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Insert(ctx, m))
	assert.Error(t, store.Insert(ctx, m))

	next := m
	next.Status = model.StatusScheduled
	next.AssignedCollectorID = "c1"
	require.NoError(t, store.Commit(ctx, model.StatusPending, next, model.LoadChange{CollectorID: "c1", Active: 1}))

	c, err := fleet.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveMissions)

	// a stale expected status writes nothing
	err = store.Commit(ctx, model.StatusPending, next, model.LoadChange{CollectorID: "c1", Active: 1})
	assert.ErrorIs(t, err, mission.ErrConflict)
	c, err = fleet.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveMissions)

	// a failing load change aborts the status write
	done := next
	done.Status = model.StatusCancelled
	done.AssignedCollectorID = ""
	err = store.Commit(ctx, model.StatusScheduled, done, model.LoadChange{CollectorID: "c1", Active: -5})
	assert.ErrorIs(t, err, geoindex.ErrNegativeLoad)
	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, got.Status)

	list, err := store.Find(ctx, mission.Query{CollectorID: "c1", Statuses: []model.Status{model.StatusScheduled}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestIntegrationSettings(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	s := NewSettingsStore(db)

	_, err := s.Settings(ctx, "o1")
	assert.ErrorIs(t, err, model.ErrOrganizationNotFound)

	want := model.OrganizationSettings{OrganizationID: "o1", AutoAssignRadiusMeters: 2500, MaxActiveMissionsPerCollector: 3}
	require.NoError(t, s.Put(ctx, want))
	got, err := s.Settings(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
