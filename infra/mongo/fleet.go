package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/model"
)

// geoPoint is a GeoJSON point. Coordinates are [lng, lat].
type geoPoint struct {
	Type        string     `bson:"type"`
	Coordinates [2]float64 `bson:"coordinates"`
}

func newGeoPoint(p model.Point) geoPoint {
	return geoPoint{Type: "Point", Coordinates: [2]float64{p.Lng, p.Lat}}
}

type collectorDoc struct {
	ID                string    `bson:"_id"`
	Name              string    `bson:"name,omitempty"`
	OrganizationID    string    `bson:"organization_id,omitempty"`
	OnDuty            bool      `bson:"on_duty"`
	Location          *geoPoint `bson:"location,omitempty"`
	PositionAt        time.Time `bson:"position_at,omitempty"`
	AccuracyMeters    float64   `bson:"accuracy_m,omitempty"`
	ActiveMissions    int       `bson:"active_missions"`
	CompletedMissions int       `bson:"completed_missions"`
}

func toDoc(c model.Collector) collectorDoc {
	d := collectorDoc{
		ID:                c.ID,
		Name:              c.Name,
		OrganizationID:    c.OrganizationID,
		OnDuty:            c.OnDuty,
		ActiveMissions:    c.ActiveMissions,
		CompletedMissions: c.CompletedMissions,
	}
	if c.Position != nil {
		gp := newGeoPoint(c.Position.Point)
		d.Location = &gp
		d.PositionAt = c.Position.Timestamp.UTC()
		d.AccuracyMeters = c.Position.AccuracyMeters
	}
	return d
}

func (d collectorDoc) model() model.Collector {
	c := model.Collector{
		ID:                d.ID,
		Name:              d.Name,
		OrganizationID:    d.OrganizationID,
		OnDuty:            d.OnDuty,
		ActiveMissions:    d.ActiveMissions,
		CompletedMissions: d.CompletedMissions,
	}
	if d.Location != nil {
		c.Position = &model.Position{
			Point:          model.Point{Lat: d.Location.Coordinates[1], Lng: d.Location.Coordinates[0]},
			Timestamp:      d.PositionAt,
			AccuracyMeters: d.AccuracyMeters,
		}
	}
	return c
}

// Fleet is a geoindex.Fleet backed by the collectors collection.
type Fleet struct {
	coll *mongo.Collection
}

// NewFleet returns a fleet over db.
func NewFleet(db *mongo.Database) *Fleet {
	return &Fleet{coll: db.Collection(collectorsCollection)}
}

func filterDoc(f geoindex.Filter) bson.D {
	d := bson.D{}
	if f.OrganizationID != "" {
		d = append(d, bson.E{Key: "organization_id", Value: f.OrganizationID})
	}
	if f.OnDutyOnly {
		d = append(d, bson.E{Key: "on_duty", Value: true})
	}
	return d
}

func nearFilter(center model.Point, radiusMeters float64, f geoindex.Filter) bson.D {
	near := bson.D{{Key: "location", Value: bson.D{{Key: "$nearSphere", Value: bson.D{
		{Key: "$geometry", Value: newGeoPoint(center)},
		{Key: "$maxDistance", Value: radiusMeters},
	}}}}}
	return append(near, filterDoc(f)...)
}

// QueryWithinRadius implements geoindex.Index. $nearSphere returns documents
// sorted by distance.
func (f *Fleet) QueryWithinRadius(ctx context.Context, center model.Point, radiusMeters float64, flt geoindex.Filter) ([]model.Collector, error) {
	cur, err := f.coll.Find(ctx, nearFilter(center, radiusMeters, flt))
	if err != nil {
		return nil, fmt.Errorf("query collectors near: %w", err)
	}
	return decodeCollectors(ctx, cur)
}

// ListAll implements geoindex.Index.
func (f *Fleet) ListAll(ctx context.Context, flt geoindex.Filter, limit int) ([]model.Collector, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := f.coll.Find(ctx, filterDoc(flt), opts)
	if err != nil {
		return nil, fmt.Errorf("list collectors: %w", err)
	}
	return decodeCollectors(ctx, cur)
}

func decodeCollectors(ctx context.Context, cur *mongo.Cursor) ([]model.Collector, error) {
	var docs []collectorDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode collectors: %w", err)
	}
	out := make([]model.Collector, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

func (f *Fleet) Get(ctx context.Context, id string) (model.Collector, error) {
	var d collectorDoc
	err := f.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Collector{}, fmt.Errorf("%w: %s", geoindex.ErrUnknownCollector, id)
	}
	if err != nil {
		return model.Collector{}, fmt.Errorf("get collector %s: %w", id, err)
	}
	return d.model(), nil
}

func (f *Fleet) Upsert(ctx context.Context, c model.Collector) error {
	if c.ID == "" {
		return fmt.Errorf("geoindex: collector id required")
	}
	_, err := f.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: c.ID}}, toDoc(c), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert collector %s: %w", c.ID, err)
	}
	return nil
}

// Register upserts the profile fields only, so that counters moved by
// concurrent transitions are never overwritten.
func (f *Fleet) Register(ctx context.Context, c model.Collector) (model.Collector, error) {
	if c.ID == "" {
		return model.Collector{}, fmt.Errorf("geoindex: collector id required")
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: c.Name},
			{Key: "organization_id", Value: c.OrganizationID},
			{Key: "on_duty", Value: c.OnDuty},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "active_missions", Value: 0},
			{Key: "completed_missions", Value: 0},
		}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var d collectorDoc
	if err := f.coll.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: c.ID}}, update, opts).Decode(&d); err != nil {
		return model.Collector{}, fmt.Errorf("register collector %s: %w", c.ID, err)
	}
	return d.model(), nil
}

// UpdatePosition stores the fix unless a newer one is already recorded.
func (f *Fleet) UpdatePosition(ctx context.Context, id string, pos model.Position) error {
	if err := pos.Point.Validate(); err != nil {
		return err
	}
	ts := pos.Timestamp.UTC()
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "position_at", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "position_at", Value: bson.D{{Key: "$lte", Value: ts}}}},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "location", Value: newGeoPoint(pos.Point)},
		{Key: "position_at", Value: ts},
		{Key: "accuracy_m", Value: pos.AccuracyMeters},
	}}}
	res, err := f.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update position %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return f.mustExist(ctx, id)
	}
	return nil
}

func (f *Fleet) SetOnDuty(ctx context.Context, id string, onDuty bool) error {
	res, err := f.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "on_duty", Value: onDuty}}}})
	if err != nil {
		return fmt.Errorf("set on duty %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", geoindex.ErrUnknownCollector, id)
	}
	return nil
}

func loadFilter(change model.LoadChange) bson.D {
	filter := bson.D{{Key: "_id", Value: change.CollectorID}}
	if change.Active < 0 {
		filter = append(filter, bson.E{Key: "active_missions", Value: bson.D{{Key: "$gte", Value: -change.Active}}})
	}
	if change.Completed < 0 {
		filter = append(filter, bson.E{Key: "completed_missions", Value: bson.D{{Key: "$gte", Value: -change.Completed}}})
	}
	return filter
}

// AdjustLoad increments the counters in a single update. Decrements are
// guarded in the filter so a counter never drops below zero. ctx may carry a
// session, in which case the update joins its transaction.
func (f *Fleet) AdjustLoad(ctx context.Context, change model.LoadChange) error {
	if change.IsZero() {
		return nil
	}
	update := bson.D{{Key: "$inc", Value: bson.D{
		{Key: "active_missions", Value: change.Active},
		{Key: "completed_missions", Value: change.Completed},
	}}}
	res, err := f.coll.UpdateOne(ctx, loadFilter(change), update)
	if err != nil {
		return fmt.Errorf("adjust load %s: %w", change.CollectorID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if err := f.mustExist(ctx, change.CollectorID); err != nil {
		return err
	}
	return fmt.Errorf("%w: collector %s change=%+v", geoindex.ErrNegativeLoad, change.CollectorID, change)
}

func (f *Fleet) mustExist(ctx context.Context, id string) error {
	n, err := f.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("lookup collector %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", geoindex.ErrUnknownCollector, id)
	}
	return nil
}
