package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/wastedispatch/core/mission"
	"github.com/kilianp07/wastedispatch/core/model"
)

// MissionStore implements mission.Store on the missions collection.
type MissionStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	load   mission.LoadAdjuster
	tx     bool
}

// NewMissionStore returns a store over db. load is applied in Commit, inside
// the transaction when transactions is true.
func NewMissionStore(db *mongo.Database, load mission.LoadAdjuster, transactions bool) *MissionStore {
	return &MissionStore{
		client: db.Client(),
		coll:   db.Collection(missionsCollection),
		load:   load,
		tx:     transactions,
	}
}

func (s *MissionStore) Insert(ctx context.Context, m model.Mission) error {
	if m.ID == "" {
		return fmt.Errorf("%w: id required", mission.ErrValidation)
	}
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("mission %s already exists", m.ID)
		}
		return fmt.Errorf("insert mission %s: %w", m.ID, err)
	}
	return nil
}

func (s *MissionStore) Get(ctx context.Context, id string) (model.Mission, error) {
	var m model.Mission
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Mission{}, fmt.Errorf("%w: %s", mission.ErrNotFound, id)
	}
	if err != nil {
		return model.Mission{}, fmt.Errorf("get mission %s: %w", id, err)
	}
	return m, nil
}

// Commit replaces the mission only while its stored status equals expected
// and applies the load change. With transactions enabled both writes commit
// or abort together. Without them the load is applied first and reverted
// when the status write does not go through.
func (s *MissionStore) Commit(ctx context.Context, expected model.Status, next model.Mission, load model.LoadChange) error {
	if s.load == nil {
		load = model.LoadChange{}
	}
	if !s.tx {
		return s.commitCompensated(ctx, expected, next, load)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		if err := s.replace(sc, expected, next); err != nil {
			return nil, err
		}
		if load.IsZero() {
			return nil, nil
		}
		return nil, s.load.AdjustLoad(sc, load)
	})
	return err
}

func (s *MissionStore) commitCompensated(ctx context.Context, expected model.Status, next model.Mission, load model.LoadChange) error {
	if !load.IsZero() {
		if err := s.load.AdjustLoad(ctx, load); err != nil {
			return err
		}
	}
	err := s.replace(ctx, expected, next)
	if err == nil || load.IsZero() {
		return err
	}
	undo := model.LoadChange{CollectorID: load.CollectorID, Active: -load.Active, Completed: -load.Completed}
	if uerr := s.load.AdjustLoad(context.WithoutCancel(ctx), undo); uerr != nil {
		return errors.Join(err, fmt.Errorf("revert load %s: %w", load.CollectorID, uerr))
	}
	return err
}

func (s *MissionStore) replace(ctx context.Context, expected model.Status, next model.Mission) error {
	filter := bson.D{{Key: "_id", Value: next.ID}, {Key: "status", Value: expected}}
	res, err := s.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("commit mission %s: %w", next.ID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: next.ID}})
	if err != nil {
		return fmt.Errorf("commit mission %s: %w", next.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", mission.ErrNotFound, next.ID)
	}
	return fmt.Errorf("%w: mission %s is no longer %s", mission.ErrConflict, next.ID, expected)
}

func missionFilter(q mission.Query) bson.D {
	f := bson.D{}
	if q.RequesterID != "" {
		f = append(f, bson.E{Key: "requester_id", Value: q.RequesterID})
	}
	if q.CollectorID != "" {
		f = append(f, bson.E{Key: "assigned_collector_id", Value: q.CollectorID})
	}
	if q.OrganizationID != "" {
		f = append(f, bson.E{Key: "organization_id", Value: q.OrganizationID})
	}
	if len(q.Statuses) > 0 {
		st := make(bson.A, len(q.Statuses))
		for i, s := range q.Statuses {
			st[i] = s
		}
		f = append(f, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: st}}})
	}
	if !q.CreatedBefore.IsZero() {
		f = append(f, bson.E{Key: "created_at", Value: bson.D{{Key: "$lt", Value: q.CreatedBefore}}})
	}
	return f
}

func (s *MissionStore) Find(ctx context.Context, q mission.Query) ([]model.Mission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.coll.Find(ctx, missionFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find missions: %w", err)
	}
	var out []model.Mission
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode missions: %w", err)
	}
	return out, nil
}
