package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kilianp07/wastedispatch/core/model"
)

// SettingsStore reads organization dispatch policies.
type SettingsStore struct {
	coll *mongo.Collection
}

func NewSettingsStore(db *mongo.Database) *SettingsStore {
	return &SettingsStore{coll: db.Collection(settingsCollection)}
}

// Settings implements dispatch.OrgSettingsProvider.
func (s *SettingsStore) Settings(ctx context.Context, organizationID string) (model.OrganizationSettings, error) {
	var out model.OrganizationSettings
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: organizationID}}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.OrganizationSettings{}, model.ErrOrganizationNotFound
	}
	if err != nil {
		return model.OrganizationSettings{}, fmt.Errorf("get settings %s: %w", organizationID, err)
	}
	return out, nil
}

// Put upserts the policy of s.OrganizationID.
func (s *SettingsStore) Put(ctx context.Context, st model.OrganizationSettings) error {
	if st.OrganizationID == "" {
		return errors.New("organization id required")
	}
	_, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: st.OrganizationID}}, st, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put settings %s: %w", st.OrganizationID, err)
	}
	return nil
}
