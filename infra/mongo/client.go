// Package mongo persists missions, collectors and organization settings in
// MongoDB. Collector positions are stored as GeoJSON points behind a
// 2dsphere index so that proximity queries run in the database.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	missionsCollection   = "missions"
	collectorsCollection = "collectors"
	settingsCollection   = "organization_settings"
)

// Config configures the MongoDB connection.
type Config struct {
	URI      string        `json:"uri" koanf:"uri"`
	Database string        `json:"database" koanf:"database"`
	Timeout  time.Duration `json:"timeout" koanf:"timeout"`
	// Transactions wraps mission commits in a multi-document transaction.
	// It requires a replica set; standalone servers must disable it.
	Transactions bool `json:"transactions" koanf:"transactions"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "wastedispatch"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("mongo.uri is required")
	}
	if c.Database == "" {
		return errors.New("mongo.database is required")
	}
	return nil
}

// Connect dials MongoDB, pings the primary and ensures the indexes exist.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	cfg.SetDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(cfg.Database)
	if err := EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client, db, nil
}

// EnsureIndexes creates the indexes used by the stores. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(collectorsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "on_duty", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("collectors indexes: %w", err)
	}
	if _, err := db.Collection(missionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "requester_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "assigned_collector_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("missions indexes: %w", err)
	}
	return nil
}
