// Package store encapsulates MongoDB client management, collection helpers and
// the encrypted account and group stores.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"vietqr_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionUsers    = "users"
	CollectionAccounts = "accounts"
	CollectionGroups   = "groups"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Users returns the users collection handle.
func (m *Manager) Users() *mongo.Collection {
	return m.Collection(CollectionUsers)
}

// Accounts returns the bank accounts collection handle.
func (m *Manager) Accounts() *mongo.Collection {
	return m.Collection(CollectionAccounts)
}

// Groups returns the per-user chat groups collection handle.
func (m *Manager) Groups() *mongo.Collection {
	return m.Collection(CollectionGroups)
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// collectionIndexes is the index set one collection must carry.
type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

// indexPlan lists the indexes in creation order. Accounts are looked up by
// their own id and by owner with the default first; groups are unique per
// user and chat because the same chat may be registered by several users.
func indexPlan() []collectionIndexes {
	unique := func(name string, keys ...string) mongo.IndexModel {
		doc := make(bson.D, 0, len(keys))
		for _, key := range keys {
			doc = append(doc, bson.E{Key: key, Value: 1})
		}
		return mongo.IndexModel{Keys: doc, Options: options.Index().SetName(name).SetUnique(true)}
	}

	return []collectionIndexes{
		{collection: CollectionUsers, models: []mongo.IndexModel{
			unique("user_id_unique", "user_id"),
		}},
		{collection: CollectionAccounts, models: []mongo.IndexModel{
			unique("account_id_unique", "account_id"),
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetName("user_single_default").SetUnique(true).
					SetPartialFilterExpression(bson.M{"is_default": true}),
			},
		}},
		{collection: CollectionGroups, models: []mongo.IndexModel{
			unique("user_chat_unique", "user_id", "chat_id"),
		}},
	}
}

// EnsureBaseIndexes creates every index in indexPlan, stopping at the first
// failure. Collections are created implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	for _, plan := range indexPlan() {
		if _, err := createIndexes(ctx, m.Collection(plan.collection), plan.models); err != nil {
			return fmt.Errorf("create %s indexes: %w", plan.collection, err)
		}
	}
	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
