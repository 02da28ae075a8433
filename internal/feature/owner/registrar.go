// Package owner makes sure the configured owner holds the owner role at
// startup.
package owner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
)

type userCollection interface {
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Result summarises a bootstrap run.
type Result struct {
	// Demoted counts former owners moved to admin.
	Demoted int64
	// Created is true when the owner had never talked to the bot.
	Created bool
}

// Registrar bootstraps the owner record.
type Registrar struct {
	users  userCollection
	logger *logrus.Entry
	now    func() time.Time
}

// NewRegistrar constructs a Registrar for the users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Registrar{users: users, logger: logger, now: time.Now}
}

// EnsureOwner promotes ownerID to owner, creating the record when needed, and
// demotes anyone else holding the role to admin. Running it again with the
// same id changes nothing but timestamps.
func (r *Registrar) EnsureOwner(ctx context.Context, ownerID int64) (Result, error) {
	if r == nil || r.users == nil {
		return Result{}, errors.New("owner registrar is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if ownerID == 0 {
		return Result{}, errors.New("owner id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)

	demoted, err := r.users.UpdateMany(ctx,
		bson.M{"role": domain.RoleOwner, "user_id": bson.M{"$ne": ownerID}},
		bson.M{"$set": bson.M{"role": domain.RoleAdmin, "updated_at": now}},
	)
	if err != nil {
		return Result{}, fmt.Errorf("demote previous owners: %w", err)
	}

	promoted, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": ownerID},
		bson.M{
			"$set": bson.M{"role": domain.RoleOwner, "updated_at": now},
			"$setOnInsert": bson.M{
				"user_id":      ownerID,
				"created_at":   now,
				"last_seen_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return Result{}, fmt.Errorf("ensure owner: %w", err)
	}

	var result Result
	if demoted != nil {
		result.Demoted = demoted.ModifiedCount
	}
	if promoted != nil {
		result.Created = promoted.UpsertedCount > 0
	}

	r.logger.WithFields(logging.Fields{
		"event":          "owner_bootstrap",
		"owner_id":       ownerID,
		"demoted_owners": result.Demoted,
		"created":        result.Created,
	}).Info("ensured bot owner")

	return result, nil
}
