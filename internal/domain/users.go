package domain

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userFinder interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
}

// UserRepository reads registered users. Writes go through feature/user and
// feature/owner.
type UserRepository struct {
	collection userFinder
}

func NewUserRepository(collection userFinder) *UserRepository {
	return &UserRepository{collection: collection}
}

// GetByID fetches a user by Telegram user_id. A missing user maps to
// ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (User, error) {
	var user User
	if err := r.findOne(ctx, userID, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// RoleOf returns the stored role for userID. Unregistered users and rows
// without a role count as RoleUser.
func (r *UserRepository) RoleOf(ctx context.Context, userID int64) (string, error) {
	var row struct {
		Role string `bson:"role"`
	}
	projection := options.FindOne().SetProjection(bson.M{"role": 1, "_id": 0})
	err := r.findOne(ctx, userID, projection, &row)
	switch {
	case errors.Is(err, ErrNotFound):
		return RoleUser, nil
	case err != nil:
		return "", err
	case row.Role == "":
		return RoleUser, nil
	}
	return row.Role, nil
}

func (r *UserRepository) findOne(ctx context.Context, userID int64, opts *options.FindOneOptions, out interface{}) error {
	if r == nil || r.collection == nil {
		return errors.New("user repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user_id is required")
	}

	var findOpts []*options.FindOneOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}
	result := r.collection.FindOne(ctx, bson.M{"user_id": userID}, findOpts...)
	if result == nil {
		return errors.New("find user returned no result")
	}
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return fmt.Errorf("find user %d: %w", userID, err)
	}
	if err := result.Decode(out); err != nil {
		return fmt.Errorf("decode user %d: %w", userID, err)
	}
	return nil
}
