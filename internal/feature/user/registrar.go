// Package user registers Telegram users and keeps their last-seen time fresh.
package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
)

// DefaultTouchInterval is the minimum gap between last-seen writes for one
// user. A bill flow sends several messages in a row; only the first needs a
// write.
const DefaultTouchInterval = time.Minute

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Registrar upserts users on first contact and refreshes last_seen_at.
type Registrar struct {
	users    userCollection
	logger   *logrus.Entry
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	touched map[int64]time.Time
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithTouchInterval overrides DefaultTouchInterval. Zero writes on every call.
func WithTouchInterval(d time.Duration) Option {
	return func(r *Registrar) {
		if d >= 0 {
			r.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registrar) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistrar constructs a Registrar for the users collection.
func NewRegistrar(users userCollection, logger *logrus.Entry, opts ...Option) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	r := &Registrar{
		users:    users,
		logger:   logger,
		interval: DefaultTouchInterval,
		now:      time.Now,
		touched:  make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureUser upserts the user with RoleUser when missing and bumps
// last_seen_at. Calls within the touch interval of the previous write are
// skipped. It reports whether a new record was created.
func (r *Registrar) EnsureUser(ctx context.Context, userID int64) (bool, error) {
	if r == nil || r.users == nil {
		return false, errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if userID == 0 {
		return false, errors.New("user id is required")
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	if r.recentlyTouched(userID, now) {
		return false, nil
	}

	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$set": bson.M{
				"updated_at":   now,
				"last_seen_at": now,
			},
			"$setOnInsert": bson.M{
				"user_id":    userID,
				"role":       domain.RoleUser,
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		r.forget(userID)
		return false, fmt.Errorf("ensure user: %w", err)
	}

	if result != nil && result.UpsertedCount > 0 {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": userID,
		}).Info("registered new user")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": userID,
	}).Debug("updated user last seen")
	return false, nil
}

// recentlyTouched records now as the user's last write unless one happened
// within the interval.
func (r *Registrar) recentlyTouched(userID int64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.touched[userID]; ok && r.interval > 0 && now.Sub(last) < r.interval {
		return true
	}
	r.touched[userID] = now
	return false
}

func (r *Registrar) forget(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.touched, userID)
}
