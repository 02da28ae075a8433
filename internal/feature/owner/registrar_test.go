package owner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/domain"
)

func TestEnsureOwnerDemotesOthersAndPromotesOwner(t *testing.T) {
	hookLogger, hook := logtest.NewNullLogger()
	fake := &fakeUsers{
		updateManyResult: &mongo.UpdateResult{ModifiedCount: 2},
		updateOneResult:  &mongo.UpdateResult{UpsertedCount: 1},
	}

	fixed := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	registrar := NewRegistrar(fake, logrus.NewEntry(hookLogger))
	registrar.now = func() time.Time { return fixed }

	ownerID := int64(999)
	result, err := registrar.EnsureOwner(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("EnsureOwner returned error: %v", err)
	}
	if result.Demoted != 2 || !result.Created {
		t.Fatalf("unexpected result %+v", result)
	}

	if len(fake.updateManyCalls) != 1 {
		t.Fatalf("expected one demotion call, got %d", len(fake.updateManyCalls))
	}
	filter := fake.updateManyCalls[0].filter.(bson.M)
	if filter["role"] != domain.RoleOwner {
		t.Fatalf("expected demote filter on role %s, got %v", domain.RoleOwner, filter["role"])
	}
	if ne, ok := filter["user_id"].(bson.M); !ok || ne["$ne"] != ownerID {
		t.Fatalf("expected demote filter to exclude %d, got %v", ownerID, filter["user_id"])
	}
	demoteSet := fake.updateManyCalls[0].update.(bson.M)["$set"].(bson.M)
	if demoteSet["role"] != domain.RoleAdmin || demoteSet["updated_at"] != fixed {
		t.Fatalf("unexpected demote update %v", demoteSet)
	}

	if len(fake.updateOneCalls) != 1 {
		t.Fatalf("expected one upsert call, got %d", len(fake.updateOneCalls))
	}
	call := fake.updateOneCalls[0]
	if call.filter.(bson.M)["user_id"] != ownerID {
		t.Fatalf("expected upsert filtered by owner id, got %v", call.filter)
	}
	update := call.update.(bson.M)
	if update["$set"].(bson.M)["role"] != domain.RoleOwner {
		t.Fatalf("expected owner role in $set, got %v", update["$set"])
	}
	onInsert := update["$setOnInsert"].(bson.M)
	if onInsert["user_id"] != ownerID || onInsert["created_at"] != fixed {
		t.Fatalf("unexpected $setOnInsert %v", onInsert)
	}
	if len(call.opts) != 1 || call.opts[0].Upsert == nil || !*call.opts[0].Upsert {
		t.Fatalf("expected upsert option to be enabled")
	}

	entry := findLogEvent(hook.AllEntries(), "owner_bootstrap")
	if entry == nil {
		t.Fatalf("expected owner_bootstrap log entry")
	}
	if entry.Data["owner_id"] != ownerID || entry.Data["demoted_owners"] != int64(2) || entry.Data["created"] != true {
		t.Fatalf("unexpected log fields %v", entry.Data)
	}
}

func TestEnsureOwnerExistingOwner(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	fake := &fakeUsers{
		updateManyResult: &mongo.UpdateResult{},
		updateOneResult:  &mongo.UpdateResult{MatchedCount: 1},
	}

	result, err := NewRegistrar(fake, logrus.NewEntry(hookLogger)).EnsureOwner(context.Background(), 5)
	if err != nil {
		t.Fatalf("EnsureOwner returned error: %v", err)
	}
	if result.Demoted != 0 || result.Created {
		t.Fatalf("expected no-op result, got %+v", result)
	}
}

func TestEnsureOwnerValidatesAndPropagatesErrors(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	logger := logrus.NewEntry(hookLogger)

	tests := []struct {
		name      string
		registrar *Registrar
		ctx       context.Context
		ownerID   int64
		expectErr string
	}{
		{name: "nil registrar", registrar: nil, ctx: context.Background(), ownerID: 1, expectErr: "not initialized"},
		{name: "nil collection", registrar: NewRegistrar(nil, logger), ctx: context.Background(), ownerID: 1, expectErr: "not initialized"},
		{name: "nil context", registrar: NewRegistrar(&fakeUsers{}, logger), ctx: nil, ownerID: 1, expectErr: "context is required"},
		{name: "zero owner id", registrar: NewRegistrar(&fakeUsers{}, logger), ctx: context.Background(), ownerID: 0, expectErr: "owner id is required"},
		{
			name:      "demote error",
			registrar: NewRegistrar(&fakeUsers{updateManyErr: errors.New("demote fail")}, logger),
			ctx:       context.Background(),
			ownerID:   99,
			expectErr: "demote fail",
		},
		{
			name:      "upsert error",
			registrar: NewRegistrar(&fakeUsers{updateOneErr: errors.New("upsert fail")}, logger),
			ctx:       context.Background(),
			ownerID:   99,
			expectErr: "upsert fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.registrar.EnsureOwner(tt.ctx, tt.ownerID)
			if err == nil || !strings.Contains(err.Error(), tt.expectErr) {
				t.Fatalf("expected error containing %q, got %v", tt.expectErr, err)
			}
		})
	}
}

type updateCall struct {
	filter interface{}
	update interface{}
	opts   []*options.UpdateOptions
}

type fakeUsers struct {
	updateManyCalls  []updateCall
	updateOneCalls   []updateCall
	updateManyErr    error
	updateOneErr     error
	updateManyResult *mongo.UpdateResult
	updateOneResult  *mongo.UpdateResult
}

func (f *fakeUsers) UpdateMany(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.updateManyCalls = append(f.updateManyCalls, updateCall{filter: filter, update: update, opts: opts})
	return f.updateManyResult, f.updateManyErr
}

func (f *fakeUsers) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.updateOneCalls = append(f.updateOneCalls, updateCall{filter: filter, update: update, opts: opts})
	return f.updateOneResult, f.updateOneErr
}

func findLogEvent(entries []*logrus.Entry, event string) *logrus.Entry {
	for _, entry := range entries {
		if entry.Data["event"] == event {
			return entry
		}
	}
	return nil
}
