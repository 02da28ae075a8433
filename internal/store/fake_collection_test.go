package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/secret"
)

// fakeCollection is an in-memory documentCollection supporting equality
// filters plus $set and $setOnInsert updates.
type fakeCollection struct {
	t     *testing.T
	mu    sync.Mutex
	docs  []bson.M
	errs  map[string]error
	calls map[string]int

	// singleDefault rejects a second is_default document per user the way
	// the user_single_default index does. beforeInsert runs under the lock.
	singleDefault bool
	beforeInsert  func()
}

func newFakeCollection(t *testing.T) *fakeCollection {
	t.Helper()
	return &fakeCollection{t: t, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeCollection) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeCollection) record(op string) error {
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("InsertOne"); err != nil {
		return nil, err
	}
	if f.beforeInsert != nil {
		f.beforeInsert()
	}
	doc := f.normalize(document)
	if f.singleDefault && doc["is_default"] == true {
		for _, existing := range f.docs {
			if existing["user_id"] == doc["user_id"] && existing["is_default"] == true {
				return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error index: user_single_default"}}}
			}
		}
	}
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: len(f.docs)}, nil
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FindOne"); err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, err, nil)
	}
	for _, doc := range f.docs {
		if matches(doc, filter) {
			return mongo.NewSingleResultFromDocument(doc, nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func (f *fakeCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Find"); err != nil {
		return nil, err
	}
	var out []interface{}
	for _, doc := range f.docs {
		if matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateOne"); err != nil {
		return nil, err
	}

	ops := update.(bson.M)
	for i, doc := range f.docs {
		if matches(doc, filter) {
			f.docs[i] = f.apply(doc, ops, false)
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}

	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			doc := bson.M{}
			for k, v := range filter.(bson.M) {
				doc[k] = v
			}
			f.docs = append(f.docs, f.apply(doc, ops, true))
			return &mongo.UpdateResult{UpsertedCount: 1}, nil
		}
	}

	return &mongo.UpdateResult{}, nil
}

func (f *fakeCollection) UpdateMany(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateMany"); err != nil {
		return nil, err
	}

	var matched int64
	for i, doc := range f.docs {
		if matches(doc, filter) {
			f.docs[i] = f.apply(doc, update.(bson.M), false)
			matched++
		}
	}
	return &mongo.UpdateResult{MatchedCount: matched, ModifiedCount: matched}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteOne"); err != nil {
		return nil, err
	}
	for i, doc := range f.docs {
		if matches(doc, filter) {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongo.DeleteResult{}, nil
}

func (f *fakeCollection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CountDocuments"); err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range f.docs {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeCollection) apply(doc bson.M, ops bson.M, inserting bool) bson.M {
	if set, ok := ops["$set"].(bson.M); ok {
		for k, v := range set {
			doc[k] = v
		}
	}
	if inserting {
		if set, ok := ops["$setOnInsert"].(bson.M); ok {
			for k, v := range set {
				doc[k] = v
			}
		}
	}
	return f.normalize(doc)
}

func (f *fakeCollection) normalize(v interface{}) bson.M {
	f.t.Helper()
	raw, err := bson.Marshal(v)
	if err != nil {
		f.t.Fatalf("marshal document: %v", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		f.t.Fatalf("unmarshal document: %v", err)
	}
	return out
}

// snapshot returns the stored documents matching filter.
func (f *fakeCollection) snapshot(filter bson.M) []bson.M {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bson.M
	for _, doc := range f.docs {
		if matches(doc, filter) {
			out = append(out, doc)
		}
	}
	return out
}

func matches(doc bson.M, filter interface{}) bool {
	for k, want := range filter.(bson.M) {
		if doc[k] != want {
			return false
		}
	}
	return true
}

func newTestCipher(t *testing.T) *secret.Cipher {
	t.Helper()
	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey returned error: %v", err)
	}
	c, err := secret.New(key)
	if err != nil {
		t.Fatalf("secret.New returned error: %v", err)
	}
	return c
}

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	var (
		mu   sync.Mutex
		tick = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
}
