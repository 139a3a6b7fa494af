// Package mongo hosts the MongoDB-backed Store used when runtime state must
// survive process restarts in a shared database.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"
)

// The store doubles as a health check target for the serving layer.
var _ health.Pinger = (*Store)(nil)

const (
	defaultCollection = "rla2a_state"
	defaultOpTimeout  = 5 * time.Second
	storeClientName   = "state-mongo"
)

// Options configures the Mongo store.
type Options struct {
	// Client is the Mongo connection. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection overrides the default state collection name.
	Collection string
	// Timeout bounds individual operations.
	Timeout time.Duration
}

// Store is the Mongo-backed storage.Store implementation. Each key maps to
// one document with a unique "_key" field and the raw JSON payload in
// "value".
type Store struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

type document struct {
	Key       string           `bson:"_key"`
	Value     primitive.Binary `bson:"value"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

// New returns a Store backed by MongoDB, ensuring the unique key index.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name identifies the client for health reporting.
func (s *Store) Name() string { return storeClientName }

// Ping verifies the Mongo connection.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Get returns the stored document for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"_key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc.Value.Data, true, nil
}

// Set stores or replaces the document for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{
		"$set": bson.M{
			"value":      primitive.Binary{Data: value},
			"updated_at": time.Now().UTC(),
		},
		"$setOnInsert": bson.M{"_key": key},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_key": key}, update, options.Update().SetUpsert(true))
	return err
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteOne(ctx, bson.M{"_key": key})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.coll.CountDocuments(ctx, bson.M{"_key": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListKeys returns every key with the given prefix.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if prefix != "" {
		filter["_key"] = bson.M{"$regex": "^" + escapeRegex(prefix)}
	}
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_key": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []string
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_key"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// escapeRegex quotes regex metacharacters in the key prefix.
func escapeRegex(s string) string {
	const meta = `\.+*?()|[]{}^$`
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(meta); j++ {
			if s[i] == meta[j] {
				out = append(out, '\\')
				break
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}
