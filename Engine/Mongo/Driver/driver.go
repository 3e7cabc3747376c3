// Package driver adapts a MongoDB database to store.Store.
package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/venomous-maker/mongo-eloquent/Engine/Store"
)

// MongoStore runs every store call against one database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ store.Store = (*MongoStore)(nil)

// Connect dials uri and pings the server before returning.
func Connect(ctx context.Context, uri, database string, timeout time.Duration, logger *zap.Logger) (*MongoStore, error) {
	if database == "" {
		return nil, errors.New("mongo driver: database name is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo driver: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo driver: ping")
	}
	logger.Info("connected to mongo", zap.String("database", database))
	return New(client.Database(database), logger), nil
}

// New wraps an existing database handle.
func New(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{client: db.Client(), db: db, logger: logger}
}

func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

func (s *MongoStore) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// WithTransaction runs fn inside a transaction. Store calls made with the
// context passed to fn join the transaction.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func toPipeline(stages []bson.M) mongo.Pipeline {
	p := make(mongo.Pipeline, 0, len(stages))
	for _, st := range stages {
		d := make(bson.D, 0, len(st))
		for k, v := range st {
			d = append(d, bson.E{Key: k, Value: v})
		}
		p = append(p, d)
	}
	return p
}

func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]bson.M, error) {
	cur, err := s.db.Collection(collection).Aggregate(ctx, toPipeline(pipeline))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []bson.M{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc bson.M) (interface{}, error) {
	res, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (s *MongoStore) InsertMany(ctx context.Context, collection string, docs []bson.M) ([]interface{}, error) {
	payload := make([]interface{}, len(docs))
	for i, d := range docs {
		payload[i] = d
	}
	res, err := s.db.Collection(collection).InsertMany(ctx, payload)
	if err != nil {
		return nil, err
	}
	return res.InsertedIDs, nil
}

func (s *MongoStore) FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M) (bson.M, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *MongoStore) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	res, err := s.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
