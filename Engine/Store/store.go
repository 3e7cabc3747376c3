// Package store defines the document-store surface the query engine talks to.
//
// Implementations only need to understand the aggregation stages the pipeline
// compiler emits; connection pooling, retries and timeouts belong to the
// underlying driver and are never handled here.
package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Store is the opaque document store.
//
// A transaction is carried by ctx (for MongoDB a mongo.SessionContext); the
// engine passes it through unchanged.
type Store interface {
	// Aggregate runs pipeline against collection and returns every resulting document.
	Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]bson.M, error)
	// InsertOne inserts doc and returns the stored identity.
	InsertOne(ctx context.Context, collection string, doc bson.M) (interface{}, error)
	// InsertMany inserts docs in order and returns their identities.
	InsertMany(ctx context.Context, collection string, docs []bson.M) ([]interface{}, error)
	// FindOneAndUpdate applies update to the first document matching filter and
	// returns the post-update document, or nil when nothing matched.
	FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M) (bson.M, error)
	// UpdateMany applies update to every match and returns the matched count.
	UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error)
	// DeleteMany removes every match and returns the deleted count.
	DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error)
}
