// Package memory is an in-process store.Store. It evaluates the aggregation
// stages and update operators the query engine emits, which makes it suitable
// for tests and small embedded datasets. It is not a general MongoDB emulator.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/venomous-maker/mongo-eloquent/Engine/Store"
)

// Store keeps every collection as an ordered slice of documents.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]bson.M
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{collections: map[string][]bson.M{}}
}

// Seed inserts docs into collection, generating _id where missing.
func (s *Store) Seed(collection string, docs ...bson.M) []interface{} {
	ids, _ := s.InsertMany(context.Background(), collection, docs)
	return ids
}

// Documents returns a copy of every stored document in insertion order.
func (s *Store) Documents(collection string) []bson.M {
	return s.snapshot(collection)
}

func (s *Store) snapshot(collection string) []bson.M {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		out[i] = cloneDoc(d)
	}
	return out
}

func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []bson.M) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.run(s.snapshot(collection), pipeline)
}

func (s *Store) run(docs []bson.M, pipeline []bson.M) ([]bson.M, error) {
	var err error
	for _, stage := range pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("memory: stage must have exactly one operator, got %v", stage)
		}
		for op, arg := range stage {
			docs, err = s.applyStage(op, arg, docs)
			if err != nil {
				return nil, err
			}
		}
	}
	return docs, nil
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc bson.M) (interface{}, error) {
	ids, err := s.InsertMany(ctx, collection, []bson.M{doc})
	if err != nil {
		return nil, err
	}
	return ids[0], nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []bson.M) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.collections[collection]
	ids := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		stored := cloneDoc(doc)
		id, ok := stored["_id"]
		if !ok || id == nil {
			id = primitive.NewObjectID()
			stored["_id"] = id
		}
		for _, other := range existing {
			if equalValues(other["_id"], id) {
				return ids, fmt.Errorf("memory: duplicate key _id %v in %s", id, collection)
			}
		}
		existing = append(existing, stored)
		ids = append(ids, id)
	}
	s.collections[collection] = existing
	return ids, nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, filter, update bson.M) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, doc := range s.collections[collection] {
		ok, err := matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(doc, update)
		if err != nil {
			return nil, err
		}
		s.collections[collection][i] = updated
		return cloneDoc(updated), nil
	}
	return nil, nil
}

func (s *Store) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched int64
	docs := s.collections[collection]
	for i, doc := range docs {
		ok, err := matches(doc, filter)
		if err != nil {
			return matched, err
		}
		if !ok {
			continue
		}
		updated, err := applyUpdate(doc, update)
		if err != nil {
			return matched, err
		}
		docs[i] = updated
		matched++
	}
	return matched, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []bson.M
	var deleted int64
	for _, doc := range s.collections[collection] {
		ok, err := matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	s.collections[collection] = kept
	return deleted, nil
}

func applyUpdate(doc bson.M, update bson.M) (bson.M, error) {
	out := cloneDoc(doc)
	for op, arg := range update {
		fields, ok := asMap(arg)
		if !ok {
			return nil, fmt.Errorf("memory: %s expects a document", op)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				out[k] = cloneValue(v)
			}
		case "$unset":
			for k := range fields {
				delete(out, k)
			}
		case "$inc":
			for k, v := range fields {
				sum, err := addNumbers(out[k], v)
				if err != nil {
					return nil, err
				}
				out[k] = sum
			}
		default:
			return nil, fmt.Errorf("memory: unsupported update operator %s", op)
		}
	}
	return out, nil
}

func addNumbers(a, b interface{}) (interface{}, error) {
	if a == nil {
		a = int64(0)
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, fmt.Errorf("memory: cannot $inc non-numeric value %v", a)
	}
	if isIntegral(a) && isIntegral(b) {
		return int64(fa) + int64(fb), nil
	}
	return fa + fb, nil
}
