package base

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	BaseModels "github.com/venomous-maker/mongo-eloquent/Models/Base"
	strlib "github.com/venomous-maker/mongo-eloquent/libs/strings"
)

// EloquentService is the entry point for one registered model.
type EloquentService struct {
	manager *Manager
	schema  *Schema
}

func (s *EloquentService) Schema() *Schema {
	return s.schema
}

func (s *EloquentService) Name() string {
	return s.schema.Name
}

func (s *EloquentService) GetCollectionName() string {
	return s.schema.Collection
}

func (s *EloquentService) Manager() *Manager {
	return s.manager
}

func (s *EloquentService) logger() *zap.Logger {
	return s.manager.logger
}

// GetRoutePrefix is the plural, hyphenated model name used for HTTP routes.
func (s *EloquentService) GetRoutePrefix() string {
	return strlib.Pluralize(strings.ToLower(strlib.Hyphenate(s.schema.Name)))
}

// Query starts a new builder with the default soft-delete scope.
func (s *EloquentService) Query() *Eloquent {
	return newEloquent(s)
}

func (s *EloquentService) WithTrashed() *Eloquent {
	return s.Query().WithTrashed()
}

func (s *EloquentService) OnlyTrashed() *Eloquent {
	return s.Query().OnlyTrashed()
}

// New builds an unsaved model. Mass assignment rules apply to attrs.
func (s *EloquentService) New(attrs bson.M) *Model {
	m := &Model{Entity: BaseModels.NewEntity(nil), service: s}
	m.Fill(attrs)
	return m
}

func (s *EloquentService) hydrate(doc bson.M) *Model {
	return &Model{Entity: BaseModels.Hydrate(doc), service: s, exists: true}
}

// Create builds and saves a model.
func (s *EloquentService) Create(ctx context.Context, attrs bson.M) (*Model, error) {
	return s.Query().Create(ctx, attrs)
}

func (s *EloquentService) Find(ctx context.Context, id interface{}) (*Model, error) {
	return s.Query().Find(ctx, id)
}

func (s *EloquentService) FindOrFail(ctx context.Context, id interface{}) (*Model, error) {
	return s.Query().FindOrFail(ctx, id)
}

func (s *EloquentService) All(ctx context.Context) ([]*Model, error) {
	return s.Query().All(ctx)
}

func (s *EloquentService) FirstOrCreate(ctx context.Context, attrs bson.M, values ...bson.M) (*Model, error) {
	return s.Query().FirstOrCreate(ctx, attrs, values...)
}

func (s *EloquentService) FirstOrNew(ctx context.Context, attrs bson.M, values ...bson.M) (*Model, error) {
	return s.Query().FirstOrNew(ctx, attrs, values...)
}

func (s *EloquentService) UpdateOrCreate(ctx context.Context, attrs, values bson.M) (*Model, error) {
	return s.Query().UpdateOrCreate(ctx, attrs, values)
}

// Destroy loads each id and deletes it, so delete hooks run per model.
func (s *EloquentService) Destroy(ctx context.Context, ids ...interface{}) (int64, error) {
	models, err := s.Query().FindMany(ctx, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, m := range models {
		if err := m.Delete(ctx); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ClearCache invalidates every cached query of this model.
func (s *EloquentService) ClearCache() {
	s.manager.cache.invalidate(s.schema.Collection)
}
