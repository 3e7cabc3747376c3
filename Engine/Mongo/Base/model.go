package base

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	BaseModels "github.com/venomous-maker/mongo-eloquent/Models/Base"
)

// Model is a tracked document bound to its service.
type Model struct {
	*BaseModels.Entity
	service *EloquentService
	exists  bool
}

func (m *Model) Service() *EloquentService {
	return m.service
}

// Exists reports whether the model has been loaded from or saved to the store.
func (m *Model) Exists() bool {
	return m.exists
}

// Key returns the primary key value.
func (m *Model) Key() interface{} {
	return m.Get(m.service.schema.PrimaryKey)
}

// Fill mass-assigns attrs, skipping anything the schema does not allow.
func (m *Model) Fill(attrs bson.M) *Model {
	for _, k := range sortedKeys(attrs) {
		if m.service.schema.fillable(k) {
			m.Set(k, attrs[k])
		}
	}
	return m
}

// Trashed reports whether the soft-delete marker is set.
func (m *Model) Trashed() bool {
	v, _ := m.Get(m.service.schema.DeletedField).(bool)
	return v
}

func (m *Model) clone() *Model {
	return &Model{Entity: m.Entity.Clone(), service: m.service, exists: m.exists}
}

func (m *Model) keyFilter() (bson.M, error) {
	pk := m.service.schema.PrimaryKey
	key := m.GetOriginal(pk)
	if key == nil {
		key = m.Key()
	}
	if !m.exists || key == nil {
		return nil, invalidArgument("%s has not been saved", m.service.schema.Name)
	}
	return bson.M{pk: key}, nil
}

// Save inserts a new model or writes the dirty attributes of an existing one.
func (m *Model) Save(ctx context.Context) error {
	if m.exists {
		return m.performUpdate(ctx)
	}
	return m.performInsert(ctx)
}

func (m *Model) performInsert(ctx context.Context) error {
	s := m.service.schema
	now := time.Now()
	var defaulted []string
	setDefault := func(key string, v interface{}) {
		if !m.Has(key) {
			m.Set(key, v)
			defaulted = append(defaulted, key)
		}
	}
	if s.Timestamps {
		setDefault(s.CreatedAtField, now)
		setDefault(s.UpdatedAtField, now)
	}
	if s.SoftDeletes {
		setDefault(s.DeletedField, false)
	}
	// a failed insert leaves the model as the caller built it
	rollback := func() {
		for _, k := range defaulted {
			m.Unset(k)
		}
	}
	if h := s.Hooks.BeforeSave; h != nil {
		if err := h(ctx, m); err != nil {
			rollback()
			return err
		}
	}
	id, err := m.service.manager.store.InsertOne(ctx, s.Collection, m.Attributes())
	if err != nil {
		rollback()
		return err
	}
	if !m.Has(s.PrimaryKey) {
		m.Set(s.PrimaryKey, id)
	}
	m.SyncOriginal()
	m.exists = true
	m.service.ClearCache()
	m.service.logger().Debug("model created",
		zap.String("collection", s.Collection), zap.Any("id", m.Key()))
	if h := s.Hooks.AfterCreate; h != nil {
		return h(ctx, m)
	}
	return nil
}

func (m *Model) performUpdate(ctx context.Context) error {
	s := m.service.schema
	if m.IsClean() {
		return nil
	}
	if m.IsDirty(s.PrimaryKey) {
		return invalidArgument("primary key of %s cannot change", s.Name)
	}
	filter, err := m.keyFilter()
	if err != nil {
		return err
	}
	if s.Timestamps && !m.IsDirty(s.UpdatedAtField) {
		m.Set(s.UpdatedAtField, time.Now())
	}
	if h := s.Hooks.BeforeSave; h != nil {
		if err := h(ctx, m); err != nil {
			return err
		}
	}
	update := bson.M{}
	if set := m.GetDirty(); len(set) > 0 {
		update["$set"] = set
	}
	if removed := m.GetRemoved(); len(removed) > 0 {
		unset := bson.M{}
		for _, f := range removed {
			unset[f] = ""
		}
		update["$unset"] = unset
	}
	doc, err := m.service.manager.store.FindOneAndUpdate(ctx, s.Collection, filter, update)
	if err != nil {
		return err
	}
	if doc == nil {
		return &NotFoundError{Collection: s.Collection, Filter: filter}
	}
	m.SyncOriginal()
	m.service.ClearCache()
	if h := s.Hooks.AfterUpdate; h != nil {
		return h(ctx, m)
	}
	return nil
}

// Update fills attrs and saves.
func (m *Model) Update(ctx context.Context, attrs bson.M) error {
	m.Fill(attrs)
	return m.Save(ctx)
}

// writeFields persists only the named attributes, leaving other pending
// changes dirty.
func (m *Model) writeFields(ctx context.Context, set bson.M, unset []string) error {
	filter, err := m.keyFilter()
	if err != nil {
		return err
	}
	s := m.service.schema
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		u := bson.M{}
		for _, f := range unset {
			u[f] = ""
		}
		update["$unset"] = u
	}
	doc, err := m.service.manager.store.FindOneAndUpdate(ctx, s.Collection, filter, update)
	if err != nil {
		return err
	}
	if doc == nil {
		return &NotFoundError{Collection: s.Collection, Filter: filter}
	}
	fields := append([]string(nil), unset...)
	for k, v := range set {
		m.Set(k, v)
		fields = append(fields, k)
	}
	for _, f := range unset {
		m.Unset(f)
	}
	m.SyncOriginalFields(fields...)
	m.service.ClearCache()
	return nil
}

// Delete soft-deletes when the schema allows it and removes the document otherwise.
func (m *Model) Delete(ctx context.Context) error {
	s := m.service.schema
	if !s.SoftDeletes {
		return m.ForceDelete(ctx)
	}
	if h := s.Hooks.BeforeDelete; h != nil {
		if err := h(ctx, m); err != nil {
			return err
		}
	}
	set := bson.M{s.DeletedField: true}
	if s.Timestamps {
		set[s.DeletedAtField] = time.Now()
	}
	if err := m.writeFields(ctx, set, nil); err != nil {
		return err
	}
	if h := s.Hooks.AfterDelete; h != nil {
		return h(ctx, m)
	}
	return nil
}

// ForceDelete removes the document regardless of soft deletes.
func (m *Model) ForceDelete(ctx context.Context) error {
	s := m.service.schema
	filter, err := m.keyFilter()
	if err != nil {
		return err
	}
	if h := s.Hooks.BeforeDelete; h != nil {
		if err := h(ctx, m); err != nil {
			return err
		}
	}
	if _, err := m.service.manager.store.DeleteMany(ctx, s.Collection, filter); err != nil {
		return err
	}
	m.exists = false
	m.service.ClearCache()
	if h := s.Hooks.AfterDelete; h != nil {
		return h(ctx, m)
	}
	return nil
}

// Restore clears the soft-delete marker.
func (m *Model) Restore(ctx context.Context) error {
	s := m.service.schema
	if !s.SoftDeletes {
		return invalidArgument("%s does not use soft deletes", s.Name)
	}
	var unset []string
	if s.Timestamps {
		unset = append(unset, s.DeletedAtField)
	}
	return m.writeFields(ctx, bson.M{s.DeletedField: false}, unset)
}

// Refresh reloads the attributes from the store, discarding local changes.
func (m *Model) Refresh(ctx context.Context) error {
	filter, err := m.keyFilter()
	if err != nil {
		return err
	}
	fresh, err := m.service.Query().WithTrashed().WhereMap(filter).FirstOrFail(ctx)
	if err != nil {
		return err
	}
	m.Entity = fresh.Entity
	return nil
}

// Load eager loads relations onto this model.
func (m *Model) Load(ctx context.Context, relations ...string) error {
	q := m.service.Query()
	for _, r := range relations {
		q.With(r)
	}
	if q.err != nil {
		return q.err
	}
	return q.loadRelations(ctx, []*Model{m}, q.eager)
}

// Relation builds the named relation declared on the schema.
func (m *Model) Relation(name string) *Relation {
	fn, ok := m.service.schema.Relations[name]
	if !ok {
		return &Relation{
			Eloquent: newEloquent(m.service).fail(invalidArgument("%s has no relation %q", m.service.schema.Name, name)),
			Name:     name,
			parent:   m,
		}
	}
	r := fn(m)
	r.Name = name
	return r
}

// Related returns an eager loaded relation value.
func (m *Model) Related(name string) (interface{}, bool) {
	return m.GetRelation(name)
}
