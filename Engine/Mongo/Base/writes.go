package base

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

func (e *Eloquent) newModel(attrs bson.M) *Model {
	m := e.service.New(attrs)
	for _, fn := range e.creating {
		fn(m)
	}
	return m
}

func (e *Eloquent) save(ctx context.Context, m *Model) error {
	if err := m.Save(ctx); err != nil {
		return err
	}
	for _, fn := range e.created {
		if err := fn(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Create saves a new model. Relation builders link it to their parent.
func (e *Eloquent) Create(ctx context.Context, attrs bson.M) (*Model, error) {
	if e.err != nil {
		return nil, e.err
	}
	m := e.newModel(attrs)
	if err := e.save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Insert stores many documents at once. Hooks do not run.
func (e *Eloquent) Insert(ctx context.Context, docs []bson.M) ([]interface{}, error) {
	if e.err != nil {
		return nil, e.err
	}
	if len(docs) == 0 {
		return nil, invalidArgument("insert needs at least one document")
	}
	s := e.service.schema
	now := time.Now()
	prepared := make([]bson.M, len(docs))
	for i, d := range docs {
		m := e.newModel(d)
		if s.Timestamps {
			if !m.Has(s.CreatedAtField) {
				m.Set(s.CreatedAtField, now)
			}
			if !m.Has(s.UpdatedAtField) {
				m.Set(s.UpdatedAtField, now)
			}
		}
		if s.SoftDeletes && !m.Has(s.DeletedField) {
			m.Set(s.DeletedField, false)
		}
		prepared[i] = m.Attributes()
	}
	ids, err := e.service.manager.store.InsertMany(ctx, s.Collection, prepared)
	if err != nil {
		return ids, err
	}
	e.service.ClearCache()
	return ids, nil
}

// FirstOrCreate returns the first match of attrs under the current scope, or
// creates one from attrs merged with values.
func (e *Eloquent) FirstOrCreate(ctx context.Context, attrs bson.M, values ...bson.M) (*Model, error) {
	m, err := e.Clone().WhereMap(attrs).First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = e.newModel(mergeMaps(append([]bson.M{attrs}, values...)...))
		if err := e.save(ctx, m); err != nil {
			return nil, err
		}
	}
	e.consume()
	return m, nil
}

// FirstOrNew is FirstOrCreate without the save.
func (e *Eloquent) FirstOrNew(ctx context.Context, attrs bson.M, values ...bson.M) (*Model, error) {
	m, err := e.Clone().WhereMap(attrs).First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = e.newModel(mergeMaps(append([]bson.M{attrs}, values...)...))
	}
	e.consume()
	return m, nil
}

// UpdateOrCreate updates the first match of attrs with values, or creates one.
func (e *Eloquent) UpdateOrCreate(ctx context.Context, attrs, values bson.M) (*Model, error) {
	m, err := e.Clone().WhereMap(attrs).First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = e.newModel(mergeMaps(attrs, values))
		if err := e.save(ctx, m); err != nil {
			return nil, err
		}
	} else if err := m.Update(ctx, values); err != nil {
		return nil, err
	}
	e.consume()
	return m, nil
}

func (e *Eloquent) updateMany(ctx context.Context, q *Eloquent, update bson.M) (int64, error) {
	s := e.service.schema
	n, err := e.service.manager.store.UpdateMany(ctx, s.Collection, q.matchFilter(), update)
	if err != nil {
		return n, err
	}
	e.service.ClearCache()
	e.service.logger().Debug("bulk update",
		zap.String("collection", s.Collection), zap.Int64("matched", n))
	e.consume()
	return n, nil
}

// Update sets values on every match and returns the matched count.
func (e *Eloquent) Update(ctx context.Context, values bson.M) (int64, error) {
	if len(values) == 0 {
		return 0, invalidArgument("update needs at least one value")
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	set := mergeMaps(values)
	if s := e.service.schema; s.Timestamps {
		if _, ok := set[s.UpdatedAtField]; !ok {
			set[s.UpdatedAtField] = time.Now()
		}
	}
	return e.updateMany(ctx, q, bson.M{"$set": set})
}

func (e *Eloquent) increment(ctx context.Context, field string, amount float64, extra []bson.M) (int64, error) {
	if field == "" {
		return 0, invalidArgument("increment needs a field")
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	var delta interface{} = amount
	if amount == float64(int64(amount)) {
		delta = int64(amount)
	}
	update := bson.M{"$inc": bson.M{field: delta}}
	set := mergeMaps(extra...)
	if s := e.service.schema; s.Timestamps {
		set[s.UpdatedAtField] = time.Now()
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	return e.updateMany(ctx, q, update)
}

// Increment adds amount to field on every match.
func (e *Eloquent) Increment(ctx context.Context, field string, amount float64, extra ...bson.M) (int64, error) {
	return e.increment(ctx, field, amount, extra)
}

func (e *Eloquent) Decrement(ctx context.Context, field string, amount float64, extra ...bson.M) (int64, error) {
	return e.increment(ctx, field, -amount, extra)
}

// Delete soft-deletes every match when the schema allows it and removes
// them otherwise. Per-model hooks do not run.
func (e *Eloquent) Delete(ctx context.Context) (int64, error) {
	s := e.service.schema
	if !s.SoftDeletes {
		return e.ForceDelete(ctx)
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	set := bson.M{s.DeletedField: true}
	if s.Timestamps {
		set[s.DeletedAtField] = time.Now()
	}
	return e.updateMany(ctx, q, bson.M{"$set": set})
}

// ForceDelete removes every match from the store.
func (e *Eloquent) ForceDelete(ctx context.Context) (int64, error) {
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	s := e.service.schema
	n, err := e.service.manager.store.DeleteMany(ctx, s.Collection, q.matchFilter())
	if err != nil {
		return n, err
	}
	e.service.ClearCache()
	e.consume()
	return n, nil
}

// Restore clears the soft-delete marker on every trashed match.
func (e *Eloquent) Restore(ctx context.Context) (int64, error) {
	s := e.service.schema
	if !s.SoftDeletes {
		return 0, invalidArgument("%s does not use soft deletes", s.Name)
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	q.trashed = onlyTrashed
	update := bson.M{"$set": bson.M{s.DeletedField: false}}
	if s.Timestamps {
		update["$unset"] = bson.M{s.DeletedAtField: ""}
	}
	return e.updateMany(ctx, q, update)
}
