package base

import (
	"context"
	"fmt"

	strlib "github.com/venomous-maker/mongo-eloquent/libs/strings"
)

type RelationType string

const (
	BelongsTo      RelationType = "belongsTo"
	HasOne         RelationType = "hasOne"
	HasMany        RelationType = "hasMany"
	HasOneThrough  RelationType = "hasOneThrough"
	HasManyThrough RelationType = "hasManyThrough"
	BelongsToMany  RelationType = "belongsToMany"
	MorphOne       RelationType = "morphOne"
	MorphMany      RelationType = "morphMany"
	MorphTo        RelationType = "morphTo"
	MorphToMany    RelationType = "morphToMany"
	MorphedByMany  RelationType = "morphedByMany"
)

// ToOne reports whether the relation resolves to a single model.
func (t RelationType) ToOne() bool {
	switch t {
	case BelongsTo, HasOne, HasOneThrough, MorphOne, MorphTo:
		return true
	}
	return false
}

func (t RelationType) pivoted() bool {
	return t == BelongsToMany || t == MorphToMany || t == MorphedByMany
}

// PivotConfig describes the intermediate collection of a many-to-many relation.
type PivotConfig struct {
	Collection      string
	ForeignPivotKey string // references the parent
	RelatedPivotKey string // references the related model
	// MorphType and MorphClass restrict polymorphic pivots to one owner type.
	MorphType  string
	MorphClass string
	Fields     []string
	Timestamps bool
	Alias      string
}

// Relation is a query builder scoped to the models related to one parent.
//
// Key fields by type:
//   - BelongsTo, MorphTo: ForeignKey on the parent, OwnerKey on the related model.
//   - HasOne, HasMany, MorphOne, MorphMany: ForeignKey on the related model,
//     LocalKey on the parent.
//   - HasOneThrough, HasManyThrough: FirstKey on the through model references
//     the parent's LocalKey; SecondKey on the related model references the
//     through model's SecondLocalKey.
//   - pivot relations: see PivotConfig; LocalKey and OwnerKey are the keys the
//     pivot rows point at.
type Relation struct {
	*Eloquent

	Name string
	Type RelationType

	ForeignKey     string
	OwnerKey       string
	LocalKey       string
	FirstKey       string
	SecondKey      string
	SecondLocalKey string
	MorphType      string
	Pivot          *PivotConfig

	parent  *Model
	related *EloquentService
	through *EloquentService
}

func (m *Model) newRelation(kind RelationType, related string) *Relation {
	r := &Relation{Type: kind, parent: m}
	svc, err := m.service.manager.resolve(related)
	if err != nil {
		r.Eloquent = newEloquent(m.service).fail(err)
		return r
	}
	r.related = svc
	r.Eloquent = newEloquent(svc)
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (r *Relation) parentScope(fn func(ctx context.Context, q *Eloquent) error) {
	r.deferred = append(r.deferred, deferredConstraint{apply: fn, parentScoped: true})
}

func (r *Relation) Parent() *Model {
	return r.parent
}

func (r *Relation) Related() *EloquentService {
	return r.related
}

// BelongsTo: the parent holds foreignKey pointing at ownerKey of related.
func (m *Model) BelongsTo(related, foreignKey, ownerKey string) *Relation {
	r := m.newRelation(BelongsTo, related)
	if r.related == nil {
		return r
	}
	r.ForeignKey = orDefault(foreignKey, strlib.ForeignKey(related))
	r.OwnerKey = orDefault(ownerKey, r.related.schema.PrimaryKey)
	r.parentScope(func(_ context.Context, q *Eloquent) error {
		q.WhereIn(r.OwnerKey, keyValues(r.parent.Get(r.ForeignKey)))
		return nil
	})
	return r
}

func (m *Model) hasOneOrMany(kind RelationType, related, foreignKey, localKey string) *Relation {
	r := m.newRelation(kind, related)
	if r.related == nil {
		return r
	}
	r.ForeignKey = orDefault(foreignKey, strlib.ForeignKey(m.service.schema.Name))
	r.LocalKey = orDefault(localKey, m.service.schema.PrimaryKey)
	r.parentScope(func(_ context.Context, q *Eloquent) error {
		q.WhereIn(r.ForeignKey, keyValues(r.parent.Get(r.LocalKey)))
		return nil
	})
	r.creating = append(r.creating, func(child *Model) {
		child.Set(r.ForeignKey, r.parent.Get(r.LocalKey))
	})
	return r
}

// HasOne: related holds foreignKey pointing at localKey of the parent.
func (m *Model) HasOne(related, foreignKey, localKey string) *Relation {
	return m.hasOneOrMany(HasOne, related, foreignKey, localKey)
}

func (m *Model) HasMany(related, foreignKey, localKey string) *Relation {
	return m.hasOneOrMany(HasMany, related, foreignKey, localKey)
}

func (m *Model) hasThrough(kind RelationType, related, through, firstKey, secondKey, localKey, secondLocalKey string) *Relation {
	r := m.newRelation(kind, related)
	if r.related == nil {
		return r
	}
	tsvc, err := m.service.manager.resolve(through)
	if err != nil {
		r.fail(err)
		return r
	}
	r.through = tsvc
	r.FirstKey = orDefault(firstKey, strlib.ForeignKey(m.service.schema.Name))
	r.SecondKey = orDefault(secondKey, strlib.ForeignKey(through))
	r.LocalKey = orDefault(localKey, m.service.schema.PrimaryKey)
	r.SecondLocalKey = orDefault(secondLocalKey, tsvc.schema.PrimaryKey)
	r.parentScope(func(ctx context.Context, q *Eloquent) error {
		keys, err := r.throughKeys(ctx, keyValues(r.parent.Get(r.LocalKey)))
		if err != nil {
			return err
		}
		q.WhereIn(r.SecondKey, keys)
		return nil
	})
	return r
}

// throughKeys returns SecondLocalKey of every through row owned by parentKeys,
// under the through model's default scope.
func (r *Relation) throughKeys(ctx context.Context, parentKeys []interface{}) ([]interface{}, error) {
	values, err := r.through.Query().WhereIn(r.FirstKey, parentKeys).Pluck(ctx, r.SecondLocalKey)
	if err != nil {
		return nil, err
	}
	var keys []interface{}
	for _, v := range values {
		keys = append(keys, keyValues(v)...)
	}
	return distinct(keys), nil
}

// HasOneThrough reaches one related model via an intermediate model.
func (m *Model) HasOneThrough(related, through, firstKey, secondKey, localKey, secondLocalKey string) *Relation {
	return m.hasThrough(HasOneThrough, related, through, firstKey, secondKey, localKey, secondLocalKey)
}

func (m *Model) HasManyThrough(related, through, firstKey, secondKey, localKey, secondLocalKey string) *Relation {
	return m.hasThrough(HasManyThrough, related, through, firstKey, secondKey, localKey, secondLocalKey)
}

func (m *Model) pivotRelation(kind RelationType, related string, pivot PivotConfig) *Relation {
	r := m.newRelation(kind, related)
	if r.related == nil {
		return r
	}
	if pivot.Alias == "" {
		pivot.Alias = "pivot"
	}
	r.Pivot = &pivot
	r.LocalKey = m.service.schema.PrimaryKey
	r.OwnerKey = r.related.schema.PrimaryKey
	r.parentScope(func(ctx context.Context, q *Eloquent) error {
		rows, err := r.pivotRows(ctx, keyValues(r.parent.Get(r.LocalKey)))
		if err != nil {
			return err
		}
		var ids []interface{}
		for _, row := range rows {
			ids = append(ids, row[r.Pivot.RelatedPivotKey])
		}
		q.WhereIn(r.OwnerKey, distinct(ids))
		q.afterFetch = append(q.afterFetch, func(_ context.Context, models []*Model) error {
			for _, child := range models {
				r.attachPivotData(child, rows)
			}
			return nil
		})
		return nil
	})
	r.created = append(r.created, func(ctx context.Context, child *Model) error {
		return r.Attach(ctx, child.Get(r.OwnerKey))
	})
	return r
}

// BelongsToMany links parent and related through pivot rows.
func (m *Model) BelongsToMany(related, pivotCollection, foreignPivotKey, relatedPivotKey string) *Relation {
	parent := m.service.schema.Name
	return m.pivotRelation(BelongsToMany, related, PivotConfig{
		Collection:      orDefault(pivotCollection, strlib.PivotCollection(parent, related)),
		ForeignPivotKey: orDefault(foreignPivotKey, strlib.ForeignKey(parent)),
		RelatedPivotKey: orDefault(relatedPivotKey, strlib.ForeignKey(related)),
	})
}

// MorphToMany is the owner side of a polymorphic pivot: rows carry the
// parent's key in <name>_id and its model name in <name>_type.
func (m *Model) MorphToMany(related, name, pivotCollection string) *Relation {
	return m.pivotRelation(MorphToMany, related, PivotConfig{
		Collection:      orDefault(pivotCollection, strlib.Pluralize(name)),
		ForeignPivotKey: name + "_id",
		RelatedPivotKey: strlib.ForeignKey(related),
		MorphType:       name + "_type",
		MorphClass:      m.service.schema.Name,
	})
}

// MorphedByMany is the inverse side: the parent is the shared model and the
// rows of type related are followed.
func (m *Model) MorphedByMany(related, name, pivotCollection string) *Relation {
	return m.pivotRelation(MorphedByMany, related, PivotConfig{
		Collection:      orDefault(pivotCollection, strlib.Pluralize(name)),
		ForeignPivotKey: strlib.ForeignKey(m.service.schema.Name),
		RelatedPivotKey: name + "_id",
		MorphType:       name + "_type",
		MorphClass:      related,
	})
}

func (m *Model) morphOneOrMany(kind RelationType, related, name string) *Relation {
	r := m.newRelation(kind, related)
	if r.related == nil {
		return r
	}
	r.ForeignKey = name + "_id"
	r.MorphType = name + "_type"
	r.LocalKey = m.service.schema.PrimaryKey
	r.parentScope(func(_ context.Context, q *Eloquent) error {
		q.WhereIn(r.ForeignKey, keyValues(r.parent.Get(r.LocalKey)))
		q.Where(r.MorphType, r.parent.service.schema.Name)
		return nil
	})
	r.creating = append(r.creating, func(child *Model) {
		child.Set(r.ForeignKey, r.parent.Get(r.LocalKey))
		child.Set(r.MorphType, r.parent.service.schema.Name)
	})
	return r
}

// MorphOne: related holds <name>_id and <name>_type pointing at the parent.
func (m *Model) MorphOne(related, name string) *Relation {
	return m.morphOneOrMany(MorphOne, related, name)
}

func (m *Model) MorphMany(related, name string) *Relation {
	return m.morphOneOrMany(MorphMany, related, name)
}

// MorphTo: the parent holds <name>_id and <name>_type naming the related model.
func (m *Model) MorphTo(name string) *Relation {
	r := &Relation{Type: MorphTo, parent: m, ForeignKey: name + "_id", MorphType: name + "_type"}
	typ, _ := m.Get(r.MorphType).(string)
	if typ == "" {
		r.Eloquent = newEloquent(m.service)
		r.parentScope(func(_ context.Context, q *Eloquent) error {
			q.WhereIn(m.service.schema.PrimaryKey, []interface{}{})
			return nil
		})
		return r
	}
	svc, err := m.service.manager.resolve(typ)
	if err != nil {
		r.Eloquent = newEloquent(m.service).fail(err)
		return r
	}
	r.related = svc
	r.Eloquent = newEloquent(svc)
	r.OwnerKey = svc.schema.PrimaryKey
	r.parentScope(func(_ context.Context, q *Eloquent) error {
		q.WhereIn(r.OwnerKey, keyValues(r.parent.Get(r.ForeignKey)))
		return nil
	})
	return r
}

// GetResults returns *Model for to-one relations and []*Model otherwise.
func (r *Relation) GetResults(ctx context.Context) (interface{}, error) {
	if r.Type.ToOne() {
		return r.First(ctx)
	}
	return r.Get(ctx)
}

// Associate points a belongs-to or morph-to parent at owner. Nothing is
// written until the parent is saved.
func (r *Relation) Associate(owner *Model) (*Model, error) {
	switch r.Type {
	case BelongsTo:
		r.parent.Set(r.ForeignKey, owner.Get(r.OwnerKey))
	case MorphTo:
		r.parent.Set(r.ForeignKey, owner.Key())
		r.parent.Set(r.MorphType, owner.service.schema.Name)
	default:
		return nil, invalidArgument("associate is not supported on %s relations", r.Type)
	}
	if r.Name != "" {
		r.parent.SetRelation(r.Name, owner)
	}
	return r.parent, nil
}

// Dissociate clears the foreign key on the parent.
func (r *Relation) Dissociate() (*Model, error) {
	switch r.Type {
	case BelongsTo:
		r.parent.Set(r.ForeignKey, nil)
	case MorphTo:
		r.parent.Set(r.ForeignKey, nil)
		r.parent.Set(r.MorphType, nil)
	default:
		return nil, invalidArgument("dissociate is not supported on %s relations", r.Type)
	}
	if r.Name != "" {
		r.parent.SetRelation(r.Name, nil)
	}
	return r.parent, nil
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s(%s)", r.Type, r.Name)
}
