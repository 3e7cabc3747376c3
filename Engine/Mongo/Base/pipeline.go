package base

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// joinSpec is a relation compiled into a $lookup stage.
type joinSpec struct {
	name         string
	from         string
	localField   string
	foreignField string
	toOne        bool
	match        bson.M
}

func (j joinSpec) stages() []bson.M {
	lookup := bson.M{
		"from":         j.from,
		"localField":   j.localField,
		"foreignField": j.foreignField,
		"as":           j.name,
	}
	if len(j.match) > 0 {
		lookup["pipeline"] = bson.A{bson.M{"$match": j.match}}
	}
	stages := []bson.M{{"$lookup": lookup}}
	if j.toOne {
		stages = append(stages, bson.M{"$unwind": bson.M{
			"path":                       "$" + j.name,
			"preserveNullAndEmptyArrays": true,
		}})
	}
	return stages
}

// Join embeds a relation through a $lookup stage. Only key based relations
// (belongs-to, has-one, has-many, morph-one, morph-many) can be joined.
func (e *Eloquent) Join(name string) *Eloquent {
	fn, ok := e.service.schema.Relations[name]
	if !ok {
		return e.fail(invalidArgument("%s has no relation %q", e.service.schema.Name, name))
	}
	rel := fn(e.service.New(nil))
	if rel.Eloquent.err != nil {
		return e.fail(rel.Eloquent.err)
	}
	related := rel.related.schema
	spec := joinSpec{name: name, from: related.Collection}
	var match []bson.M
	if f := related.scopeFilter(withoutTrashed); f != nil {
		match = append(match, f)
	}
	switch rel.Type {
	case BelongsTo:
		spec.localField, spec.foreignField, spec.toOne = rel.ForeignKey, rel.OwnerKey, true
	case HasOne, HasMany:
		spec.localField, spec.foreignField, spec.toOne = rel.LocalKey, rel.ForeignKey, rel.Type == HasOne
	case MorphOne, MorphMany:
		spec.localField, spec.foreignField, spec.toOne = rel.LocalKey, rel.ForeignKey, rel.Type == MorphOne
		match = append(match, bson.M{rel.MorphType: e.service.schema.Name})
	default:
		return e.fail(invalidArgument("relation %q of type %s cannot be joined", name, rel.Type))
	}
	switch len(match) {
	case 1:
		spec.match = match[0]
	case 2:
		spec.match = bson.M{"$and": bson.A{match[0], match[1]}}
	}
	e.joins = append(e.joins, spec)
	return e
}

// matchFilter ANDs the soft-delete scope with the condition tree.
func (e *Eloquent) matchFilter() bson.M {
	var clauses []bson.M
	if c := e.conditions.compile(); c != nil {
		clauses = append(clauses, c)
	}
	if s := e.service.schema.scopeFilter(e.trashed); s != nil {
		clauses = append(clauses, s)
	}
	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0]
	}
	and := make(bson.A, len(clauses))
	for i, c := range clauses {
		and[i] = c
	}
	return bson.M{"$and": and}
}

func (e *Eloquent) matchStages() []bson.M {
	if f := e.matchFilter(); len(f) > 0 {
		return []bson.M{{"$match": f}}
	}
	return nil
}

func (e *Eloquent) groupStages() []bson.M {
	if len(e.groupBy) == 0 {
		return nil
	}
	id := bson.M{}
	for _, f := range e.groupBy {
		id[strings.ReplaceAll(f, ".", "_")] = "$" + f
	}
	return []bson.M{
		{"$group": bson.M{"_id": id, "doc": bson.M{"$first": "$$ROOT"}}},
		{"$replaceRoot": bson.M{"newRoot": "$doc"}},
	}
}

func (e *Eloquent) sortStages() []bson.M {
	if len(e.orders) == 0 {
		return nil
	}
	var stages []bson.M
	shadow := bson.M{}
	var shadowNames bson.A
	keys := bson.D{}
	for _, o := range e.orders {
		key := o.field
		if o.insensitive {
			key = "__sort_" + strings.ReplaceAll(o.field, ".", "_")
			shadow[key] = bson.M{"$toLower": "$" + o.field}
			shadowNames = append(shadowNames, key)
		}
		keys = append(keys, bson.E{Key: key, Value: o.direction})
	}
	if len(shadow) > 0 {
		stages = append(stages, bson.M{"$addFields": shadow})
	}
	stages = append(stages, bson.M{"$sort": keys})
	if len(shadowNames) > 0 {
		stages = append(stages, bson.M{"$unset": shadowNames})
	}
	return stages
}

func (e *Eloquent) projectStages() []bson.M {
	if len(e.projection.fields) == 0 {
		return nil
	}
	flag := 1
	if e.projection.exclude {
		flag = 0
	}
	p := bson.M{}
	for _, f := range e.projection.fields {
		p[f] = flag
	}
	for _, j := range e.joins {
		if !e.projection.exclude {
			p[j.name] = 1
		}
	}
	return []bson.M{{"$project": p}}
}

// compile emits: match, lookups, sort, group, project, skip, limit.
func (e *Eloquent) compile() []bson.M {
	pipeline := []bson.M{}
	pipeline = append(pipeline, e.matchStages()...)
	for _, j := range e.joins {
		pipeline = append(pipeline, j.stages()...)
	}
	pipeline = append(pipeline, e.sortStages()...)
	pipeline = append(pipeline, e.groupStages()...)
	pipeline = append(pipeline, e.projectStages()...)
	if e.skip != nil && *e.skip > 0 {
		pipeline = append(pipeline, bson.M{"$skip": *e.skip})
	}
	if e.limit != nil && *e.limit > 0 {
		pipeline = append(pipeline, bson.M{"$limit": *e.limit})
	}
	return pipeline
}
