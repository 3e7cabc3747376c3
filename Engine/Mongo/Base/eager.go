package base

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// WithOptions narrows an eager loaded relation. Select and Exclude apply to
// the related documents only; Constrain adds conditions to the relation query.
type WithOptions struct {
	Select    []string
	Exclude   []string
	Constrain func(q *Eloquent)
}

// With eager loads a relation. Dotted paths load nested relations:
// With("posts.comments") loads posts and then the comments of those posts.
func (e *Eloquent) With(path string, opts ...WithOptions) *Eloquent {
	top := strings.SplitN(path, ".", 2)[0]
	if _, ok := e.service.schema.Relations[top]; !ok {
		return e.fail(invalidArgument("%s has no relation %q", e.service.schema.Name, top))
	}
	var o WithOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	e.eager = append(e.eager, eagerLoad{path: path, opts: o})
	return e
}

// WithCount stores the number of related models under <name>_count.
func (e *Eloquent) WithCount(names ...string) *Eloquent {
	for _, n := range names {
		if _, ok := e.service.schema.Relations[n]; !ok {
			return e.fail(invalidArgument("%s has no relation %q", e.service.schema.Name, n))
		}
		e.counts = append(e.counts, n)
	}
	return e
}

type eagerNode struct {
	name     string
	opts     WithOptions
	children []eagerLoad
}

// groupEager folds dotted paths into one node per top-level relation, in
// first-seen order.
func groupEager(loads []eagerLoad) []*eagerNode {
	var nodes []*eagerNode
	index := map[string]*eagerNode{}
	for _, l := range loads {
		parts := strings.SplitN(l.path, ".", 2)
		n, ok := index[parts[0]]
		if !ok {
			n = &eagerNode{name: parts[0]}
			index[parts[0]] = n
			nodes = append(nodes, n)
		}
		if len(parts) == 1 {
			n.opts = l.opts
			continue
		}
		n.children = append(n.children, eagerLoad{path: parts[1], opts: l.opts})
	}
	return nodes
}

// loadRelations resolves every relation with one batched query each. Distinct
// relations run concurrently; results are merged afterwards by relation name.
func (e *Eloquent) loadRelations(ctx context.Context, parents []*Model, loads []eagerLoad) error {
	if len(parents) == 0 || len(loads) == 0 {
		return nil
	}
	nodes := groupEager(loads)
	results := make([]map[int]interface{}, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			res, err := e.resolveEager(gctx, parents, n)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, n := range nodes {
		for pi, p := range parents {
			if v, ok := results[i][pi]; ok {
				p.SetRelation(n.name, v)
			}
		}
	}
	return nil
}

func (e *Eloquent) loadCounts(ctx context.Context, parents []*Model, names []string) error {
	if len(parents) == 0 {
		return nil
	}
	for _, name := range names {
		res, err := e.resolveEager(ctx, parents, &eagerNode{name: name})
		if err != nil {
			return err
		}
		for pi, p := range parents {
			var n int64
			switch v := res[pi].(type) {
			case []*Model:
				n = int64(len(v))
			case *Model:
				if v != nil {
					n = 1
				}
			}
			p.SetRelation(name+"_count", n)
		}
	}
	return nil
}

// batchQuery is the relation query without its single-parent constraint,
// narrowed by the eager load options.
func (r *Relation) batchQuery(n *eagerNode) *Eloquent {
	q := r.Eloquent.Clone()
	var kept []deferredConstraint
	for _, d := range q.deferred {
		if !d.parentScoped {
			kept = append(kept, d)
		}
	}
	q.deferred = kept
	q.afterFetch, q.creating, q.created = nil, nil, nil
	q.counts = nil
	applyWithOptions(q, n)
	return q
}

func applyWithOptions(q *Eloquent, n *eagerNode) {
	for _, c := range n.children {
		q.With(c.path, c.opts)
	}
	if n.opts.Constrain != nil {
		n.opts.Constrain(q)
	}
	switch {
	case len(n.opts.Select) > 0:
		q.Select(n.opts.Select...)
	case len(n.opts.Exclude) > 0:
		q.Exclude(n.opts.Exclude...)
	}
}

// ensureProjected makes sure a match key survives the projection. It reports
// whether the key was added and so must be stripped from the results.
func (e *Eloquent) ensureProjected(key string) bool {
	p := &e.projection
	if len(p.fields) == 0 {
		return false
	}
	if p.exclude {
		for i, f := range p.fields {
			if f == key {
				p.fields = append(p.fields[:i:i], p.fields[i+1:]...)
				if len(p.fields) == 0 {
					p.exclude = false
				}
				return true
			}
		}
		return false
	}
	if key == "_id" || containsString(p.fields, key) {
		return false
	}
	p.fields = append(p.fields, key)
	return true
}

func stripKey(models []*Model, key string) {
	for _, m := range models {
		m.Unset(key)
		m.SyncOriginalFields(key)
	}
}

func (e *Eloquent) resolveEager(ctx context.Context, parents []*Model, n *eagerNode) (map[int]interface{}, error) {
	fn, ok := e.service.schema.Relations[n.name]
	if !ok {
		return nil, invalidArgument("%s has no relation %q", e.service.schema.Name, n.name)
	}
	proto := fn(parents[0])
	proto.Name = n.name
	if proto.Type == MorphTo {
		return e.resolveMorphTo(ctx, parents, proto, n)
	}
	if proto.Eloquent.err != nil {
		return nil, proto.Eloquent.err
	}
	q := proto.batchQuery(n)
	switch proto.Type {
	case BelongsTo:
		return proto.eagerBelongsTo(ctx, q, parents)
	case HasOne, HasMany, MorphOne, MorphMany:
		return proto.eagerHasOneOrMany(ctx, q, parents)
	case HasOneThrough, HasManyThrough:
		return proto.eagerThrough(ctx, q, parents)
	case BelongsToMany, MorphToMany, MorphedByMany:
		return proto.eagerPivot(ctx, q, parents)
	}
	return nil, invalidArgument("relation %q has unsupported type %s", n.name, proto.Type)
}

func collectKeys(parents []*Model, field string) []interface{} {
	var keys []interface{}
	for _, p := range parents {
		keys = append(keys, keyValues(p.Get(field))...)
	}
	return distinct(keys)
}

// bucket groups models under every key value their field holds.
func bucket(models []*Model, field string) map[string][]*Model {
	out := map[string][]*Model{}
	for _, m := range models {
		for _, k := range keyValues(m.Get(field)) {
			key := idKey(k)
			out[key] = append(out[key], m)
		}
	}
	return out
}

// shape turns the matches of one parent into the relation value.
func (r *Relation) shape(matches []*Model) interface{} {
	if r.Type.ToOne() {
		if len(matches) == 0 {
			return nil
		}
		return matches[0]
	}
	if matches == nil {
		return []*Model{}
	}
	return matches
}

func (r *Relation) eagerBelongsTo(ctx context.Context, q *Eloquent, parents []*Model) (map[int]interface{}, error) {
	q.WhereIn(r.OwnerKey, collectKeys(parents, r.ForeignKey))
	injected := q.ensureProjected(r.OwnerKey)
	children, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	index := bucket(children, r.OwnerKey)
	if injected {
		stripKey(children, r.OwnerKey)
	}
	out := make(map[int]interface{}, len(parents))
	for i, p := range parents {
		var matches []*Model
		for _, k := range keyValues(p.Get(r.ForeignKey)) {
			matches = append(matches, index[idKey(k)]...)
		}
		out[i] = r.shape(matches)
	}
	return out, nil
}

func (r *Relation) eagerHasOneOrMany(ctx context.Context, q *Eloquent, parents []*Model) (map[int]interface{}, error) {
	q.WhereIn(r.ForeignKey, collectKeys(parents, r.LocalKey))
	injected := []string{}
	if q.ensureProjected(r.ForeignKey) {
		injected = append(injected, r.ForeignKey)
	}
	if r.MorphType != "" {
		q.Where(r.MorphType, r.parent.service.schema.Name)
		if q.ensureProjected(r.MorphType) {
			injected = append(injected, r.MorphType)
		}
	}
	children, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	index := bucket(children, r.ForeignKey)
	for _, k := range injected {
		stripKey(children, k)
	}
	out := make(map[int]interface{}, len(parents))
	for i, p := range parents {
		var matches []*Model
		for _, k := range keyValues(p.Get(r.LocalKey)) {
			matches = append(matches, index[idKey(k)]...)
		}
		out[i] = r.shape(matches)
	}
	return out, nil
}

func (r *Relation) eagerThrough(ctx context.Context, q *Eloquent, parents []*Model) (map[int]interface{}, error) {
	rows, err := r.through.Query().
		WhereIn(r.FirstKey, collectKeys(parents, r.LocalKey)).
		Select(r.FirstKey, r.SecondLocalKey).
		get(ctx)
	if err != nil {
		return nil, err
	}
	// through key -> parent keys
	owners := map[string][]string{}
	var throughKeys []interface{}
	for _, row := range rows {
		for _, tk := range keyValues(row.Get(r.SecondLocalKey)) {
			throughKeys = append(throughKeys, tk)
			for _, pk := range keyValues(row.Get(r.FirstKey)) {
				owners[idKey(tk)] = append(owners[idKey(tk)], idKey(pk))
			}
		}
	}
	q.WhereIn(r.SecondKey, distinct(throughKeys))
	injected := q.ensureProjected(r.SecondKey)
	children, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	byParent := map[string][]*Model{}
	for _, c := range children {
		seen := map[string]bool{}
		for _, tk := range keyValues(c.Get(r.SecondKey)) {
			for _, pk := range owners[idKey(tk)] {
				if seen[pk] {
					continue
				}
				seen[pk] = true
				byParent[pk] = append(byParent[pk], c)
			}
		}
	}
	if injected {
		stripKey(children, r.SecondKey)
	}
	out := make(map[int]interface{}, len(parents))
	for i, p := range parents {
		var matches []*Model
		for _, k := range keyValues(p.Get(r.LocalKey)) {
			matches = append(matches, byParent[idKey(k)]...)
		}
		out[i] = r.shape(matches)
	}
	return out, nil
}

func (r *Relation) eagerPivot(ctx context.Context, q *Eloquent, parents []*Model) (map[int]interface{}, error) {
	rows, err := r.pivotRows(ctx, collectKeys(parents, r.LocalKey))
	if err != nil {
		return nil, err
	}
	var ids []interface{}
	for _, row := range rows {
		ids = append(ids, row[r.Pivot.RelatedPivotKey])
	}
	q.WhereIn(r.OwnerKey, distinct(ids))
	injected := q.ensureProjected(r.OwnerKey)
	children, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	index := bucket(children, r.OwnerKey)
	if injected {
		stripKey(children, r.OwnerKey)
	}
	out := make(map[int]interface{}, len(parents))
	for i, p := range parents {
		parentKey := idKey(p.Get(r.LocalKey))
		matches := []*Model{}
		for _, row := range rows {
			if idKey(row[r.Pivot.ForeignPivotKey]) != parentKey {
				continue
			}
			found := index[idKey(row[r.Pivot.RelatedPivotKey])]
			if len(found) == 0 {
				continue
			}
			c := found[0].clone()
			c.SetRelation(r.Pivot.Alias, r.pivotData(row))
			matches = append(matches, c)
		}
		out[i] = matches
	}
	return out, nil
}

// resolveMorphTo issues one query per distinct owner type. Parents whose
// owner is missing get no entry at all.
func (e *Eloquent) resolveMorphTo(ctx context.Context, parents []*Model, proto *Relation, n *eagerNode) (map[int]interface{}, error) {
	byType := map[string][]int{}
	var types []string
	for i, p := range parents {
		typ, _ := p.Get(proto.MorphType).(string)
		if typ == "" {
			continue
		}
		if _, ok := byType[typ]; !ok {
			types = append(types, typ)
		}
		byType[typ] = append(byType[typ], i)
	}
	out := map[int]interface{}{}
	for _, typ := range types {
		svc, err := e.service.manager.resolve(typ)
		if err != nil {
			return nil, err
		}
		pk := svc.schema.PrimaryKey
		var keys []interface{}
		for _, i := range byType[typ] {
			keys = append(keys, keyValues(parents[i].Get(proto.ForeignKey))...)
		}
		q := svc.Query()
		applyWithOptions(q, n)
		q.WhereIn(pk, distinct(keys))
		injected := q.ensureProjected(pk)
		children, err := q.get(ctx)
		if err != nil {
			return nil, err
		}
		index := bucket(children, pk)
		if injected {
			stripKey(children, pk)
		}
		for _, i := range byType[typ] {
			if found := index[idKey(parents[i].Get(proto.ForeignKey))]; len(found) > 0 {
				out[i] = found[0]
			}
		}
	}
	return out, nil
}
