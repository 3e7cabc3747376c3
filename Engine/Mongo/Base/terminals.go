package base

import (
	"context"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	BaseModels "github.com/venomous-maker/mongo-eloquent/Models/Base"
)

// Page is the result of Paginate.
type Page struct {
	Data []*Model `json:"data"`
	Meta PageMeta `json:"meta"`
}

type PageMeta struct {
	Total    int64 `json:"total"`
	Page     int64 `json:"page"`
	Limit    int64 `json:"limit"`
	LastPage int64 `json:"lastPage"`
}

// prepare validates the builder and returns a clone with deferred
// constraints applied. The receiver is left untouched.
func (e *Eloquent) prepare(ctx context.Context) (*Eloquent, error) {
	if e.err != nil {
		return nil, e.err
	}
	q := e.Clone()
	deferred := q.deferred
	q.deferred = nil
	for _, d := range deferred {
		if err := d.apply(ctx, q); err != nil {
			return nil, err
		}
		if q.err != nil {
			return nil, q.err
		}
	}
	return q, nil
}

// aggregate runs pipeline against the model's collection, through the cache
// when the builder has a TTL.
func (e *Eloquent) aggregate(ctx context.Context, pipeline []bson.M) ([]bson.M, error) {
	s := e.service
	coll := s.schema.Collection
	var key string
	if e.cacheTTL > 0 {
		k, err := s.manager.cache.key(coll, pipeline)
		if err == nil {
			key = k
			if docs, ok := s.manager.cache.get(key); ok {
				s.logger().Debug("query cache hit", zap.String("collection", coll))
				return docs, nil
			}
		}
	}
	start := time.Now()
	docs, err := s.manager.store.Aggregate(ctx, coll, pipeline)
	if err != nil {
		s.logger().Error("aggregate failed",
			zap.String("collection", coll), zap.Any("pipeline", pipeline), zap.Error(err))
		return nil, err
	}
	s.logger().Debug("aggregate",
		zap.String("collection", coll),
		zap.Any("pipeline", pipeline),
		zap.Int("documents", len(docs)),
		zap.Duration("elapsed", time.Since(start)))
	if key != "" {
		s.manager.cache.set(key, docs, e.cacheTTL)
	}
	return docs, nil
}

// get runs a prepared builder and performs eager loading. It does not consume.
func (e *Eloquent) get(ctx context.Context) ([]*Model, error) {
	q, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := q.aggregate(ctx, q.compile())
	if err != nil {
		return nil, err
	}
	models := make([]*Model, len(docs))
	for i, d := range docs {
		models[i] = q.service.hydrate(d)
	}
	if err := q.moveJoined(models); err != nil {
		return nil, err
	}
	for _, fn := range q.afterFetch {
		if err := fn(ctx, models); err != nil {
			return nil, err
		}
	}
	if len(q.eager) > 0 {
		if err := q.loadRelations(ctx, models, q.eager); err != nil {
			return nil, err
		}
	}
	if len(q.counts) > 0 {
		if err := q.loadCounts(ctx, models, q.counts); err != nil {
			return nil, err
		}
	}
	if h := q.service.schema.Hooks.AfterFetch; h != nil && len(models) > 0 {
		if err := h(ctx, models); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// moveJoined turns $lookup output into relation slots.
func (e *Eloquent) moveJoined(models []*Model) error {
	for _, j := range e.joins {
		fn := e.service.schema.Relations[j.name]
		related := fn(e.service.New(nil)).related
		for _, m := range models {
			raw := m.Get(j.name)
			m.Unset(j.name)
			m.SyncOriginalFields(j.name)
			if j.toOne {
				doc, ok := raw.(bson.M)
				if !ok {
					m.SetRelation(j.name, nil)
					continue
				}
				m.SetRelation(j.name, related.hydrate(doc))
				continue
			}
			list := toInterfaceSlice(raw)
			children := make([]*Model, 0, len(list))
			for _, item := range list {
				if doc, ok := item.(bson.M); ok {
					children = append(children, related.hydrate(doc))
				}
			}
			m.SetRelation(j.name, children)
		}
	}
	return nil
}

// Get runs the query.
func (e *Eloquent) Get(ctx context.Context) ([]*Model, error) {
	models, err := e.get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return models, nil
}

// All is Get without skip and limit.
func (e *Eloquent) All(ctx context.Context) ([]*Model, error) {
	q := e.Clone()
	q.skip, q.limit = nil, nil
	models, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return models, nil
}

// First returns the first match, or nil when nothing matches.
func (e *Eloquent) First(ctx context.Context) (*Model, error) {
	models, err := e.Clone().Limit(1).get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	if len(models) == 0 {
		return nil, nil
	}
	return models[0], nil
}

func (e *Eloquent) notFound(ctx context.Context) error {
	q, err := e.prepare(ctx)
	if err != nil {
		return err
	}
	return &NotFoundError{Collection: e.service.schema.Collection, Filter: q.matchFilter()}
}

func (e *Eloquent) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := e.Clone().First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, e.notFound(ctx)
	}
	e.consume()
	return m, nil
}

// Find looks up a model by primary key. Hex strings are read as ObjectIDs.
func (e *Eloquent) Find(ctx context.Context, id interface{}) (*Model, error) {
	m, err := e.Clone().Where(e.service.schema.PrimaryKey, normalizeID(id)).First(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return m, nil
}

func (e *Eloquent) FindOrFail(ctx context.Context, id interface{}) (*Model, error) {
	m, err := e.Clone().Where(e.service.schema.PrimaryKey, normalizeID(id)).FirstOrFail(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return m, nil
}

func (e *Eloquent) FindMany(ctx context.Context, ids interface{}) ([]*Model, error) {
	list := toInterfaceSlice(ids)
	for i := range list {
		list[i] = normalizeID(list[i])
	}
	models, err := e.Clone().WhereIn(e.service.schema.PrimaryKey, list).get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return models, nil
}

// Sole returns the only match. It fails when there is none or more than one.
func (e *Eloquent) Sole(ctx context.Context) (*Model, error) {
	models, err := e.Clone().Limit(2).get(ctx)
	if err != nil {
		return nil, err
	}
	switch len(models) {
	case 0:
		return nil, e.notFound(ctx)
	case 1:
		e.consume()
		return models[0], nil
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	n, err := q.count(ctx)
	if err != nil {
		return nil, err
	}
	return nil, &MultipleFoundError{Collection: e.service.schema.Collection, Filter: q.matchFilter(), Count: n}
}

// Pluck returns field from every match. Missing values are nil.
func (e *Eloquent) Pluck(ctx context.Context, field string) ([]interface{}, error) {
	q := e.Clone().Select(field)
	q.eager, q.counts = nil, nil
	models, err := q.get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Get(field)
	}
	return out, nil
}

// Value returns field of the first match, or nil.
func (e *Eloquent) Value(ctx context.Context, field string) (interface{}, error) {
	values, err := e.Clone().Limit(1).Pluck(ctx, field)
	if err != nil {
		return nil, err
	}
	e.consume()
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

// count ignores sort, projection, skip and limit.
func (e *Eloquent) count(ctx context.Context) (int64, error) {
	pipeline := append(e.matchStages(), e.groupStages()...)
	pipeline = append(pipeline, bson.M{"$count": "count"})
	docs, err := e.aggregate(ctx, pipeline)
	if err != nil || len(docs) == 0 {
		return 0, err
	}
	n, _ := BaseModels.AsFloat(docs[0]["count"])
	return int64(n), nil
}

func (e *Eloquent) Count(ctx context.Context) (int64, error) {
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	n, err := q.count(ctx)
	if err != nil {
		return 0, err
	}
	e.consume()
	return n, nil
}

// numeric folds numeric values of field with a $group accumulator.
func (e *Eloquent) numeric(ctx context.Context, accumulator, field string) (float64, error) {
	if field == "" {
		return 0, invalidArgument("aggregate needs a field")
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return 0, err
	}
	pipeline := append(q.matchStages(),
		bson.M{"$match": bson.M{field: bson.M{"$type": "number"}}},
		bson.M{"$group": bson.M{"_id": nil, "value": bson.M{accumulator: "$" + field}}},
	)
	docs, err := q.aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	e.consume()
	if len(docs) == 0 {
		return 0, nil
	}
	v, _ := BaseModels.AsFloat(docs[0]["value"])
	return v, nil
}

func (e *Eloquent) Sum(ctx context.Context, field string) (float64, error) {
	return e.numeric(ctx, "$sum", field)
}

func (e *Eloquent) Avg(ctx context.Context, field string) (float64, error) {
	return e.numeric(ctx, "$avg", field)
}

func (e *Eloquent) Min(ctx context.Context, field string) (float64, error) {
	return e.numeric(ctx, "$min", field)
}

func (e *Eloquent) Max(ctx context.Context, field string) (float64, error) {
	return e.numeric(ctx, "$max", field)
}

func (e *Eloquent) Exists(ctx context.Context) (bool, error) {
	n, err := e.Count(ctx)
	return n > 0, err
}

func (e *Eloquent) DoesntExist(ctx context.Context) (bool, error) {
	ok, err := e.Exists(ctx)
	return !ok, err
}

// Paginate returns one 1-based page and the totals. The total is counted
// with a separate query before the page is fetched.
func (e *Eloquent) Paginate(ctx context.Context, page, limit int64) (*Page, error) {
	if page < 1 || limit < 1 {
		return nil, invalidArgument("page and limit must be positive, got %d and %d", page, limit)
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	total, err := q.count(ctx)
	if err != nil {
		return nil, err
	}
	models, err := e.Clone().Skip((page - 1) * limit).Limit(limit).get(ctx)
	if err != nil {
		return nil, err
	}
	e.consume()
	return &Page{
		Data: models,
		Meta: PageMeta{
			Total:    total,
			Page:     page,
			Limit:    limit,
			LastPage: int64(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// Random returns up to n matches in random order.
func (e *Eloquent) Random(ctx context.Context, n int64) ([]*Model, error) {
	if n <= 0 {
		return nil, invalidArgument("random needs a positive size, got %d", n)
	}
	q, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}
	q.orders, q.skip, q.limit = nil, nil, nil
	q.cacheTTL = 0
	pipeline := append(q.matchStages(), bson.M{"$sample": bson.M{"size": n}})
	pipeline = append(pipeline, q.projectStages()...)
	docs, err := q.aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	models := make([]*Model, len(docs))
	for i, d := range docs {
		models[i] = q.service.hydrate(d)
	}
	if len(q.eager) > 0 {
		if err := q.loadRelations(ctx, models, q.eager); err != nil {
			return nil, err
		}
	}
	e.consume()
	return models, nil
}

// Chunk walks the matches in pages of size, ordered by primary key unless an
// order was given. Returning an error from fn stops the walk.
func (e *Eloquent) Chunk(ctx context.Context, size int64, fn func(models []*Model) error) error {
	if size < 1 {
		return invalidArgument("chunk size must be positive, got %d", size)
	}
	base := e.Clone()
	if len(base.orders) == 0 {
		base.OrderBy(e.service.schema.PrimaryKey)
	}
	for page := int64(1); ; page++ {
		models, err := base.Clone().ForPage(page, size).get(ctx)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			break
		}
		if err := fn(models); err != nil {
			return err
		}
		if int64(len(models)) < size {
			break
		}
	}
	e.consume()
	return nil
}
