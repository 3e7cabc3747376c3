package base

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type order struct {
	field       string
	direction   int
	insensitive bool
}

type projection struct {
	exclude bool
	fields  []string
}

type eagerLoad struct {
	path string
	opts WithOptions
}

type deferredConstraint struct {
	apply func(ctx context.Context, q *Eloquent) error
	// parentScoped constraints tie a relation to one parent and are
	// replaced by batched key constraints during eager loading.
	parentScoped bool
}

// Eloquent is a fluent query builder bound to one model. Builder methods
// mutate and return the receiver; terminals compile and execute it.
//
// The first invalid argument is remembered and returned by the next terminal
// before any store I/O takes place.
type Eloquent struct {
	service *EloquentService
	err     error

	conditions conditionTree
	trashed    trashedMode
	projection projection
	orders     []order
	groupBy    []string
	skip       *int64
	limit      *int64
	joins      []joinSpec
	eager      []eagerLoad
	counts     []string
	cacheTTL   time.Duration

	deferred   []deferredConstraint
	afterFetch []func(ctx context.Context, models []*Model) error
	creating   []func(m *Model)
	created    []func(ctx context.Context, m *Model) error
}

func newEloquent(svc *EloquentService) *Eloquent {
	return &Eloquent{service: svc, cacheTTL: svc.schema.CacheTTL}
}

func (e *Eloquent) Service() *EloquentService {
	return e.service
}

// Err returns the first recorded builder error.
func (e *Eloquent) Err() error {
	return e.err
}

func (e *Eloquent) fail(err error) *Eloquent {
	if e.err == nil {
		e.err = err
	}
	return e
}

// Clone returns an independent copy of the builder state.
func (e *Eloquent) Clone() *Eloquent {
	c := *e
	c.conditions = e.conditions.clone()
	c.projection.fields = append([]string(nil), e.projection.fields...)
	c.orders = append([]order(nil), e.orders...)
	c.groupBy = append([]string(nil), e.groupBy...)
	c.joins = append([]joinSpec(nil), e.joins...)
	c.eager = append([]eagerLoad(nil), e.eager...)
	c.counts = append([]string(nil), e.counts...)
	c.deferred = append([]deferredConstraint(nil), e.deferred...)
	c.afterFetch = append([]func(context.Context, []*Model) error(nil), e.afterFetch...)
	c.creating = append(([]func(*Model))(nil), e.creating...)
	c.created = append([]func(context.Context, *Model) error(nil), e.created...)
	if e.skip != nil {
		v := *e.skip
		c.skip = &v
	}
	if e.limit != nil {
		v := *e.limit
		c.limit = &v
	}
	return &c
}

func (e *Eloquent) addCondition(field string, expr interface{}, or bool) *Eloquent {
	if field == "" {
		return e.fail(invalidArgument("empty field name"))
	}
	e.conditions.add(condition{field: field, expr: expr}, or)
	return e
}

func (e *Eloquent) where(or bool, field string, args []interface{}) *Eloquent {
	switch len(args) {
	case 1:
		return e.addCondition(field, args[0], or)
	case 2:
		symbol, ok := args[0].(string)
		if !ok {
			return e.fail(invalidArgument("operator for %s must be a string, got %T", field, args[0]))
		}
		op, ok := LookupOperator(symbol)
		if !ok {
			return e.fail(invalidArgument("unknown operator %q", symbol))
		}
		return e.addCondition(field, operatorExpr(op, args[1]), or)
	}
	return e.fail(invalidArgument("where on %s takes a value or an operator and a value, got %d arguments", field, len(args)))
}

// Where adds an AND condition: Where("age", 18) or Where("age", ">", 18).
func (e *Eloquent) Where(field string, args ...interface{}) *Eloquent {
	return e.where(false, field, args)
}

// OrWhere opens a new OR branch. On an empty builder it behaves like Where.
func (e *Eloquent) OrWhere(field string, args ...interface{}) *Eloquent {
	return e.where(true, field, args)
}

// WhereMap adds one equality condition per key.
func (e *Eloquent) WhereMap(conditions bson.M) *Eloquent {
	for _, k := range sortedKeys(conditions) {
		e.addCondition(k, conditions[k], false)
	}
	return e
}

func (e *Eloquent) WhereIn(field string, values interface{}) *Eloquent {
	return e.addCondition(field, bson.M{"$in": toInterfaceSlice(values)}, false)
}

func (e *Eloquent) OrWhereIn(field string, values interface{}) *Eloquent {
	return e.addCondition(field, bson.M{"$in": toInterfaceSlice(values)}, true)
}

func (e *Eloquent) WhereNotIn(field string, values interface{}) *Eloquent {
	return e.addCondition(field, bson.M{"$nin": toInterfaceSlice(values)}, false)
}

func (e *Eloquent) OrWhereNotIn(field string, values interface{}) *Eloquent {
	return e.addCondition(field, bson.M{"$nin": toInterfaceSlice(values)}, true)
}

func betweenExpr(field string, bounds interface{}) (bson.M, error) {
	list := toInterfaceSlice(bounds)
	switch len(list) {
	case 1:
		return bson.M{"$gte": list[0]}, nil
	case 2:
		return bson.M{"$gte": list[0], "$lte": list[1]}, nil
	}
	return nil, invalidArgument("between on %s needs one or two bounds, got %d", field, len(list))
}

// WhereBetween is inclusive on both ends. A single bound means [min, +inf).
func (e *Eloquent) WhereBetween(field string, bounds interface{}) *Eloquent {
	expr, err := betweenExpr(field, bounds)
	if err != nil {
		return e.fail(err)
	}
	return e.addCondition(field, expr, false)
}

func (e *Eloquent) OrWhereBetween(field string, bounds interface{}) *Eloquent {
	expr, err := betweenExpr(field, bounds)
	if err != nil {
		return e.fail(err)
	}
	return e.addCondition(field, expr, true)
}

// WhereNull matches null or missing fields.
func (e *Eloquent) WhereNull(field string) *Eloquent {
	return e.addCondition(field, nil, false)
}

func (e *Eloquent) OrWhereNull(field string) *Eloquent {
	return e.addCondition(field, nil, true)
}

func (e *Eloquent) WhereNotNull(field string) *Eloquent {
	return e.addCondition(field, bson.M{"$ne": nil}, false)
}

func (e *Eloquent) OrWhereNotNull(field string) *Eloquent {
	return e.addCondition(field, bson.M{"$ne": nil}, true)
}

// WhereDate matches any instant on the calendar day of day, in day's location.
func (e *Eloquent) WhereDate(field string, day time.Time) *Eloquent {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return e.addCondition(field, bson.M{"$gte": start, "$lt": start.AddDate(0, 0, 1)}, false)
}

func (e *Eloquent) nested(or bool, fn func(q *Eloquent)) *Eloquent {
	sub := newEloquent(e.service)
	fn(sub)
	if sub.err != nil {
		return e.fail(sub.err)
	}
	if sub.conditions.empty() {
		return e
	}
	tree := sub.conditions
	e.conditions.add(condition{nested: &tree}, or)
	return e
}

// WhereNested groups the conditions added by fn into one AND clause.
func (e *Eloquent) WhereNested(fn func(q *Eloquent)) *Eloquent {
	return e.nested(false, fn)
}

func (e *Eloquent) OrWhereNested(fn func(q *Eloquent)) *Eloquent {
	return e.nested(true, fn)
}

// When applies fn only if cond holds.
func (e *Eloquent) When(cond bool, fn func(q *Eloquent)) *Eloquent {
	if cond {
		fn(e)
	}
	return e
}

// Scope applies a reusable set of constraints.
func (e *Eloquent) Scope(scopes ...func(q *Eloquent)) *Eloquent {
	for _, s := range scopes {
		s(e)
	}
	return e
}

func (e *Eloquent) WithTrashed() *Eloquent {
	e.trashed = withTrashed
	return e
}

func (e *Eloquent) OnlyTrashed() *Eloquent {
	e.trashed = onlyTrashed
	return e
}

func (e *Eloquent) WithoutTrashed() *Eloquent {
	e.trashed = withoutTrashed
	return e
}

// Select keeps only fields. It replaces any earlier Select or Exclude.
func (e *Eloquent) Select(fields ...string) *Eloquent {
	e.projection = projection{fields: append([]string(nil), fields...)}
	return e
}

// Exclude drops fields. It replaces any earlier Select or Exclude.
func (e *Eloquent) Exclude(fields ...string) *Eloquent {
	e.projection = projection{exclude: true, fields: append([]string(nil), fields...)}
	return e
}

func (e *Eloquent) orderBy(field string, insensitive bool, direction []string) *Eloquent {
	dir := 1
	if len(direction) > 0 {
		switch strings.ToLower(direction[0]) {
		case "asc", "":
		case "desc":
			dir = -1
		default:
			return e.fail(invalidArgument("sort direction must be asc or desc, got %q", direction[0]))
		}
	}
	if field == "" {
		return e.fail(invalidArgument("empty sort field"))
	}
	e.orders = append(e.orders, order{field: field, direction: dir, insensitive: insensitive})
	return e
}

// OrderBy sorts ascending unless direction is "desc".
func (e *Eloquent) OrderBy(field string, direction ...string) *Eloquent {
	return e.orderBy(field, false, direction)
}

func (e *Eloquent) OrderByDesc(field string) *Eloquent {
	return e.orderBy(field, false, []string{"desc"})
}

// OrderByCaseInsensitive sorts on the lower-cased value of field.
func (e *Eloquent) OrderByCaseInsensitive(field string, direction ...string) *Eloquent {
	return e.orderBy(field, true, direction)
}

// Latest orders newest first by field, or by the creation timestamp.
func (e *Eloquent) Latest(field ...string) *Eloquent {
	f := e.service.schema.CreatedAtField
	if len(field) > 0 {
		f = field[0]
	}
	return e.OrderByDesc(f)
}

func (e *Eloquent) Oldest(field ...string) *Eloquent {
	f := e.service.schema.CreatedAtField
	if len(field) > 0 {
		f = field[0]
	}
	return e.OrderBy(f)
}

// GroupBy keeps the first document of every distinct combination of fields.
func (e *Eloquent) GroupBy(fields ...string) *Eloquent {
	e.groupBy = append(e.groupBy, fields...)
	return e
}

func (e *Eloquent) Skip(n int64) *Eloquent {
	if n < 0 {
		return e.fail(invalidArgument("skip must not be negative, got %d", n))
	}
	e.skip = &n
	return e
}

func (e *Eloquent) Offset(n int64) *Eloquent {
	return e.Skip(n)
}

func (e *Eloquent) Limit(n int64) *Eloquent {
	if n < 0 {
		return e.fail(invalidArgument("limit must not be negative, got %d", n))
	}
	e.limit = &n
	return e
}

func (e *Eloquent) Take(n int64) *Eloquent {
	return e.Limit(n)
}

// ForPage sets skip and limit for a 1-based page.
func (e *Eloquent) ForPage(page, perPage int64) *Eloquent {
	if page < 1 || perPage < 1 {
		return e.fail(invalidArgument("page and per-page must be positive, got %d and %d", page, perPage))
	}
	return e.Skip((page - 1) * perPage).Limit(perPage)
}

// Cache stores results of the next terminals for ttl. Zero disables caching.
func (e *Eloquent) Cache(ttl time.Duration) *Eloquent {
	e.cacheTTL = ttl
	return e
}

// Pipeline compiles the builder without running deferred constraints.
func (e *Eloquent) Pipeline() ([]bson.M, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.compile(), nil
}

// Filter is the $match document the builder would send.
func (e *Eloquent) Filter() bson.M {
	return e.matchFilter()
}

// consume resets the per-terminal flags after a successful terminal.
func (e *Eloquent) consume() {
	e.trashed = withoutTrashed
	e.eager = nil
	e.counts = nil
	e.joins = nil
}

func sortedKeys(m bson.M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
