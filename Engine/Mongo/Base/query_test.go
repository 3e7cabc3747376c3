package base_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

func stageNames(pipeline []bson.M) []string {
	var out []string
	for _, st := range pipeline {
		for k := range st {
			out = append(out, k)
		}
	}
	return out
}

func TestLookupOperator(t *testing.T) {
	cases := map[string]string{
		"=": "$eq", "!=": "$ne", ">": "$gt", "<": "$lt", ">=": "$gte", "<=": "$lte",
		"in": "$in", "notIn": "$nin", "like": "$regex", "<>": "$ne",
	}
	for symbol, want := range cases {
		got, ok := base.LookupOperator(symbol)
		require.True(t, ok, symbol)
		assert.Equal(t, want, got, symbol)
	}
	_, ok := base.LookupOperator("~=")
	assert.False(t, ok)
}

func TestDefaultScopeOnEmptyBuilder(t *testing.T) {
	f := newFixture(t)
	p, err := f.users.Query().Pipeline()
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"$match": bson.M{"is_deleted": false}}}, p)

	p, err = f.comments.Query().Pipeline()
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestTrashedModesLastCallWins(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, bson.M{"is_deleted": true}, f.users.Query().WithTrashed().OnlyTrashed().Filter())
	assert.Equal(t, bson.M{}, f.users.Query().OnlyTrashed().WithTrashed().Filter())
	assert.Equal(t, bson.M{"is_deleted": false}, f.users.Query().OnlyTrashed().WithoutTrashed().Filter())
}

func TestWhereChainsAreAnded(t *testing.T) {
	f := newFixture(t)
	filter := f.comments.Query().Where("a", 1).Where("b", ">", 2).Filter()
	assert.Equal(t, bson.M{"$and": []interface{}{
		bson.M{"a": 1},
		bson.M{"b": bson.M{"$gt": 2}},
	}}, filter)
}

func TestOrWhereOpensBranch(t *testing.T) {
	f := newFixture(t)
	filter := f.comments.Query().Where("a", 1).Where("b", 2).OrWhere("c", 3).Filter()
	assert.Equal(t, bson.M{"$or": []interface{}{
		bson.M{"$and": []interface{}{bson.M{"a": 1}, bson.M{"b": 2}}},
		bson.M{"c": 3},
	}}, filter)

	// an OrWhere on an empty builder behaves like Where
	assert.Equal(t, bson.M{"c": 3}, f.comments.Query().OrWhere("c", 3).Filter())
}

func TestScopeIsAndedWithOrTree(t *testing.T) {
	f := newFixture(t)
	filter := f.users.Query().Where("a", 1).OrWhere("b", 2).Filter()
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"$or": []interface{}{bson.M{"a": 1}, bson.M{"b": 2}}},
		bson.M{"is_deleted": false},
	}}, filter)
}

func TestWhereVariants(t *testing.T) {
	f := newFixture(t)
	q := func() *base.Eloquent { return f.comments.Query() }

	assert.Equal(t, bson.M{"x": bson.M{"$in": []interface{}{1, 2}}}, q().WhereIn("x", []int{1, 2}).Filter())
	assert.Equal(t, bson.M{"x": bson.M{"$nin": []interface{}{"a"}}}, q().WhereNotIn("x", []string{"a"}).Filter())
	assert.Equal(t, bson.M{"x": bson.M{"$gte": 1, "$lte": 5}}, q().WhereBetween("x", []int{1, 5}).Filter())
	assert.Equal(t, bson.M{"x": bson.M{"$gte": 1}}, q().WhereBetween("x", []int{1}).Filter())
	assert.Equal(t, bson.M{"x": nil}, q().WhereNull("x").Filter())
	assert.Equal(t, bson.M{"x": bson.M{"$ne": nil}}, q().WhereNotNull("x").Filter())
	assert.Equal(t, bson.M{"x": primitive.Regex{Pattern: "^.*@example\\.com$", Options: "i"}},
		q().Where("x", "like", "%@example.com").Filter())
	assert.Equal(t, bson.M{"x": primitive.Regex{Pattern: "^a.c$", Options: "i"}},
		q().Where("x", "like", "a_c").Filter())

	day := time.Date(2024, 3, 9, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, bson.M{"x": bson.M{
		"$gte": time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		"$lt":  time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}}, q().WhereDate("x", day).Filter())
}

func TestWhereNested(t *testing.T) {
	f := newFixture(t)
	filter := f.comments.Query().
		Where("a", 1).
		WhereNested(func(q *base.Eloquent) { q.Where("b", 2).OrWhere("c", 3) }).
		Filter()
	assert.Equal(t, bson.M{"$and": []interface{}{
		bson.M{"a": 1},
		bson.M{"$or": []interface{}{bson.M{"b": 2}, bson.M{"c": 3}}},
	}}, filter)
}

func TestInvalidArgumentsSurfaceAtTerminal(t *testing.T) {
	f := newFixture(t)
	cases := map[string]*base.Eloquent{
		"unknown operator":  f.users.Query().Where("age", "~=", 3),
		"missing value":     f.users.Query().Where("age"),
		"empty between":     f.users.Query().WhereBetween("age", []int{}),
		"bad direction":     f.users.Query().OrderBy("name", "sideways"),
		"negative limit":    f.users.Query().Limit(-1),
		"unknown relation":  f.users.Query().With("nope"),
		"unjoinable":        f.users.Query().Join("roles"),
		"nested first wins": f.users.Query().Where("a", "??", 1).Limit(-1),
	}
	for name, q := range cases {
		_, err := q.Get(f.ctx)
		require.Error(t, err, name)
		assert.True(t, base.IsInvalidArgument(err), name)
	}
	assert.Empty(t, f.store.Documents("users"))
}

func TestPipelineStageOrder(t *testing.T) {
	f := newFixture(t)
	p, err := f.users.Query().
		Where("age", ">", 18).
		Join("country").
		OrderByCaseInsensitive("name").
		OrderByDesc("age").
		GroupBy("country_id").
		Select("name", "age").
		Skip(5).
		Limit(10).
		Pipeline()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"$match", "$lookup", "$unwind", "$addFields", "$sort", "$unset",
		"$group", "$replaceRoot", "$project", "$skip", "$limit",
	}, stageNames(p))

	sort := p[4]["$sort"].(bson.D)
	assert.Equal(t, bson.D{{Key: "__sort_name", Value: 1}, {Key: "age", Value: -1}}, sort)
	assert.Equal(t, bson.M{"name": 1, "age": 1, "country": 1}, p[8]["$project"])
}

func TestProjectionLastCallWins(t *testing.T) {
	f := newFixture(t)
	p, err := f.comments.Query().Select("a").Exclude("b").Pipeline()
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"$project": bson.M{"b": 0}}}, p)

	p, err = f.comments.Query().Exclude("b").Select("a").Pipeline()
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"$project": bson.M{"a": 1}}}, p)
}

func TestCloneIsIndependent(t *testing.T) {
	f := newFixture(t)
	q := f.comments.Query().Where("a", 1)
	c := q.Clone().Where("b", 2).Limit(3)
	assert.Equal(t, bson.M{"a": 1}, q.Filter())
	p, _ := q.Pipeline()
	assert.Len(t, p, 1)
	assert.NotEqual(t, q.Filter(), c.Filter())
}
