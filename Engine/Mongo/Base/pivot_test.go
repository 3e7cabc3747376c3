package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

func seedRoles(t *testing.T, f *fixture) (admin, editor, viewer *base.Model) {
	t.Helper()
	return f.create(t, f.roles, bson.M{"name": "admin"}),
		f.create(t, f.roles, bson.M{"name": "editor"}),
		f.create(t, f.roles, bson.M{"name": "viewer"})
}

func pivotRows(f *fixture, collection string) []bson.M {
	return f.store.Documents(collection)
}

func TestAttachInsertsDuplicates(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, _, _ := seedRoles(t, f)

	require.NoError(t, u.Relation("roles").Attach(f.ctx, admin.Key()))
	require.NoError(t, u.Relation("roles").Attach(f.ctx, admin.Key()))

	rows := pivotRows(f, "role_user")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, u.Key(), r["user_id"])
		assert.Equal(t, admin.Key(), r["role_id"])
	}

	roles, err := u.Relation("roles").Get(f.ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestAttachWithPivotAttributes(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, editor, _ := seedRoles(t, f)

	require.NoError(t, u.Relation("roles").Attach(f.ctx, []interface{}{admin.Key(), editor.Key()}, bson.M{"level": 3, "note": "x"}))

	roles, err := u.Relation("roles").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	pivot, ok := roles[0].GetRelation("pivot")
	require.True(t, ok)
	assert.Equal(t, bson.M{"user_id": u.Key(), "role_id": admin.Key(), "level": 3}, pivot)
	assert.False(t, roles[0].Has("pivot"))
}

func TestDetach(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, editor, viewer := seedRoles(t, f)
	rel := u.Relation("roles")
	require.NoError(t, rel.Attach(f.ctx, []interface{}{admin.Key(), editor.Key(), viewer.Key()}))

	n, err := rel.Detach(f.ctx, admin.Key())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = rel.Detach(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Empty(t, pivotRows(f, "role_user"))
}

func TestSyncVariants(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, editor, viewer := seedRoles(t, f)
	rel := u.Relation("roles")
	require.NoError(t, rel.Attach(f.ctx, []interface{}{admin.Key(), editor.Key()}))

	res, err := rel.Sync(f.ctx, []interface{}{editor.Key(), viewer.Key()})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{viewer.Key()}, res.Attached)
	assert.Equal(t, []interface{}{admin.Key()}, res.Detached)
	ids, err := rel.AttachedIDs(f.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{editor.Key(), viewer.Key()}, ids)

	res, err = rel.SyncWithoutDetaching(f.ctx, []interface{}{admin.Key(), editor.Key()})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{admin.Key()}, res.Attached)
	assert.Empty(t, res.Detached)
	assert.Len(t, pivotRows(f, "role_user"), 3)

	res, err = rel.SyncWithPivotValue(f.ctx, []interface{}{viewer.Key()}, bson.M{"level": 9})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{viewer.Key()}, res.Attached)
	rows := pivotRows(f, "role_user")
	require.Len(t, rows, 1)
	assert.Equal(t, viewer.Key(), rows[0]["role_id"])
	assert.Equal(t, 9, rows[0]["level"])
}

func TestToggle(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, editor, _ := seedRoles(t, f)
	rel := u.Relation("roles")
	require.NoError(t, rel.Attach(f.ctx, admin.Key()))

	res, err := rel.Toggle(f.ctx, []interface{}{admin.Key(), editor.Key()})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{editor.Key()}, res.Attached)
	assert.Equal(t, []interface{}{admin.Key()}, res.Detached)

	ids, _ := rel.AttachedIDs(f.ctx)
	assert.Equal(t, []interface{}{editor.Key()}, ids)
}

func TestUpdateExistingPivot(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	admin, editor, _ := seedRoles(t, f)
	rel := u.Relation("roles")
	require.NoError(t, rel.Attach(f.ctx, []interface{}{admin.Key(), editor.Key()}, bson.M{"level": 1}))

	n, err := rel.UpdateExistingPivot(f.ctx, editor.Key(), bson.M{"level": 5})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	roles, err := u.Relation("roles").Where("name", "editor").Get(f.ctx)
	require.NoError(t, err)
	pivot, _ := roles[0].GetRelation("pivot")
	assert.Equal(t, 5, pivot.(bson.M)["level"])
}

func TestPivotRequiresSavedParentAndPivotRelation(t *testing.T) {
	f := newFixture(t)
	unsaved := f.users.New(bson.M{"name": "x"})
	assert.True(t, base.IsInvalidArgument(unsaved.Relation("roles").Attach(f.ctx, "r")))

	u := f.create(t, f.users, bson.M{"name": "alice"})
	_, err := u.Relation("posts").Detach(f.ctx)
	assert.True(t, base.IsInvalidArgument(err))
}

func TestBelongsToManyCreateAttaches(t *testing.T) {
	f := newFixture(t)
	u := f.create(t, f.users, bson.M{"name": "alice"})
	role, err := u.Relation("roles").Create(f.ctx, bson.M{"name": "owner"})
	require.NoError(t, err)
	rows := pivotRows(f, "role_user")
	require.Len(t, rows, 1)
	assert.Equal(t, role.Key(), rows[0]["role_id"])
}

func TestEagerBelongsToManyCarriesPivotPerParent(t *testing.T) {
	f := newFixture(t)
	alice := f.create(t, f.users, bson.M{"name": "alice"})
	bob := f.create(t, f.users, bson.M{"name": "bob"})
	admin, _, _ := seedRoles(t, f)
	require.NoError(t, alice.Relation("roles").Attach(f.ctx, admin.Key(), bson.M{"level": 1}))
	require.NoError(t, bob.Relation("roles").Attach(f.ctx, admin.Key(), bson.M{"level": 2}))

	users, err := f.users.Query().With("roles").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	levels := map[string]interface{}{}
	for _, u := range users {
		roles := related(t, u, "roles").([]*base.Model)
		require.Len(t, roles, 1)
		pivot, _ := roles[0].GetRelation("pivot")
		levels[u.Get("name").(string)] = pivot.(bson.M)["level"]
	}
	assert.Equal(t, map[string]interface{}{"alice": 1, "bob": 2}, levels)
}

func TestPolymorphicPivots(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)
	golang := f.create(t, f.tags, bson.M{"name": "go"})
	mongo := f.create(t, f.tags, bson.M{"name": "mongo"})

	require.NoError(t, b.hello.Relation("tags").Attach(f.ctx, []interface{}{golang.Key(), mongo.Key()}))
	require.NoError(t, b.draft.Relation("tags").Attach(f.ctx, golang.Key()))

	rows := pivotRows(f, "taggables")
	require.Len(t, rows, 3)
	assert.Equal(t, "Post", rows[0]["taggable_type"])
	assert.Equal(t, b.hello.Key(), rows[0]["taggable_id"])
	assert.Equal(t, golang.Key(), rows[0]["tag_id"])

	tags, err := b.hello.Relation("tags").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "mongo"}, names(tags))

	posts, err := golang.Relation("posts").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "hello"}, names(posts))

	loaded, err := f.tags.Query().With("posts").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Len(t, related(t, loaded[0], "posts"), 2)
	assert.Len(t, related(t, loaded[1], "posts"), 1)
}

func TestPivotRelationsHonorRelatedSoftDeletes(t *testing.T) {
	f := newFixture(t)
	admin, _, _ := seedRoles(t, f)
	alice := f.create(t, f.users, bson.M{"name": "alice"})
	bob := f.create(t, f.users, bson.M{"name": "bob"})
	require.NoError(t, admin.Relation("users").Attach(f.ctx, []interface{}{alice.Key(), bob.Key()}))
	require.NoError(t, bob.Delete(f.ctx))

	lazy, err := admin.Relation("users").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names(lazy))

	role, err := f.roles.Query().With("users").Find(f.ctx, admin.Key())
	require.NoError(t, err)
	eager, ok := role.GetRelation("users")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, names(eager.([]*base.Model)))

	withTrashed, err := admin.Relation("users").WithTrashed().Get(f.ctx)
	require.NoError(t, err)
	assert.Len(t, withTrashed, 2)

	// morphed-by-many side: tags -> posts
	tag := f.create(t, f.tags, bson.M{"name": "go"})
	kept := f.create(t, f.posts, bson.M{"name": "kept"})
	gone := f.create(t, f.posts, bson.M{"name": "gone"})
	require.NoError(t, kept.Relation("tags").Attach(f.ctx, tag.Key()))
	require.NoError(t, gone.Relation("tags").Attach(f.ctx, tag.Key()))
	require.NoError(t, gone.Delete(f.ctx))

	posts, err := tag.Relation("posts").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, names(posts))

	loaded, err := f.tags.Query().With("posts").Find(f.ctx, tag.Key())
	require.NoError(t, err)
	eagerPosts, _ := loaded.GetRelation("posts")
	assert.Equal(t, []string{"kept"}, names(eagerPosts.([]*base.Model)))
}
