package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

type blog struct {
	nl      *base.Model
	alice   *base.Model
	bob     *base.Model
	hello   *base.Model
	draft   *base.Model
	bobPost *base.Model
}

func seedBlog(t *testing.T, f *fixture) blog {
	t.Helper()
	var b blog
	b.nl = f.create(t, f.countries, bson.M{"name": "NL"})
	b.alice = f.create(t, f.users, bson.M{"name": "alice", "country_id": b.nl.Key()})
	b.bob = f.create(t, f.users, bson.M{"name": "bob", "country_id": b.nl.Key()})
	b.hello = f.create(t, f.posts, bson.M{"name": "hello", "user_id": b.alice.Key()})
	b.draft = f.create(t, f.posts, bson.M{"name": "draft", "user_id": b.alice.Key()})
	b.bobPost = f.create(t, f.posts, bson.M{"name": "bob's", "user_id": b.bob.Key()})
	f.create(t, f.comments, bson.M{"name": "c1", "post_id": b.hello.Key()})
	f.create(t, f.comments, bson.M{"name": "c2", "post_id": b.hello.Key()})
	f.create(t, f.comments, bson.M{"name": "c3", "post_id": b.bobPost.Key()})
	return b
}

func TestHasManyImmediateFetch(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)

	posts, err := b.alice.Relation("posts").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "hello"}, names(posts))

	n, err := b.alice.Relation("posts").Count(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, b.draft.Delete(f.ctx))
	posts, err = b.alice.Relation("posts").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, names(posts))

	posts, err = b.alice.Relation("posts").WithTrashed().Get(f.ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestBelongsToAndHasOne(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)

	author, err := b.hello.Relation("author").GetResults(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", author.(*base.Model).Get("name"))

	post, err := b.bob.Relation("post").First(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob's", post.Get("name"))
}

func TestRelationCreateSetsKeys(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)

	p, err := b.bob.Relation("posts").Create(f.ctx, bson.M{"name": "new"})
	require.NoError(t, err)
	assert.Equal(t, b.bob.Key(), p.Get("user_id"))

	img, err := p.Relation("images").Create(f.ctx, bson.M{"name": "cover"})
	require.NoError(t, err)
	assert.Equal(t, p.Key(), img.Get("imageable_id"))
	assert.Equal(t, "Post", img.Get("imageable_type"))
}

func TestThroughRelations(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)

	posts, err := b.nl.Relation("posts").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob's", "draft", "hello"}, names(posts))

	comments, err := b.alice.Relation("comments").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, names(comments))

	c3, err := f.comments.Query().Where("name", "c3").First(f.ctx)
	require.NoError(t, err)
	author, err := c3.Relation("author").GetResults(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", author.(*base.Model).Get("name"))

	// trashed intermediate rows are not followed
	require.NoError(t, b.bob.Delete(f.ctx))
	posts, err = b.nl.Relation("posts").Get(f.ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestMorphRelations(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)
	avatar, err := b.alice.Relation("image").Create(f.ctx, bson.M{"name": "avatar"})
	require.NoError(t, err)

	got, err := b.alice.Relation("image").First(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, avatar.Key(), got.Key())

	owner, err := avatar.Relation("imageable").GetResults(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, b.alice.Key(), owner.(*base.Model).Key())

	// a user and a post with the same key must not share images
	none, err := b.hello.Relation("images").Get(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAssociateAndDissociate(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)

	rel := b.hello.Relation("author")
	_, err := rel.Associate(b.bob)
	require.NoError(t, err)
	assert.Equal(t, b.bob.Key(), b.hello.Get("user_id"))
	assert.True(t, b.hello.IsDirty("user_id"))
	stored, _ := f.posts.Find(f.ctx, b.hello.Key())
	assert.Equal(t, b.alice.Key(), stored.Get("user_id"))

	require.NoError(t, b.hello.Save(f.ctx))
	stored, _ = f.posts.Find(f.ctx, b.hello.Key())
	assert.Equal(t, b.bob.Key(), stored.Get("user_id"))

	_, err = b.hello.Relation("author").Dissociate()
	require.NoError(t, err)
	assert.Nil(t, b.hello.Get("user_id"))

	_, err = b.alice.Relation("posts").Associate(b.hello)
	assert.True(t, base.IsInvalidArgument(err))
}

func TestUnknownRelation(t *testing.T) {
	f := newFixture(t)
	b := seedBlog(t, f)
	_, err := b.alice.Relation("friends").Get(f.ctx)
	assert.True(t, base.IsInvalidArgument(err))
}

func TestJoinEmbedsRelation(t *testing.T) {
	f := newFixture(t)
	seedBlog(t, f)

	users, err := f.users.Query().Join("posts").OrderBy("name").Get(f.ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.False(t, users[0].Has("posts"))
	rel, ok := users[0].GetRelation("posts")
	require.True(t, ok)
	assert.Len(t, rel, 2)

	posts, err := f.posts.Query().Join("author").Where("name", "hello").Get(f.ctx)
	require.NoError(t, err)
	author, _ := posts[0].GetRelation("author")
	assert.Equal(t, "alice", author.(*base.Model).Get("name"))
	assert.True(t, posts[0].IsClean())
}
