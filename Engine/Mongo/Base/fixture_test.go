package base_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap/zaptest"

	"github.com/venomous-maker/mongo-eloquent/Engine/Memory"
	"github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	manager   *base.Manager
	users     *base.EloquentService
	posts     *base.EloquentService
	comments  *base.EloquentService
	countries *base.EloquentService
	roles     *base.EloquentService
	images    *base.EloquentService
	tags      *base.EloquentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	m := base.NewManager(st, base.WithLogger(zaptest.NewLogger(t)))
	f := &fixture{ctx: context.Background(), store: st, manager: m}

	f.users = m.Register(base.Schema{
		Name:        "User",
		SoftDeletes: true,
		Timestamps:  true,
		Relations: map[string]base.RelationFunc{
			"posts":    func(u *base.Model) *base.Relation { return u.HasMany("Post", "", "") },
			"post":     func(u *base.Model) *base.Relation { return u.HasOne("Post", "", "") },
			"country":  func(u *base.Model) *base.Relation { return u.BelongsTo("Country", "", "") },
			"roles":    func(u *base.Model) *base.Relation { return u.BelongsToMany("Role", "", "", "").WithPivot("level") },
			"image":    func(u *base.Model) *base.Relation { return u.MorphOne("Image", "imageable") },
			"comments": func(u *base.Model) *base.Relation { return u.HasManyThrough("Comment", "Post", "", "", "", "") },
		},
	})
	f.posts = m.Register(base.Schema{
		Name:        "Post",
		SoftDeletes: true,
		Timestamps:  true,
		Relations: map[string]base.RelationFunc{
			"author":   func(p *base.Model) *base.Relation { return p.BelongsTo("User", "user_id", "") },
			"comments": func(p *base.Model) *base.Relation { return p.HasMany("Comment", "", "") },
			"tags":     func(p *base.Model) *base.Relation { return p.MorphToMany("Tag", "taggable", "") },
			"images":   func(p *base.Model) *base.Relation { return p.MorphMany("Image", "imageable") },
		},
	})
	f.comments = m.Register(base.Schema{
		Name: "Comment",
		Relations: map[string]base.RelationFunc{
			"post": func(c *base.Model) *base.Relation { return c.BelongsTo("Post", "", "") },
			"author": func(c *base.Model) *base.Relation {
				return c.HasOneThrough("User", "Post", "_id", "_id", "post_id", "user_id")
			},
		},
	})
	f.countries = m.Register(base.Schema{
		Name: "Country",
		Relations: map[string]base.RelationFunc{
			"posts": func(c *base.Model) *base.Relation { return c.HasManyThrough("Post", "User", "", "", "", "") },
		},
	})
	f.roles = m.Register(base.Schema{
		Name: "Role",
		Relations: map[string]base.RelationFunc{
			"users": func(r *base.Model) *base.Relation { return r.BelongsToMany("User", "", "", "") },
		},
	})
	f.images = m.Register(base.Schema{
		Name:        "Image",
		SoftDeletes: true,
		Relations: map[string]base.RelationFunc{
			"imageable": func(i *base.Model) *base.Relation { return i.MorphTo("imageable") },
		},
	})
	f.tags = m.Register(base.Schema{
		Name: "Tag",
		Relations: map[string]base.RelationFunc{
			"posts": func(tg *base.Model) *base.Relation { return tg.MorphedByMany("Post", "taggable", "") },
		},
	})
	return f
}

func (f *fixture) create(t *testing.T, svc *base.EloquentService, attrs bson.M) *base.Model {
	t.Helper()
	m, err := svc.Create(f.ctx, attrs)
	require.NoError(t, err)
	return m
}

func names(models []*base.Model) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i], _ = m.Get("name").(string)
	}
	return out
}
