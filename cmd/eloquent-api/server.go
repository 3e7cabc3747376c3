package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	BaseControllers "github.com/venomous-maker/mongo-eloquent/Controllers/Base"
	"github.com/venomous-maker/mongo-eloquent/Engine/Instrument"
	BaseServices "github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
	"github.com/venomous-maker/mongo-eloquent/Engine/Store"
)

// registerModels declares the models served over HTTP.
func registerModels(m *BaseServices.Manager) []*BaseServices.EloquentService {
	users := m.Register(BaseServices.Schema{
		Name:        "User",
		SoftDeletes: true,
		Timestamps:  true,
		Guarded:     []string{"password"},
		Relations: map[string]BaseServices.RelationFunc{
			"posts": func(u *BaseServices.Model) *BaseServices.Relation { return u.HasMany("Post", "", "") },
			"roles": func(u *BaseServices.Model) *BaseServices.Relation {
				return u.BelongsToMany("Role", "", "", "").WithPivot("granted_by")
			},
		},
	})
	posts := m.Register(BaseServices.Schema{
		Name:        "Post",
		SoftDeletes: true,
		Timestamps:  true,
		Relations: map[string]BaseServices.RelationFunc{
			"author": func(p *BaseServices.Model) *BaseServices.Relation { return p.BelongsTo("User", "user_id", "") },
			"tags":   func(p *BaseServices.Model) *BaseServices.Relation { return p.MorphToMany("Tag", "taggable", "") },
		},
	})
	roles := m.Register(BaseServices.Schema{
		Name: "Role",
		Relations: map[string]BaseServices.RelationFunc{
			"users": func(r *BaseServices.Model) *BaseServices.Relation { return r.BelongsToMany("User", "", "", "") },
		},
	})
	tags := m.Register(BaseServices.Schema{
		Name: "Tag",
		Relations: map[string]BaseServices.RelationFunc{
			"posts": func(t *BaseServices.Model) *BaseServices.Relation { return t.MorphedByMany("Post", "taggable", "") },
		},
	})
	return []*BaseServices.EloquentService{users, posts, roles, tags}
}

// newServer builds the HTTP handler over st. Store calls are instrumented on reg,
// which is also what /metrics exposes.
func newServer(st store.Store, defaults BaseServices.SchemaDefaults, reg *prometheus.Registry, logger *zap.Logger) (*gin.Engine, *BaseServices.Manager) {
	wrapped := instrument.Wrap(st, instrument.NewMetrics(reg), logger)
	manager := BaseServices.NewManager(wrapped,
		BaseServices.WithLogger(logger),
		BaseServices.WithDefaults(defaults))

	router := BaseControllers.NewRouter(logger)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	api := router.Group("/api")
	for _, svc := range registerModels(manager) {
		BaseControllers.NewController(svc).RegisterRoutes(api)
	}
	return router, manager
}
