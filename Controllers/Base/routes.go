package base

import (
	"net/http"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExtraRoute is a route registered under a resource next to the CRUD set.
// Group and Children nest routes under a shared prefix and middleware.
type ExtraRoute struct {
	Method     string
	Path       string
	Handler    gin.HandlerFunc
	Middleware []gin.HandlerFunc
	Children   []ExtraRoute
	Group      string
}

// NewRouter returns a gin engine that logs requests and recovers panics through logger.
func NewRouter(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))
	return r
}

func (bc *BaseController) AddRoute(method, path string, handler gin.HandlerFunc, middleware ...gin.HandlerFunc) {
	bc.ExtraRoutes = append(bc.ExtraRoutes, ExtraRoute{
		Method:     strings.ToUpper(method),
		Path:       path,
		Handler:    handler,
		Middleware: middleware,
	})
}

// RegisterRoutes mounts the resource under its route prefix:
//   - GET    /{prefix}             Index
//   - GET    /{prefix}/:id         Show
//   - POST   /{prefix}             Store
//   - PUT    /{prefix}/:id         Update
//   - DELETE /{prefix}/:id         Delete (?force=true removes the document)
//   - PUT    /{prefix}/:id/restore Restore
//
// Extra routes are registered after the CRUD set, in order.
func (bc *BaseController) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group(bc.Service.GetRoutePrefix())

	group.GET("", bc.Index)
	group.GET("/:id", bc.Show)
	group.POST("", bc.Store)
	group.PUT("/:id", bc.Update)
	group.DELETE("/:id", bc.Delete)
	group.PUT("/:id/restore", bc.Restore)

	for _, route := range bc.ExtraRoutes {
		bc.RegisterRouteRecursive(group, route)
	}
}

// RegisterRouteRecursive registers route and its children on group.
func (bc *BaseController) RegisterRouteRecursive(group *gin.RouterGroup, route ExtraRoute) {
	subGroup := group
	if route.Group != "" {
		subGroup = group.Group(route.Group, route.Middleware...)
	} else if len(route.Middleware) > 0 {
		subGroup = group.Group("", route.Middleware...)
	}

	if route.Method != "" && route.Handler != nil {
		// middleware already sits on subGroup
		switch route.Method {
		case http.MethodGet:
			subGroup.GET(route.Path, route.Handler)
		case http.MethodPost:
			subGroup.POST(route.Path, route.Handler)
		case http.MethodPut:
			subGroup.PUT(route.Path, route.Handler)
		case http.MethodDelete:
			subGroup.DELETE(route.Path, route.Handler)
		case http.MethodPatch:
			subGroup.PATCH(route.Path, route.Handler)
		case http.MethodHead:
			subGroup.HEAD(route.Path, route.Handler)
		case http.MethodOptions:
			subGroup.OPTIONS(route.Path, route.Handler)
		}
	}

	for _, child := range route.Children {
		bc.RegisterRouteRecursive(subGroup, child)
	}
}
