package base

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	BaseServices "github.com/venomous-maker/mongo-eloquent/Engine/Mongo/Base"
)

// BaseController exposes one model as a JSON resource.
type BaseController struct {
	Service     *BaseServices.EloquentService
	ExtraRoutes []ExtraRoute
}

func NewController(service *BaseServices.EloquentService) *BaseController {
	return &BaseController{Service: service}
}

func (bc *BaseController) logger() *zap.Logger {
	return bc.Service.Manager().Logger().With(zap.String("resource", bc.Service.Name()))
}

// fail maps err to a status code and writes the error body.
func (bc *BaseController) fail(c *gin.Context, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case BaseServices.IsNotFound(err):
		code = http.StatusNotFound
	case BaseServices.IsInvalidArgument(err), BaseServices.IsMultipleFound(err):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		bc.logger().Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": msg, "details": err.Error(), "status": "fail"})
}

// scoped returns a builder for ?status=active|deleted|all.
func (bc *BaseController) scoped(c *gin.Context) (*BaseServices.Eloquent, bool) {
	q := bc.Service.Query()
	switch c.DefaultQuery("status", "active") {
	case "active":
	case "deleted":
		q.OnlyTrashed()
	case "all":
		q.WithTrashed()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter: use active, deleted, or all", "status": "fail"})
		return nil, false
	}
	for _, name := range strings.Split(c.Query("with"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			q.With(name)
		}
	}
	return q, true
}

// Index handles GET /resource?status=active|deleted|all&page=1&limit=15&with=a,b
func (bc *BaseController) Index(c *gin.Context) {
	page, err := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number", "details": err.Error(), "status": "fail"})
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "15"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit number", "details": err.Error(), "status": "fail"})
		return
	}

	q, ok := bc.scoped(c)
	if !ok {
		return
	}
	schema := bc.Service.Schema()
	if schema.Timestamps {
		q.OrderByDesc(schema.CreatedAtField)
	} else {
		q.OrderBy(schema.PrimaryKey)
	}

	result, err := q.Paginate(c.Request.Context(), page, limit)
	if err != nil {
		bc.fail(c, "Failed to fetch records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result.Data, "meta": result.Meta, "status": "success"})
}

// Show handles GET /resource/:id
func (bc *BaseController) Show(c *gin.Context) {
	q, ok := bc.scoped(c)
	if !ok {
		return
	}
	record, err := q.FindOrFail(c.Request.Context(), c.Param("id"))
	if err != nil {
		bc.fail(c, "Record not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record, "status": "success"})
}

// Store handles POST /resource
func (bc *BaseController) Store(c *gin.Context) {
	var attrs bson.M
	if err := c.ShouldBindJSON(&attrs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload", "details": err.Error(), "status": "fail"})
		return
	}
	record, err := bc.Service.Create(c.Request.Context(), attrs)
	if err != nil {
		bc.fail(c, "Failed to create record", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": record, "status": "success"})
}

// Update handles PUT /resource/:id. Trashed records can be updated with ?status=deleted|all
// and stay trashed.
func (bc *BaseController) Update(c *gin.Context) {
	var attrs bson.M
	if err := c.ShouldBindJSON(&attrs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload", "details": err.Error(), "status": "fail"})
		return
	}
	delete(attrs, bc.Service.Schema().PrimaryKey)

	q, ok := bc.scoped(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	record, err := q.FindOrFail(ctx, c.Param("id"))
	if err != nil {
		bc.fail(c, "Record not found", err)
		return
	}
	if err := record.Fill(attrs).Save(ctx); err != nil {
		bc.fail(c, "Failed to update record", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record, "message": "Updated successfully", "status": "success"})
}

// Delete handles DELETE /resource/:id?force=true
func (bc *BaseController) Delete(c *gin.Context) {
	force := c.DefaultQuery("force", "false") == "true"
	ctx := c.Request.Context()

	q := bc.Service.Query()
	if force {
		q.WithTrashed()
	}
	record, err := q.FindOrFail(ctx, c.Param("id"))
	if err != nil {
		bc.fail(c, "Record not found", err)
		return
	}

	if force {
		err = record.ForceDelete(ctx)
	} else {
		err = record.Delete(ctx)
	}
	if err != nil {
		bc.fail(c, "Failed to delete record", err)
		return
	}

	msg := "Soft deleted successfully"
	if force || !bc.Service.Schema().SoftDeletes {
		msg = "Permanently deleted successfully"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "status": "success"})
}

// Restore handles PUT /resource/:id/restore
func (bc *BaseController) Restore(c *gin.Context) {
	ctx := c.Request.Context()
	record, err := bc.Service.OnlyTrashed().FindOrFail(ctx, c.Param("id"))
	if err != nil {
		bc.fail(c, "Record not found", err)
		return
	}
	if err := record.Restore(ctx); err != nil {
		bc.fail(c, "Failed to restore record", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record, "message": "Restored successfully", "status": "success"})
}
