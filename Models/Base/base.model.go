package base

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BaseModel is the typed counterpart of the default document shape. Embed it in
// application structs and fill it with Entity.Decode.
type BaseModel struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
	DeletedAt *time.Time         `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	IsDeleted bool               `json:"is_deleted" bson:"is_deleted"`
}

// Trashed reports whether the soft-delete marker is set.
func (b *BaseModel) Trashed() bool {
	return b.IsDeleted
}
