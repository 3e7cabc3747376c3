package base_test

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/venomous-maker/mongo-eloquent/Models/Base"
)

func TestDecodeIntoBaseModel(t *testing.T) {
	id := primitive.NewObjectID()
	created := time.Now().Add(-time.Hour)
	deleted := time.Now()
	e := base.Hydrate(bson.M{
		"_id":        id,
		"created_at": created,
		"updated_at": created,
		"deleted_at": deleted,
		"is_deleted": true,
	})

	var b base.BaseModel
	if err := e.Decode(&b); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if b.ID != id {
		t.Fatalf("expected id %s, got %s", id.Hex(), b.ID.Hex())
	}
	if !b.CreatedAt.Equal(created) || !b.UpdatedAt.Equal(created) {
		t.Fatalf("timestamps not decoded: %+v", b)
	}
	if !b.Trashed() || b.DeletedAt == nil || !b.DeletedAt.Equal(deleted) {
		t.Fatalf("soft-delete marker not decoded: %+v", b)
	}
}

func TestDecodeLiveBaseModel(t *testing.T) {
	var b base.BaseModel
	if err := base.Hydrate(bson.M{"is_deleted": false}).Decode(&b); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if b.Trashed() || b.DeletedAt != nil || !b.ID.IsZero() {
		t.Fatalf("expected a live zero model, got %+v", b)
	}
}
