package base_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/venomous-maker/mongo-eloquent/Models/Base"
)

func TestHydratedEntityStartsClean(t *testing.T) {
	e := base.Hydrate(bson.M{"name": "ada", "age": int32(36)})
	assert.True(t, e.IsClean())
	assert.False(t, e.IsDirty("name"))

	e.Set("age", 36)
	assert.True(t, e.IsClean("age"), "numeric width changes are not changes")

	e.Set("name", "grace")
	assert.True(t, e.IsDirty())
	assert.True(t, e.IsDirty("name", "missing"))
	assert.True(t, e.IsClean("age"))
	assert.Equal(t, bson.M{"name": "grace"}, e.GetDirty())
	assert.Equal(t, map[string]base.Change{"name": {Old: "ada", New: "grace"}}, e.GetChanges())
}

func TestSetBackToOriginalIsClean(t *testing.T) {
	e := base.Hydrate(bson.M{"name": "ada"})
	e.Set("name", "grace")
	e.Set("name", "ada")
	assert.False(t, e.IsDirty())
}

func TestNewEntityIsFullyDirty(t *testing.T) {
	e := base.NewEntity(bson.M{"a": 1, "b": "x"})
	assert.True(t, e.IsDirty("a"))
	assert.True(t, e.IsDirty("b"))
	e.SyncOriginal()
	assert.False(t, e.IsDirty())
}

func TestUnsetMarksRemoved(t *testing.T) {
	e := base.Hydrate(bson.M{"a": 1, "b": 2})
	e.Unset("b")
	assert.True(t, e.IsDirty("b"))
	assert.Equal(t, []string{"b"}, e.GetRemoved())
	assert.Empty(t, e.GetDirty())
}

func TestOriginalIsASnapshot(t *testing.T) {
	doc := bson.M{"tags": bson.A{"a"}, "meta": bson.M{"k": "v"}}
	e := base.Hydrate(doc)
	doc["tags"].(bson.A)[0] = "mutated"
	assert.False(t, e.IsDirty(), "hydrate must deep copy the source document")

	e.Set("meta", bson.M{"k": "v2"})
	assert.Equal(t, bson.M{"k": "v"}, e.GetOriginal("meta"))
}

func TestRelationsStayOutOfAttributes(t *testing.T) {
	parent := base.Hydrate(bson.M{"name": "p"})
	child := base.Hydrate(bson.M{"name": "c"})
	parent.SetRelation("children", []*base.Entity{child})

	assert.False(t, parent.IsDirty())
	assert.NotContains(t, parent.Attributes(), "children")

	m := parent.ToMap()
	require.Contains(t, m, "children")
	assert.Equal(t, []interface{}{bson.M{"name": "c"}}, m["children"])

	raw, err := json.Marshal(parent)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"p","children":[{"name":"c"}]}`, string(raw))
}

type author struct {
	base.BaseModel `bson:",inline"`
	Name           string `bson:"name"`
	Age            int    `bson:"age"`
}

func TestDecodeIntoTypedStruct(t *testing.T) {
	id := primitive.NewObjectID()
	e := base.Hydrate(bson.M{"_id": id, "name": "ada", "age": int32(36), "is_deleted": true})

	var a author
	require.NoError(t, e.Decode(&a))
	assert.Equal(t, id, a.ID)
	assert.Equal(t, "ada", a.Name)
	assert.Equal(t, 36, a.Age)
	assert.True(t, a.Trashed())
}
