package base

import (
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Change is the before/after pair reported for a dirty attribute.
type Change struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Mapper is implemented by anything that can be flattened into a document.
type Mapper interface {
	ToMap() bson.M
}

// Entity is a tracked attribute map. The original snapshot is captured at load
// time and replaced by SyncOriginal after every successful write; dirtiness is
// always computed by comparing the two.
//
// Eager-loaded relations live beside the attributes, so they are never
// persisted and never make the entity dirty.
type Entity struct {
	attributes bson.M
	original   bson.M
	relations  map[string]interface{}
}

// NewEntity builds an entity that has never been stored: every attribute is dirty.
func NewEntity(attributes bson.M) *Entity {
	e := &Entity{attributes: bson.M{}, original: bson.M{}}
	e.Fill(attributes)
	return e
}

// Hydrate builds a clean entity from a stored document.
func Hydrate(doc bson.M) *Entity {
	attrs := cloneMap(doc)
	return &Entity{attributes: attrs, original: cloneMap(attrs)}
}

func (e *Entity) Get(key string) interface{} {
	return e.attributes[key]
}

// Has reports whether key is present, even when its value is nil.
func (e *Entity) Has(key string) bool {
	_, ok := e.attributes[key]
	return ok
}

// Set assigns one attribute.
func (e *Entity) Set(key string, value interface{}) *Entity {
	e.attributes[key] = value
	return e
}

// Unset removes an attribute; a stored field removed this way is dirty.
func (e *Entity) Unset(key string) *Entity {
	delete(e.attributes, key)
	return e
}

// Fill merges attrs into the entity without touching the original snapshot.
func (e *Entity) Fill(attrs bson.M) *Entity {
	for k, v := range attrs {
		e.Set(k, v)
	}
	return e
}

// GetOriginal returns the value the attribute had when last loaded or saved.
func (e *Entity) GetOriginal(key string) interface{} {
	return e.original[key]
}

// IsDirty reports whether any of fields changed; with no fields, whether anything changed.
func (e *Entity) IsDirty(fields ...string) bool {
	dirty := e.dirtyKeys()
	if len(fields) == 0 {
		return len(dirty) > 0
	}
	for _, f := range fields {
		if _, ok := dirty[f]; ok {
			return true
		}
	}
	return false
}

func (e *Entity) IsClean(fields ...string) bool {
	return !e.IsDirty(fields...)
}

// GetDirty returns the current value of every dirty attribute. Removed
// attributes are not included; see GetRemoved.
func (e *Entity) GetDirty() bson.M {
	out := bson.M{}
	for k := range e.dirtyKeys() {
		if v, ok := e.attributes[k]; ok {
			out[k] = v
		}
	}
	return out
}

// GetRemoved lists stored attributes that were unset since the last sync.
func (e *Entity) GetRemoved() []string {
	var out []string
	for k := range e.original {
		if _, ok := e.attributes[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// GetChanges returns old/new pairs for dirty attributes only.
func (e *Entity) GetChanges() map[string]Change {
	out := map[string]Change{}
	for k := range e.dirtyKeys() {
		out[k] = Change{Old: e.original[k], New: e.attributes[k]}
	}
	return out
}

// SyncOriginal makes the current attributes the new clean baseline.
func (e *Entity) SyncOriginal() {
	e.original = cloneMap(e.attributes)
}

// SyncOriginalFields rebaselines only the named attributes.
func (e *Entity) SyncOriginalFields(fields ...string) {
	for _, f := range fields {
		if v, ok := e.attributes[f]; ok {
			e.original[f] = cloneValue(v)
		} else {
			delete(e.original, f)
		}
	}
}

// Clone copies attributes and the original snapshot. Loaded relations are
// shared, not copied.
func (e *Entity) Clone() *Entity {
	out := &Entity{attributes: cloneMap(e.attributes), original: cloneMap(e.original)}
	for name, rel := range e.relations {
		out.SetRelation(name, rel)
	}
	return out
}

// Attributes returns a copy of the attribute map.
func (e *Entity) Attributes() bson.M {
	return cloneMap(e.attributes)
}

func (e *Entity) SetRelation(name string, value interface{}) {
	if e.relations == nil {
		e.relations = map[string]interface{}{}
	}
	e.relations[name] = value
}

func (e *Entity) GetRelation(name string) (interface{}, bool) {
	v, ok := e.relations[name]
	return v, ok
}

func (e *Entity) UnsetRelation(name string) {
	delete(e.relations, name)
}

// RelationNames lists loaded relations in name order.
func (e *Entity) RelationNames() []string {
	names := make([]string, 0, len(e.relations))
	for k := range e.relations {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ToMap flattens attributes plus loaded relations.
func (e *Entity) ToMap() bson.M {
	out := cloneMap(e.attributes)
	for name, rel := range e.relations {
		out[name] = relationValue(rel)
	}
	return out
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// Decode copies the attributes (and loaded relations) into out, matching bson tags.
func (e *Entity) Decode(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "bson",
		Squash:  true,
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]interface{}(e.ToMap()))
}

func (e *Entity) dirtyKeys() map[string]struct{} {
	dirty := map[string]struct{}{}
	for k, v := range e.attributes {
		orig, ok := e.original[k]
		if !ok || !ValuesEqual(orig, v) {
			dirty[k] = struct{}{}
		}
	}
	for k := range e.original {
		if _, ok := e.attributes[k]; !ok {
			dirty[k] = struct{}{}
		}
	}
	return dirty
}

func relationValue(rel interface{}) interface{} {
	switch v := rel.(type) {
	case nil:
		return nil
	case Mapper:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil
		}
		return v.ToMap()
	}
	rv := reflect.ValueOf(rel)
	if rv.Kind() != reflect.Slice {
		return rel
	}
	out := make([]interface{}, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, relationValue(rv.Index(i).Interface()))
	}
	return out
}

// ValuesEqual compares two attribute values structurally. Numbers compare by
// value regardless of their Go width, since the store may widen or narrow them.
func ValuesEqual(a, b interface{}) bool {
	if fa, ok := AsFloat(a); ok {
		if fb, ok := AsFloat(b); ok {
			return fa == fb
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// AsFloat widens any Go or bson numeric value.
func AsFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func cloneMap(m bson.M) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return cloneMap(t)
	case map[string]interface{}:
		return map[string]interface{}(cloneMap(t))
	case bson.A:
		out := make(bson.A, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	}
	return v
}
