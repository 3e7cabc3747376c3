package base

import (
	"fmt"
	"reflect"

	BaseModels "github.com/venomous-maker/mongo-eloquent/Models/Base"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// toInterfaceSlice flattens any slice or array into []interface{}. A scalar
// becomes a single-element slice.
func toInterfaceSlice(values interface{}) []interface{} {
	switch v := values.(type) {
	case nil:
		return []interface{}{}
	case []interface{}:
		return v
	case bson.A:
		return []interface{}(v)
	case string, []byte, primitive.ObjectID:
		return []interface{}{v}
	}
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{values}
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// normalizeID turns a 24 character hex string into an ObjectID.
func normalizeID(id interface{}) interface{} {
	if s, ok := id.(string); ok && len(s) == 24 {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return id
}

// idKey gives equal ids the same map key, whatever their Go numeric width.
func idKey(v interface{}) string {
	if f, ok := BaseModels.AsFloat(v); ok {
		return fmt.Sprintf("n:%v", f)
	}
	if oid, ok := v.(primitive.ObjectID); ok {
		return "o:" + oid.Hex()
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// keyValues expands a key attribute that may itself hold an array of keys.
func keyValues(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case bson.A, []interface{}:
		return toInterfaceSlice(v)
	}
	return []interface{}{v}
}

// distinct keeps the first occurrence of every id.
func distinct(values []interface{}) []interface{} {
	seen := map[string]struct{}{}
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		k := idKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func mergeMaps(maps ...bson.M) bson.M {
	out := bson.M{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
