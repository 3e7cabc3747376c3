package base

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// queryCache memoizes aggregate results. Keys include a per-collection
// generation that every write bumps, so a write makes all earlier entries
// for that collection unreachable.
type queryCache struct {
	items *cache.Cache

	mu          sync.Mutex
	generations map[string]uint64
}

func newQueryCache() *queryCache {
	return &queryCache{
		items:       cache.New(5*time.Minute, 10*time.Minute),
		generations: map[string]uint64{},
	}
}

type cacheKey struct {
	Collection string
	Generation uint64
	Joined     map[string]uint64
	Pipeline   interface{}
}

// key hashes pipeline together with the generation of collection and of
// every collection it joins, so a write to any of them misses the entry.
func (c *queryCache) key(collection string, pipeline []bson.M) (string, error) {
	joined := lookupCollections(pipeline)
	c.mu.Lock()
	gen := c.generations[collection]
	gens := make(map[string]uint64, len(joined))
	for _, from := range joined {
		gens[from] = c.generations[from]
	}
	c.mu.Unlock()
	h, err := hashstructure.Hash(cacheKey{
		Collection: collection,
		Generation: gen,
		Joined:     gens,
		Pipeline:   canonical(pipeline),
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%x", collection, gen, h), nil
}

func lookupCollections(pipeline []bson.M) []string {
	var out []string
	for _, stage := range pipeline {
		lookup, ok := stage["$lookup"].(bson.M)
		if !ok {
			continue
		}
		if from, ok := lookup["from"].(string); ok {
			out = append(out, from)
		}
	}
	return out
}

func (c *queryCache) get(key string) ([]bson.M, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	return cloneDocs(v.([]bson.M)), true
}

func (c *queryCache) set(key string, docs []bson.M, ttl time.Duration) {
	c.items.Set(key, cloneDocs(docs), ttl)
}

func (c *queryCache) invalidate(collection string) {
	c.mu.Lock()
	c.generations[collection]++
	c.mu.Unlock()
}

func (c *queryCache) flush() {
	c.items.Flush()
}

// canonical rewrites a pipeline into plain values hashstructure can order:
// maps hash independently of iteration order, while times and ObjectIDs
// become strings so their unexported fields are not ignored.
func canonical(v interface{}) interface{} {
	switch t := v.(type) {
	case []bson.M:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = canonical(t[i])
		}
		return out
	case bson.M:
		return canonicalMap(t)
	case map[string]interface{}:
		return canonicalMap(t)
	case bson.D:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = []interface{}{e.Key, canonical(e.Value)}
		}
		return out
	case bson.A:
		return canonical([]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = canonical(t[i])
		}
		return out
	case []string:
		s := append([]string(nil), t...)
		sort.Strings(s)
		return s
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return "o:" + t.Hex()
	case primitive.Regex:
		return "r:" + t.Pattern + "/" + t.Options
	case primitive.DateTime:
		return fmt.Sprintf("d:%d", int64(t))
	}
	return v
}

func canonicalMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = canonical(v)
	}
	return out
}

func cloneDocs(docs []bson.M) []bson.M {
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		out[i] = cloneDoc(d)
	}
	return out
}

func cloneDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return cloneDoc(t)
	case map[string]interface{}:
		return cloneDoc(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	}
	return v
}
