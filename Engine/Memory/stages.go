package memory

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

func (s *Store) applyStage(op string, arg interface{}, docs []bson.M) ([]bson.M, error) {
	switch op {
	case "$match":
		filter, ok := asMap(arg)
		if !ok {
			return nil, fmt.Errorf("memory: $match expects a document")
		}
		out := docs[:0:0]
		for _, d := range docs {
			hit, err := matches(d, filter)
			if err != nil {
				return nil, err
			}
			if hit {
				out = append(out, d)
			}
		}
		return out, nil
	case "$sort":
		return sortStage(arg, docs)
	case "$skip":
		n, ok := toFloat(arg)
		if !ok {
			return nil, fmt.Errorf("memory: $skip expects a number")
		}
		if int(n) >= len(docs) {
			return []bson.M{}, nil
		}
		return docs[int(n):], nil
	case "$limit":
		n, ok := toFloat(arg)
		if !ok {
			return nil, fmt.Errorf("memory: $limit expects a number")
		}
		if int(n) < len(docs) {
			return docs[:int(n)], nil
		}
		return docs, nil
	case "$project":
		return projectStage(arg, docs)
	case "$addFields", "$set":
		fields, ok := asMap(arg)
		if !ok {
			return nil, fmt.Errorf("memory: %s expects a document", op)
		}
		for _, d := range docs {
			for k, expr := range fields {
				v, err := evalExpr(d, expr)
				if err != nil {
					return nil, err
				}
				d[k] = v
			}
		}
		return docs, nil
	case "$unset":
		var names []interface{}
		if list, ok := asList(arg); ok {
			names = list
		} else {
			names = []interface{}{arg}
		}
		for _, d := range docs {
			for _, n := range names {
				delete(d, fmt.Sprint(n))
			}
		}
		return docs, nil
	case "$group":
		return groupStage(arg, docs)
	case "$replaceRoot":
		spec, ok := asMap(arg)
		if !ok {
			return nil, fmt.Errorf("memory: $replaceRoot expects a document")
		}
		out := make([]bson.M, 0, len(docs))
		for _, d := range docs {
			v, err := evalExpr(d, spec["newRoot"])
			if err != nil {
				return nil, err
			}
			root, ok := asMap(v)
			if !ok {
				return nil, fmt.Errorf("memory: newRoot must resolve to a document")
			}
			out = append(out, root)
		}
		return out, nil
	case "$count":
		name, _ := arg.(string)
		if len(docs) == 0 {
			return []bson.M{}, nil
		}
		return []bson.M{{name: int32(len(docs))}}, nil
	case "$sample":
		spec, _ := asMap(arg)
		n, ok := toFloat(spec["size"])
		if !ok {
			return nil, fmt.Errorf("memory: $sample expects {size: n}")
		}
		shuffled := append([]bson.M(nil), docs...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if int(n) < len(shuffled) {
			shuffled = shuffled[:int(n)]
		}
		return shuffled, nil
	case "$lookup":
		return s.lookupStage(arg, docs)
	case "$unwind":
		return unwindStage(arg, docs)
	}
	return nil, fmt.Errorf("memory: unsupported stage %s", op)
}

func sortStage(arg interface{}, docs []bson.M) ([]bson.M, error) {
	var keys bson.D
	switch spec := arg.(type) {
	case bson.D:
		keys = spec
	case bson.M:
		if len(spec) > 1 {
			return nil, fmt.Errorf("memory: multi-key $sort needs an ordered bson.D")
		}
		for k, v := range spec {
			keys = append(keys, bson.E{Key: k, Value: v})
		}
	default:
		return nil, fmt.Errorf("memory: $sort expects a document")
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dir, _ := toFloat(k.Value)
			a, _ := lookupPath(docs[i], k.Key)
			b, _ := lookupPath(docs[j], k.Key)
			c := sortCompare(a, b)
			if c == 0 {
				continue
			}
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return docs, nil
}

func projectStage(arg interface{}, docs []bson.M) ([]bson.M, error) {
	spec, ok := asMap(arg)
	if !ok {
		return nil, fmt.Errorf("memory: $project expects a document")
	}
	include := false
	for k, v := range spec {
		if k != "_id" && truthy(v) {
			include = true
		}
	}
	if v, ok := spec["_id"]; ok && len(spec) == 1 && truthy(v) {
		include = true
	}
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		if include {
			p := bson.M{}
			if v, ok := spec["_id"]; !ok || truthy(v) {
				if id, ok := d["_id"]; ok {
					p["_id"] = id
				}
			}
			for k, v := range spec {
				if k == "_id" || !truthy(v) {
					continue
				}
				if val, ok := d[k]; ok {
					p[k] = val
				}
			}
			out = append(out, p)
			continue
		}
		for k := range spec {
			delete(d, k)
		}
		out = append(out, d)
	}
	return out, nil
}

func truthy(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	f, ok := toFloat(v)
	return ok && f != 0
}

type group struct {
	id   interface{}
	docs []bson.M
}

func groupStage(arg interface{}, docs []bson.M) ([]bson.M, error) {
	spec, ok := asMap(arg)
	if !ok {
		return nil, fmt.Errorf("memory: $group expects a document")
	}
	idExpr := spec["_id"]
	index := map[string]*group{}
	var order []*group
	for _, d := range docs {
		id, err := evalExpr(d, idExpr)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%#v", id)
		g, ok := index[key]
		if !ok {
			g = &group{id: id}
			index[key] = g
			order = append(order, g)
		}
		g.docs = append(g.docs, d)
	}

	out := make([]bson.M, 0, len(order))
	for _, g := range order {
		row := bson.M{"_id": g.id}
		for field, acc := range spec {
			if field == "_id" {
				continue
			}
			accSpec, ok := asMap(acc)
			if !ok || len(accSpec) != 1 {
				return nil, fmt.Errorf("memory: accumulator for %s must have one operator", field)
			}
			for op, expr := range accSpec {
				v, err := accumulate(op, expr, g.docs)
				if err != nil {
					return nil, err
				}
				row[field] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func accumulate(op string, expr interface{}, docs []bson.M) (interface{}, error) {
	values := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		v, err := evalExpr(d, expr)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	switch op {
	case "$sum", "$avg":
		var total float64
		var n int
		integral := true
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				total += f
				n++
				integral = integral && isIntegral(v)
			}
		}
		if op == "$avg" {
			if n == 0 {
				return nil, nil
			}
			return total / float64(n), nil
		}
		if integral {
			return int64(total), nil
		}
		return total, nil
	case "$min", "$max":
		var best interface{}
		for _, v := range values {
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := sortCompare(v, best)
			if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "$first":
		if len(values) == 0 {
			return nil, nil
		}
		return values[0], nil
	case "$last":
		if len(values) == 0 {
			return nil, nil
		}
		return values[len(values)-1], nil
	case "$push":
		return bson.A(values), nil
	}
	return nil, fmt.Errorf("memory: unsupported accumulator %s", op)
}

// evalExpr supports field references, $$ROOT, and the handful of expression
// operators the compiler emits.
func evalExpr(doc bson.M, expr interface{}) (interface{}, error) {
	switch e := expr.(type) {
	case string:
		if e == "$$ROOT" {
			return cloneDoc(doc), nil
		}
		if strings.HasPrefix(e, "$") {
			v, _ := lookupPath(doc, e[1:])
			return v, nil
		}
		return e, nil
	case bson.M, map[string]interface{}, bson.D:
		m, _ := asMap(e)
		if !isOperatorDoc(m) {
			out := bson.M{}
			for k, sub := range m {
				v, err := evalExpr(doc, sub)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		}
		for op, arg := range m {
			switch op {
			case "$toLower":
				v, err := evalExpr(doc, arg)
				if err != nil || v == nil {
					return "", err
				}
				return strings.ToLower(fmt.Sprint(v)), nil
			case "$size":
				v, err := evalExpr(doc, arg)
				if err != nil {
					return nil, err
				}
				list, _ := asList(v)
				return int32(len(list)), nil
			case "$ifNull":
				args, ok := asList(arg)
				if !ok || len(args) != 2 {
					return nil, fmt.Errorf("memory: $ifNull expects two arguments")
				}
				v, err := evalExpr(doc, args[0])
				if err != nil {
					return nil, err
				}
				if v != nil {
					return v, nil
				}
				return evalExpr(doc, args[1])
			}
			return nil, fmt.Errorf("memory: unsupported expression %s", op)
		}
	}
	return expr, nil
}

func (s *Store) lookupStage(arg interface{}, docs []bson.M) ([]bson.M, error) {
	spec, ok := asMap(arg)
	if !ok {
		return nil, fmt.Errorf("memory: $lookup expects a document")
	}
	from, _ := spec["from"].(string)
	localField, _ := spec["localField"].(string)
	foreignField, _ := spec["foreignField"].(string)
	as, _ := spec["as"].(string)
	if from == "" || localField == "" || foreignField == "" || as == "" {
		return nil, fmt.Errorf("memory: $lookup needs from, localField, foreignField and as")
	}
	var sub []bson.M
	if p, ok := spec["pipeline"]; ok {
		list, _ := asList(p)
		for _, st := range list {
			m, ok := asMap(st)
			if !ok {
				return nil, fmt.Errorf("memory: $lookup pipeline stages must be documents")
			}
			sub = append(sub, m)
		}
	}
	foreign := s.snapshot(from)
	for _, d := range docs {
		local, _ := lookupPath(d, localField)
		locals := []interface{}{local}
		if list, ok := asList(local); ok {
			locals = list
		}
		var joined []bson.M
		for _, f := range foreign {
			fv, exists := lookupPath(f, foreignField)
			for _, l := range locals {
				if matchEq(fv, exists, l) {
					joined = append(joined, cloneDoc(f))
					break
				}
			}
		}
		if len(sub) > 0 {
			var err error
			joined, err = s.run(joined, sub)
			if err != nil {
				return nil, err
			}
		}
		arr := make(bson.A, 0, len(joined))
		for _, j := range joined {
			arr = append(arr, j)
		}
		d[as] = arr
	}
	return docs, nil
}

func unwindStage(arg interface{}, docs []bson.M) ([]bson.M, error) {
	var path string
	preserve := false
	switch spec := arg.(type) {
	case string:
		path = spec
	default:
		m, ok := asMap(spec)
		if !ok {
			return nil, fmt.Errorf("memory: $unwind expects a path")
		}
		path, _ = m["path"].(string)
		preserve, _ = m["preserveNullAndEmptyArrays"].(bool)
	}
	field := strings.TrimPrefix(path, "$")
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		v, exists := d[field]
		list, isList := asList(v)
		if !exists || v == nil || (isList && len(list) == 0) {
			if preserve {
				nd := cloneDoc(d)
				delete(nd, field)
				out = append(out, nd)
			}
			continue
		}
		if !isList {
			out = append(out, d)
			continue
		}
		for _, item := range list {
			nd := cloneDoc(d)
			nd[field] = item
			out = append(out, nd)
		}
	}
	return out, nil
}
