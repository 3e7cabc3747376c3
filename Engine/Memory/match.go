package memory

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		var ok bool
		var err error
		switch key {
		case "$and", "$or", "$nor":
			ok, err = matchLogical(doc, key, cond)
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("memory: unsupported top-level operator %s", key)
			}
			val, exists := lookupPath(doc, key)
			ok, err = matchField(val, exists, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc bson.M, op string, cond interface{}) (bool, error) {
	clauses, ok := asList(cond)
	if !ok {
		return false, fmt.Errorf("memory: %s expects an array", op)
	}
	hits := 0
	for _, c := range clauses {
		sub, ok := asMap(c)
		if !ok {
			return false, fmt.Errorf("memory: %s clause must be a document", op)
		}
		hit, err := matches(doc, sub)
		if err != nil {
			return false, err
		}
		if hit {
			hits++
		}
	}
	switch op {
	case "$and":
		return hits == len(clauses), nil
	case "$or":
		return hits > 0, nil
	default:
		return hits == 0, nil
	}
}

func isOperatorDoc(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func matchField(val interface{}, exists bool, cond interface{}) (bool, error) {
	if re, ok := cond.(primitive.Regex); ok {
		return matchRegex(val, re.Pattern, re.Options)
	}
	ops, ok := asMap(cond)
	if !ok || !isOperatorDoc(ops) {
		return matchEq(val, exists, cond), nil
	}
	for op, arg := range ops {
		var hit bool
		var err error
		switch op {
		case "$eq":
			hit = matchEq(val, exists, arg)
		case "$ne":
			hit = !matchEq(val, exists, arg)
		case "$gt", "$gte", "$lt", "$lte":
			hit = exists && matchOrder(val, op, arg)
		case "$in":
			hit, err = matchIn(val, exists, arg)
		case "$nin":
			hit, err = matchIn(val, exists, arg)
			hit = !hit
		case "$exists":
			want, _ := arg.(bool)
			hit = want == exists
		case "$regex":
			options, _ := ops["$options"].(string)
			switch p := arg.(type) {
			case string:
				hit, err = matchRegex(val, p, options)
			case primitive.Regex:
				hit, err = matchRegex(val, p.Pattern, p.Options+options)
			default:
				err = fmt.Errorf("memory: $regex expects a string")
			}
		case "$options":
			hit = true
		case "$type":
			hit, err = matchType(val, exists, arg)
		case "$not":
			hit, err = matchField(val, exists, arg)
			hit = !hit
		default:
			err = fmt.Errorf("memory: unsupported query operator %s", op)
		}
		if err != nil || !hit {
			return false, err
		}
	}
	return true, nil
}

// matchEq follows MongoDB: nil matches null or missing, and an array field
// matches when any element equals the operand.
func matchEq(val interface{}, exists bool, arg interface{}) bool {
	if arg == nil {
		return !exists || val == nil
	}
	if !exists {
		return false
	}
	if equalValues(val, arg) {
		return true
	}
	if list, ok := asList(val); ok {
		for _, item := range list {
			if equalValues(item, arg) {
				return true
			}
		}
	}
	return false
}

func matchOrder(val interface{}, op string, arg interface{}) bool {
	candidates := []interface{}{val}
	if list, ok := asList(val); ok {
		candidates = list
	}
	for _, c := range candidates {
		cmp, ok := compareValues(c, arg)
		if !ok || c == nil {
			continue
		}
		switch op {
		case "$gt":
			if cmp > 0 {
				return true
			}
		case "$gte":
			if cmp >= 0 {
				return true
			}
		case "$lt":
			if cmp < 0 {
				return true
			}
		case "$lte":
			if cmp <= 0 {
				return true
			}
		}
	}
	return false
}

func matchIn(val interface{}, exists bool, arg interface{}) (bool, error) {
	list, ok := asList(arg)
	if !ok {
		return false, fmt.Errorf("memory: $in/$nin expects an array")
	}
	for _, item := range list {
		if matchEq(val, exists, item) {
			return true, nil
		}
	}
	return false, nil
}

func matchRegex(val interface{}, pattern, options string) (bool, error) {
	s, ok := val.(string)
	if !ok {
		return false, nil
	}
	if strings.Contains(options, "i") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

func matchType(val interface{}, exists bool, arg interface{}) (bool, error) {
	if !exists {
		return false, nil
	}
	switch arg {
	case "number":
		_, ok := toFloat(val)
		return ok, nil
	case "string":
		_, ok := val.(string)
		return ok, nil
	case "null":
		return val == nil, nil
	}
	return false, fmt.Errorf("memory: unsupported $type %v", arg)
}
