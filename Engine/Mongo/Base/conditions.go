package base

import (
	"go.mongodb.org/mongo-driver/bson"
)

// condition is either a single field expression or a nested group.
type condition struct {
	field  string
	expr   interface{}
	nested *conditionTree
}

func (c condition) compile() bson.M {
	if c.nested != nil {
		return c.nested.compile()
	}
	return bson.M{c.field: c.expr}
}

// conditionTree is an OR of AND-branches. Where appends to the current
// branch, OrWhere opens a new one.
type conditionTree struct {
	branches [][]condition
}

func (t *conditionTree) add(c condition, or bool) {
	if or && len(t.branches) > 0 && len(t.branches[len(t.branches)-1]) > 0 {
		t.branches = append(t.branches, []condition{c})
		return
	}
	if len(t.branches) == 0 {
		t.branches = [][]condition{{}}
	}
	last := len(t.branches) - 1
	t.branches[last] = append(t.branches[last], c)
}

func (t *conditionTree) empty() bool {
	for _, b := range t.branches {
		if len(b) > 0 {
			return false
		}
	}
	return true
}

// compile returns nil for an empty tree.
func (t *conditionTree) compile() bson.M {
	var ors []interface{}
	for _, branch := range t.branches {
		var ands []interface{}
		for _, c := range branch {
			if f := c.compile(); len(f) > 0 {
				ands = append(ands, f)
			}
		}
		switch len(ands) {
		case 0:
		case 1:
			ors = append(ors, ands[0])
		default:
			ors = append(ors, bson.M{"$and": ands})
		}
	}
	switch len(ors) {
	case 0:
		return nil
	case 1:
		return ors[0].(bson.M)
	}
	return bson.M{"$or": ors}
}

func (t conditionTree) clone() conditionTree {
	out := conditionTree{branches: make([][]condition, len(t.branches))}
	for i, b := range t.branches {
		out.branches[i] = append([]condition(nil), b...)
	}
	return out
}
