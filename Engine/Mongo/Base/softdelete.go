package base

import "go.mongodb.org/mongo-driver/bson"

type trashedMode int

const (
	withoutTrashed trashedMode = iota
	withTrashed
	onlyTrashed
)

// scopeFilter is the soft-delete condition for mode, or nil when none applies.
func (s *Schema) scopeFilter(mode trashedMode) bson.M {
	if !s.SoftDeletes {
		return nil
	}
	switch mode {
	case withTrashed:
		return nil
	case onlyTrashed:
		return bson.M{s.DeletedField: true}
	}
	return bson.M{s.DeletedField: false}
}
