package base

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// operatorTable maps comparison symbols to MongoDB query operators.
var operatorTable = map[string]string{
	"=":      "$eq",
	"==":     "$eq",
	"!=":     "$ne",
	"<>":     "$ne",
	">":      "$gt",
	"<":      "$lt",
	">=":     "$gte",
	"<=":     "$lte",
	"in":     "$in",
	"notIn":  "$nin",
	"not in": "$nin",
	"like":   "$regex",
}

// LookupOperator resolves a comparison symbol.
func LookupOperator(symbol string) (string, bool) {
	op, ok := operatorTable[symbol]
	return op, ok
}

// operatorExpr builds the per-field expression for a resolved operator.
func operatorExpr(op string, value interface{}) interface{} {
	switch op {
	case "$regex":
		return primitive.Regex{Pattern: likePattern(fmt.Sprintf("%v", value)), Options: "i"}
	case "$in", "$nin":
		return bson.M{op: toInterfaceSlice(value)}
	}
	return bson.M{op: value}
}

// likePattern converts a SQL LIKE pattern into an anchored regular expression:
// % matches any run of characters and _ matches exactly one.
func likePattern(input string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range input {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
