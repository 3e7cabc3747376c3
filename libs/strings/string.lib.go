package strlib

import (
	"regexp"
	"sort"
	"strings"

	"github.com/gobuffalo/flect"
)

var (
	// UPPER + UpperLower -> split, e.g. JSONData -> JSON_Data
	reAcronym = regexp.MustCompile(`([\p{Lu}]+)([\p{Lu}][\p{Ll}]+)`)
	// lower/number + Upper -> split
	reBoundary = regexp.MustCompile(`([\p{Ll}\p{Nd}])([\p{Lu}])`)
)

func splitWords(str, sep string) string {
	res := reAcronym.ReplaceAllString(str, "${1}"+sep+"${2}")
	return reBoundary.ReplaceAllString(res, "${1}"+sep+"${2}")
}

// ConvertToSnakeCase converts CamelCase to snake_case.
func ConvertToSnakeCase(str string) string {
	return strings.ToLower(splitWords(str, "_"))
}

func Hyphenate(str string) string {
	res := strings.ReplaceAll(splitWords(str, "-"), " ", "-")
	return strings.ToLower(res)
}

var irregulars = map[string]string{
	"quiz":  "quizzes",
	"sheep": "sheep",
}

// Pluralize adds a basic plural form to a string.
func Pluralize(word string) string {
	lower := strings.ToLower(word)
	if v, ok := irregulars[lower]; ok {
		return v
	}
	switch {
	case strings.HasSuffix(lower, "z") && !strings.HasSuffix(lower, "zz"):
		return word[:len(word)-1] + "zzes"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return word + "es"
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	}
	return word + "s"
}

// Singularize returns the singular form of a collection or model token.
func Singularize(word string) string {
	return flect.Singularize(word)
}

// CollectionName derives the default collection for a model name: Post -> posts.
func CollectionName(model string) string {
	return Pluralize(ConvertToSnakeCase(model))
}

// ForeignKey derives the conventional reference field for a model name: BlogPost -> blog_post_id.
func ForeignKey(model string) string {
	return Singularize(ConvertToSnakeCase(model)) + "_id"
}

// PivotCollection joins two model names alphabetically: (Tag, Post) -> post_tag.
func PivotCollection(a, b string) string {
	names := []string{
		Singularize(ConvertToSnakeCase(a)),
		Singularize(ConvertToSnakeCase(b)),
	}
	sort.Strings(names)
	return names[0] + "_" + names[1]
}

// isVowel checks if a rune is a vowel.
func isVowel(r rune) bool {
	return strings.ContainsRune("aeiouAEIOU", r)
}
