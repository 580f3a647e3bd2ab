package schema

import (
	"strings"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titler = cases.Title(language.English)

// Label derives a human-readable label from a collection or column name:
// "publish_date" becomes "Publish Date", "blog_articles" becomes
// "Blog Articles".
func Label(name string) string {
	words := strings.Fields(strings.ReplaceAll(inflect.Underscore(name), "_", " "))
	for i, w := range words {
		words[i] = titler.String(w)
	}
	return strings.Join(words, " ")
}

// SingularLabel derives the label of one item of the collection:
// "blog_articles" becomes "Blog Article".
func SingularLabel(name string) string {
	return Label(inflect.Singularize(name))
}
