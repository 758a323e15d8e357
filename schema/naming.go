package schema

import (
	"strings"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Label derives the entity name of a table: "line_items" becomes "LineItem".
func Label(table string) string {
	parts := strings.Split(inflect.Singularize(table), "_")
	for i, p := range parts {
		parts[i] = cases.Title(language.English).String(p)
	}
	return strings.Join(parts, "")
}
