// Package search builds the free-text filter of content list queries. It
// matches a term as a substring of an entity's text columns, case
// insensitively, on both supported SQL engines.
package search

import (
	"strings"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

// textTypes are the field types whose values are searched.
var textTypes = map[schema.FieldType]bool{
	schema.FieldTypeString:   true,
	schema.FieldTypeText:     true,
	schema.FieldTypeTextarea: true,
	schema.FieldTypeWysiwyg:  true,
	schema.FieldTypeEmail:    true,
	schema.FieldTypeSlug:     true,
}

// Columns returns the main-table columns of ent a search matches against,
// in field declaration order. Passwords and non-text fields are never
// searched.
func Columns(ent *schema.Entity) []string {
	var cols []string
	for _, nf := range ent.Definition.Fields {
		if !textTypes[nf.Field.Type] {
			continue
		}
		c, ok := ent.Table.Column(nf.Name)
		if !ok || c.Type != database.ColumnText {
			continue
		}
		cols = append(cols, nf.Name)
	}
	return cols
}

// Clause renders a condition matching rows where any of columns contains
// term. It returns "" when there is nothing to search.
//
// PostgreSQL uses ILIKE; SQLite's LIKE is already case-insensitive for
// ASCII. Wildcards in term are matched literally.
func Clause(d database.Dialect, p *database.Params, table string, columns []string, term string) string {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return ""
	}

	op := "LIKE"
	if d.Name() == "postgres" {
		op = "ILIKE"
	}
	pattern := "%" + escapeLike(term) + "%"

	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = d.QuoteIdent(table) + "." + d.QuoteIdent(c) + " " + op + " " + p.Add(pattern) + ` ESCAPE '\'`
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
