package schema

import (
	"fmt"
	"strings"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// buildColumnDef builds the full column definition for use in CREATE TABLE,
// composing type, PRIMARY KEY, NOT NULL, DEFAULT and REFERENCES.
func buildColumnDef(c Column, d database.Dialect) string {
	parts := []string{d.QuoteIdent(c.Name), d.ColumnType(c.Type)}

	if c.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != "" {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.References != "" {
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s) ON DELETE CASCADE",
			d.QuoteIdent(c.References), d.QuoteIdent("id")))
	}

	return strings.Join(parts, " ")
}

// CreateTableSQL generates the CREATE TABLE statement for t.
func CreateTableSQL(t Table, d database.Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.QuoteIdent(t.Name))
	for i, c := range t.Columns {
		b.WriteString("    ")
		b.WriteString(buildColumnDef(c, d))
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

// CreateIndexSQL generates the CREATE INDEX statement for one index of t.
func CreateIndexSQL(t Table, idx Index, d database.Dialect) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
		d.QuoteIdent(idx.Name), d.QuoteIdent(t.Name), strings.Join(cols, ", "))
}

// AddColumnSQL generates the ALTER TABLE statement adding c to table. NOT
// NULL is only kept when the column has a default, since existing rows
// would otherwise violate it.
func AddColumnSQL(table string, c Column, d database.Dialect) string {
	if c.Default == "" {
		c.NotNull = false
	}
	c.PrimaryKey = false
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", d.QuoteIdent(table), buildColumnDef(c, d))
}

// DropColumnSQL generates the ALTER TABLE statement removing column.
func DropColumnSQL(table, column string, d database.Dialect) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", d.QuoteIdent(table), d.QuoteIdent(column))
}

// AlterColumnTypeSQL generates the statement changing a column's type, or
// "" when the dialect cannot alter column types in place.
func AlterColumnTypeSQL(table string, c Column, d database.Dialect) string {
	if d.Name() != "postgres" {
		return ""
	}
	typ := d.ColumnType(c.Type)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
		d.QuoteIdent(table), d.QuoteIdent(c.Name), typ, d.QuoteIdent(c.Name), typ)
}

// RenderDDL generates the complete DDL for tables, in order, as a single
// script. Owners precede the tables referencing them.
func RenderDDL(tables []Table, d database.Dialect) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- %s (%s %s", t.Name, t.Kind, t.Entity)
		if t.Path != "" {
			fmt.Fprintf(&b, ", %s", t.Path)
		}
		b.WriteString(")\n")
		b.WriteString(CreateTableSQL(t, d))
		b.WriteString("\n")
		for _, idx := range t.Indexes {
			b.WriteString(CreateIndexSQL(t, idx, d))
			b.WriteString("\n")
		}
	}
	return b.String()
}
