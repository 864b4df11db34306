package schema

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// ChangeType names one kind of DDL step.
type ChangeType string

const (
	ChangeCreateTable ChangeType = "create_table"
	ChangeDropTable   ChangeType = "drop_table"
	ChangeAddColumn   ChangeType = "add_column"
	ChangeDropColumn  ChangeType = "drop_column"
	ChangeAlterColumn ChangeType = "alter_column"
	ChangeAddIndex    ChangeType = "add_index"
)

// Change is one step that brings the live database closer to the generated
// tables. Safe steps never lose data and are applied automatically; the
// rest are breaking and need dev mode or a forced sync. SQL is empty when
// the dialect cannot perform the step in place.
type Change struct {
	Type   ChangeType `json:"type"`
	Table  string     `json:"table"`
	Column string     `json:"column,omitempty"`
	SQL    string     `json:"sql"`
	Safe   bool       `json:"safe"`
	Detail string     `json:"detail"`
}

func safeChange(typ ChangeType, table, column, sql, detail string) Change {
	return Change{Type: typ, Table: table, Column: column, SQL: sql, Safe: true, Detail: detail}
}

func breakingChange(typ ChangeType, table, column, sql, detail string) Change {
	return Change{Type: typ, Table: table, Column: column, SQL: sql, Detail: detail + " [BREAKING]"}
}

// DiffTables compares tables with what q's database actually has. Absent
// tables are created along with their indexes and absent columns added.
// Extra live columns become breaking drops and columns whose physical type
// differs become breaking alters.
func DiffTables(ctx context.Context, q database.Querier, tables []Table) ([]Change, error) {
	d := q.Dialect()
	var changes []Change

	for _, t := range tables {
		live, err := d.TableColumns(ctx, q, t.Name)
		if err != nil {
			return nil, err
		}
		if len(live) == 0 {
			changes = append(changes, createChanges(t, d)...)
			continue
		}

		for _, c := range t.Columns {
			want := d.ColumnType(c.Type)
			have, ok := live[c.Name]
			switch {
			case !ok:
				changes = append(changes, safeChange(ChangeAddColumn, t.Name, c.Name,
					AddColumnSQL(t.Name, c, d),
					fmt.Sprintf("add column %s.%s (%s)", t.Name, c.Name, want)))
			case normalizeType(have) != normalizeType(want):
				changes = append(changes, breakingChange(ChangeAlterColumn, t.Name, c.Name,
					AlterColumnTypeSQL(t.Name, c, d),
					fmt.Sprintf("change type of %s.%s from %s to %s", t.Name, c.Name, have, want)))
			}
		}

		for _, name := range slices.Sorted(maps.Keys(live)) {
			if !t.HasColumn(name) {
				changes = append(changes, breakingChange(ChangeDropColumn, t.Name, name,
					DropColumnSQL(t.Name, name, d),
					fmt.Sprintf("drop column %s.%s, data loss", t.Name, name)))
			}
		}
	}
	return changes, nil
}

func createChanges(t Table, d database.Dialect) []Change {
	out := []Change{safeChange(ChangeCreateTable, t.Name, "", CreateTableSQL(t, d), "create table "+t.Name)}
	for _, idx := range t.Indexes {
		out = append(out, safeChange(ChangeAddIndex, t.Name, "", CreateIndexSQL(t, idx, d),
			fmt.Sprintf("add index %s on %s", idx.Name, t.Name)))
	}
	return out
}

// DiffStaleTables reports tables present in previous but absent from
// current as breaking drops. Tables are dropped owned-first, so dependents
// go before the tables they reference.
func DiffStaleTables(previous, current []Table, d database.Dialect) []Change {
	keep := make(map[string]bool, len(current))
	for _, t := range current {
		keep[t.Name] = true
	}

	var changes []Change
	for _, t := range slices.Backward(previous) {
		if keep[t.Name] {
			continue
		}
		changes = append(changes, breakingChange(ChangeDropTable, t.Name, "",
			fmt.Sprintf("DROP TABLE IF EXISTS %s;", d.QuoteIdent(t.Name)),
			fmt.Sprintf("drop table %s, data loss", t.Name)))
	}
	return changes
}

// normalizeType maps dialect spellings of the same type to one form.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "timestamptz":
		return "timestamp with time zone"
	case "int8":
		return "bigint"
	case "float8":
		return "double precision"
	case "bool":
		return "boolean"
	}
	return t
}

// BreakingChangesError blocks a refresh or sync whose plan holds breaking
// changes while dev mode is off. Nothing has been applied when it is
// returned.
type BreakingChangesError struct {
	Changes []Change
}

func (e *BreakingChangesError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema migration blocked: %d breaking change(s) detected (use dev mode to force):", len(e.Changes))
	for _, c := range e.Changes {
		b.WriteString("\n  - ")
		b.WriteString(c.Detail)
	}
	return b.String()
}
