package schema

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// TableRole describes what a generated table stores.
type TableRole string

// Generated table roles.
const (
	RoleMain     TableRole = "main"
	RoleArray    TableRole = "array"
	RoleFiles    TableRole = "files"
	RoleJunction TableRole = "junction"
	RoleBlocks   TableRole = "blocks"
)

// Column is one column of a generated table.
type Column struct {
	Name       string              `json:"name"`
	Type       database.ColumnType `json:"type"`
	PrimaryKey bool                `json:"primary_key,omitempty"`
	NotNull    bool                `json:"not_null,omitempty"`
	Default    string              `json:"default,omitempty"`
	// References names a table whose id this column points to. Rows are
	// removed with their referenced row.
	References string `json:"references,omitempty"`
}

// Index is a secondary index of a generated table.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Table is the physical specification of one generated table.
type Table struct {
	Name string    `json:"name"`
	Role TableRole `json:"role"`
	Kind Kind      `json:"kind"`
	// Entity is the slug of the definition the table belongs to.
	Entity string `json:"entity"`
	// Path is the dotted field path from the entity root, empty for main
	// tables.
	Path string `json:"path,omitempty"`
	// Owner is the table whose rows own this table's rows.
	Owner string `json:"owner,omitempty"`
	// OwnerKey is the column referencing Owner.
	OwnerKey string   `json:"owner_key,omitempty"`
	Columns  []Column `json:"columns"`
	Indexes  []Index  `json:"indexes,omitempty"`
}

// Column returns the column called name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Result is the output of Generate.
type Result struct {
	// Definitions are the input definitions with core fields merged, in
	// generation order.
	Definitions []Definition `json:"-"`
	// Tables holds every table, each owner before the tables it owns.
	Tables []Table `json:"tables"`
	// Configs holds the flattened field configuration of every entity.
	Configs []EntityConfig `json:"configs"`
	// Types holds the language-level type description of every entity and
	// array item.
	Types []TypeDescription `json:"types"`
}

// Generate turns definitions into table specifications, flattened field
// configs and type descriptions. Core fields are merged first. Any problem
// (unknown relation target, unknown allowed block, colliding or overlong
// table names) aborts with a DefinitionError and no partial result.
//
// The output depends only on the definitions: generating twice from the same
// input yields identical results.
func Generate(defs []Definition, logger *slog.Logger) (*Result, error) {
	if err := ValidateDefinitions(defs); err != nil {
		return nil, err
	}

	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	SortDefinitions(sorted)

	g := &generator{known: make(map[Kind]map[string]bool, len(Kinds))}
	for _, k := range Kinds {
		g.known[k] = make(map[string]bool)
	}
	for _, d := range sorted {
		g.known[d.Kind][d.Slug] = true
	}

	res := &Result{}
	for _, d := range sorted {
		merged := MergeCoreFields(d, logger)
		res.Definitions = append(res.Definitions, merged)
		g.entity(merged)
	}

	g.checkNames()
	if len(g.problems) > 0 {
		return nil, &DefinitionError{Problems: g.problems}
	}

	res.Tables = g.tables
	res.Configs = g.configs
	res.Types = g.types
	return res, nil
}

type generator struct {
	known    map[Kind]map[string]bool
	tables   []Table
	configs  []EntityConfig
	types    []TypeDescription
	problems []string
}

func (g *generator) problem(d Definition, format string, args ...any) {
	g.problems = append(g.problems, fmt.Sprintf("%s %q: ", d.Kind, d.Slug)+fmt.Sprintf(format, args...))
}

// entity emits the main table of d and, recursively, every table its fields
// need.
func (g *generator) entity(d Definition) {
	owner := d.Owner()

	main := Table{
		Name:   owner.Table,
		Role:   RoleMain,
		Kind:   d.Kind,
		Entity: d.Slug,
	}
	if d.HasStatus() {
		main.Indexes = append(main.Indexes, Index{Name: "idx_" + owner.Table + "_status", Columns: []string{FieldStatus}})
	}
	if d.Kind == KindCollection {
		main.Indexes = append(main.Indexes, Index{Name: "idx_" + owner.Table + "_slug", Columns: []string{FieldSlug}})
	}
	if d.Options.Nestable {
		main.Indexes = append(main.Indexes, Index{Name: "idx_" + owner.Table + "_parent_id", Columns: []string{FieldParentID}})
	}

	cfg := EntityConfig{Kind: d.Kind, Slug: d.Slug, Table: owner.Table}
	td := TypeDescription{Name: typeName(string(d.Kind), d.Slug), Table: owner.Table}

	slot := g.reserve()
	g.fields(d, owner, "", d.Fields, &main, &cfg, &td)

	if d.Options.Blocks {
		for _, slug := range d.Options.AllowedBlocks {
			if !g.known[KindBlock][slug] {
				g.problem(d, "options.allowed_blocks references unknown block %q", slug)
			}
		}
		g.tables = append(g.tables, Table{
			Name:     owner.BlockTable(),
			Role:     RoleBlocks,
			Kind:     d.Kind,
			Entity:   d.Slug,
			Path:     BlocksField,
			Owner:    owner.Table,
			OwnerKey: owner.ItemKey(),
			Columns: []Column{
				{Name: "id", Type: database.ColumnText, PrimaryKey: true},
				{Name: owner.ItemKey(), Type: database.ColumnText, NotNull: true, References: owner.Table},
				{Name: "block_type", Type: database.ColumnText, NotNull: true},
				{Name: "block_id", Type: database.ColumnText, NotNull: true},
				{Name: "sort", Type: database.ColumnInteger, NotNull: true, Default: "0"},
				{Name: "created_at", Type: database.ColumnTimestamp, NotNull: true},
				{Name: "updated_at", Type: database.ColumnTimestamp, NotNull: true},
			},
			Indexes: []Index{{Name: "idx_" + owner.BlockTable() + "_owner", Columns: []string{owner.ItemKey(), "sort"}}},
		})
		cfg.Fields = append(cfg.Fields, FieldConfig{
			Path:    BlocksField,
			Name:    BlocksField,
			Variant: "blocks",
			Table:   owner.BlockTable(),
		})
		td.Fields = append(td.Fields, TypeField{Name: "Blocks", JSON: BlocksField, Type: "[]map[string]any"})
	}

	g.tables[slot] = main
	g.configs = append(g.configs, cfg)
	g.types = append(g.types, td)
}

// reserve appends a placeholder table so an owner is emitted before the
// tables its fields create.
func (g *generator) reserve() int {
	g.tables = append(g.tables, Table{})
	return len(g.tables) - 1
}

// fields applies the storage rules to a field mapping owned by owner:
// scalars become columns of t, everything else gets its own table.
func (g *generator) fields(d Definition, owner Owner, path string, fields Fields, t *Table, cfg *EntityConfig, td *TypeDescription) {
	for _, nf := range fields {
		fieldPath := path + nf.Name
		fc := FieldConfig{
			Path:     fieldPath,
			Name:     nf.Name,
			Type:     nf.Field.Type,
			Required: nf.Field.Required,
			Core:     nf.Field.Core,
			Options:  nf.Field.Options,
		}

		v := Classify(nf.Name, nf.Field)
		fc.Variant = VariantName(v)

		switch v := v.(type) {
		case ScalarField:
			t.Columns = append(t.Columns, scalarColumn(nf.Name, v))
			fc.Table, fc.Column = t.Name, nf.Name

		case RelationField:
			if !g.known[v.TargetKind][v.TargetSlug] {
				g.problem(d, "field %s references unknown %s %q", fieldPath, v.TargetKind, v.TargetSlug)
			}
			fc.Target = TableName(v.TargetKind, v.TargetSlug)
			fc.Multiple = v.ManyToMany
			if !v.ManyToMany {
				t.Columns = append(t.Columns, Column{Name: nf.Name, Type: database.ColumnText})
				fc.Table, fc.Column = t.Name, nf.Name
				break
			}
			jt := owner.JunctionTable(nf.Name)
			g.tables = append(g.tables, Table{
				Name:     jt,
				Role:     RoleJunction,
				Kind:     d.Kind,
				Entity:   d.Slug,
				Path:     fieldPath,
				Owner:    owner.Table,
				OwnerKey: JunctionOwnerColumn,
				Columns: []Column{
					{Name: "id", Type: database.ColumnText, PrimaryKey: true},
					{Name: JunctionOwnerColumn, Type: database.ColumnText, NotNull: true, References: owner.Table},
					{Name: "target_id", Type: database.ColumnText, NotNull: true},
					{Name: "sort", Type: database.ColumnInteger, NotNull: true, Default: "0"},
					{Name: "created_at", Type: database.ColumnTimestamp, NotNull: true},
					{Name: "updated_at", Type: database.ColumnTimestamp, NotNull: true},
				},
				Indexes: []Index{
					{Name: "idx_" + jt + "_source", Columns: []string{JunctionOwnerColumn}},
					{Name: "idx_" + jt + "_target", Columns: []string{"target_id"}},
				},
			})
			fc.Table = jt

		case FileField:
			ft := owner.FileTable(nf.Name)
			g.tables = append(g.tables, Table{
				Name:     ft,
				Role:     RoleFiles,
				Kind:     d.Kind,
				Entity:   d.Slug,
				Path:     fieldPath,
				Owner:    owner.Table,
				OwnerKey: FileOwnerColumn,
				Columns: []Column{
					{Name: "id", Type: database.ColumnText, PrimaryKey: true},
					{Name: FileOwnerColumn, Type: database.ColumnText, NotNull: true, References: owner.Table},
					{Name: "file_id", Type: database.ColumnText, NotNull: true},
					{Name: "sort", Type: database.ColumnInteger, NotNull: true, Default: "0"},
					{Name: "alt_override", Type: database.ColumnText},
					{Name: "created_at", Type: database.ColumnTimestamp, NotNull: true},
				},
				Indexes: []Index{{Name: "idx_" + ft + "_owner", Columns: []string{FileOwnerColumn, "sort"}}},
			})
			fc.Table = ft
			fc.Multiple = v.Multiple

		case ArrayField:
			child := owner.Child(nf.Name)
			at := Table{
				Name:     child.Table,
				Role:     RoleArray,
				Kind:     d.Kind,
				Entity:   d.Slug,
				Path:     fieldPath,
				Owner:    owner.Table,
				OwnerKey: owner.ItemKey(),
				Columns: []Column{
					{Name: "id", Type: database.ColumnText, PrimaryKey: true},
					{Name: owner.ItemKey(), Type: database.ColumnText, NotNull: true, References: owner.Table},
					{Name: "sort", Type: database.ColumnInteger, NotNull: true, Default: "0"},
					{Name: "created_at", Type: database.ColumnTimestamp, NotNull: true},
					{Name: "updated_at", Type: database.ColumnTimestamp, NotNull: true},
				},
				Indexes: []Index{{Name: "idx_" + child.Table + "_owner", Columns: []string{owner.ItemKey(), "sort"}}},
			}
			fc.Table = child.Table
			fc.Multiple = true

			item := TypeDescription{Name: td.Name + typeName(nf.Name, "item"), Table: child.Table}
			slot := g.reserve()
			cfg.Fields = append(cfg.Fields, fc)
			td.Fields = append(td.Fields, typeField(nf.Name, v, "[]"+item.Name))

			g.fields(d, child, fieldPath+".", v.Items, &at, cfg, &item)
			g.tables[slot] = at
			g.types = append(g.types, item)
			continue

		case TagsField:
			fc.Multiple = true
		}

		cfg.Fields = append(cfg.Fields, fc)
		td.Fields = append(td.Fields, typeField(nf.Name, v, ""))
	}
}

func scalarColumn(name string, v ScalarField) Column {
	c := Column{Name: name, Type: v.Column}
	if !v.Field.Core {
		return c
	}
	switch name {
	case FieldID:
		c.PrimaryKey = true
	case FieldCreatedAt, FieldUpdatedAt:
		c.NotNull = true
	case FieldSort:
		c.NotNull = true
		c.Default = "0"
	}
	return c
}

// systemTables are created by migrations and cannot be generated.
var systemTables = map[string]bool{
	"collection_types":  true,
	"global_types":      true,
	"block_types":       true,
	"files":             true,
	"tags":              true,
	"entity_tags":       true,
	"admins":            true,
	"audit_log":         true,
	"schema_migrations": true,
}

// checkNames rejects generated table names that collide or exceed the
// identifier limit.
func (g *generator) checkNames() {
	owners := make(map[string][]string)
	for _, t := range g.tables {
		owner := fmt.Sprintf("%s %q", t.Kind, t.Entity)
		if t.Path != "" {
			owner += " field " + t.Path
		}
		owners[t.Name] = append(owners[t.Name], owner)
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if systemTables[name] {
			g.problems = append(g.problems, fmt.Sprintf("table %q generated by %s is a system table", name, owners[name][0]))
		}
		if len(owners[name]) > 1 {
			g.problems = append(g.problems, fmt.Sprintf("table %q is generated by more than one source: %v", name, owners[name]))
		}
		if len(name) > maxIdentifierLength {
			g.problems = append(g.problems, fmt.Sprintf("table %q exceeds %d characters (from %s)", name, maxIdentifierLength, owners[name][0]))
		}
	}
}
