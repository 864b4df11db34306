package schema

import (
	"log/slog"
)

// Entity bundles what the content engine needs about one definition.
type Entity struct {
	Definition Definition
	Config     EntityConfig
	Table      *Table
}

// Catalog resolves generated tables and entities by name. It is built once
// from a generation result and is read-only afterwards, so it can be shared
// between goroutines.
type Catalog struct {
	tables   map[string]*Table
	order    []*Table
	entities map[Kind]map[string]*Entity
}

// NewCatalog indexes a generation result.
func NewCatalog(res *Result) *Catalog {
	c := &Catalog{
		tables:   make(map[string]*Table, len(res.Tables)),
		entities: make(map[Kind]map[string]*Entity, len(Kinds)),
	}
	for _, k := range Kinds {
		c.entities[k] = make(map[string]*Entity)
	}

	for i := range res.Tables {
		t := &res.Tables[i]
		c.tables[t.Name] = t
		c.order = append(c.order, t)
	}

	configs := make(map[string]EntityConfig, len(res.Configs))
	for _, cfg := range res.Configs {
		configs[cfg.Table] = cfg
	}
	for _, d := range res.Definitions {
		c.entities[d.Kind][d.Slug] = &Entity{
			Definition: d,
			Config:     configs[d.Table()],
			Table:      c.tables[d.Table()],
		}
	}
	return c
}

// BuildCatalog generates the schema of defs and indexes it.
func BuildCatalog(defs []Definition, logger *slog.Logger) (*Catalog, error) {
	res, err := Generate(defs, logger)
	if err != nil {
		return nil, err
	}
	return NewCatalog(res), nil
}

// Table returns the generated table called name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every table in generation order.
func (c *Catalog) Tables() []*Table {
	return c.order
}

// Entity returns the entity of kind with the given slug.
func (c *Catalog) Entity(kind Kind, slug string) (*Entity, bool) {
	e, ok := c.entities[kind][slug]
	return e, ok
}

// Entities returns the entities of kind, ordered by slug.
func (c *Catalog) Entities(kind Kind) []*Entity {
	var out []*Entity
	for _, t := range c.order {
		if t.Role != RoleMain || t.Kind != kind {
			continue
		}
		if e, ok := c.entities[kind][t.Entity]; ok {
			out = append(out, e)
		}
	}
	return out
}
