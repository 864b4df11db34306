package content

import (
	"context"
	"fmt"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

// The loader populates the non-scalar fields of rows that were already
// fetched. Every field resolves on its own: a failure is logged and the
// field falls back to nil or an empty list, never aborting its siblings or
// the parent row.

// hydrateEntity resolves every field of a main row of def, plus its block
// placements when the entity supports blocks.
func (s *Service) hydrateEntity(ctx context.Context, q database.Querier, def schema.Definition, row Item, depth int) {
	owner := def.Owner()
	s.hydrate(ctx, q, owner, def.Fields, row, depth)
	if def.Options.Blocks && depth <= s.maxDepth {
		row[schema.BlocksField] = s.loadBlocks(ctx, q, owner, asString(row[schema.FieldID]), depth)
	}
}

// hydrate resolves fields on row, whose table is owner.
func (s *Service) hydrate(ctx context.Context, q database.Querier, owner schema.Owner, fields schema.Fields, row Item, depth int) {
	id := asString(row[schema.FieldID])

	for _, nf := range fields {
		switch v := schema.Classify(nf.Name, nf.Field).(type) {
		case schema.ScalarField:
			s.normalizeField(owner, v, row)

		case schema.RelationField:
			if v.ManyToMany {
				row[v.Name] = s.loadRelated(ctx, q, owner, v, id, depth)
				continue
			}
			if raw, ok := row[v.Name]; ok {
				if target, ok := relationID(raw); ok && target != "" {
					row[v.Name] = target
				} else {
					row[v.Name] = nil
				}
			}

		case schema.FileField:
			row[v.Name] = s.loadFiles(ctx, q, owner, v, row[v.Name], id)

		case schema.ArrayField:
			row[v.Name] = s.loadArray(ctx, q, owner, v, id, depth)

		case schema.TagsField:
			row[v.Name] = s.loadTags(ctx, owner, v, id)
		}
	}
}

// normalizeScalars converts the scalar columns of row without touching
// nested fields.
func (s *Service) normalizeScalars(owner schema.Owner, fields schema.Fields, row Item) {
	for _, nf := range fields {
		if v, ok := schema.Classify(nf.Name, nf.Field).(schema.ScalarField); ok {
			s.normalizeField(owner, v, row)
		}
	}
}

func (s *Service) normalizeField(owner schema.Owner, v schema.ScalarField, row Item) {
	raw, ok := row[v.Name]
	if !ok {
		return
	}
	val, err := normalizeScalar(v.Field, v.Column, raw)
	if err != nil {
		s.logger.Warn("reading field failed", "table", owner.Table, "field", v.Name, "error", err)
	}
	row[v.Name] = val
}

// loadFiles returns a *media.File (or nil) for single file fields and a
// []*media.File for multiple ones. A raw string id left in the owner's row
// by inline storage takes precedence over the file-relation table.
func (s *Service) loadFiles(ctx context.Context, q database.Querier, owner schema.Owner, v schema.FileField, raw any, ownerID string) any {
	var files []*media.File
	if legacy, ok := raw.(string); ok && legacy != "" {
		if f := s.resolveFile(ctx, legacy, ""); f != nil {
			files = append(files, f)
		}
	} else {
		files = s.loadFileRelations(ctx, q, owner.FileTable(v.Name), ownerID)
	}

	if v.Multiple {
		if files == nil {
			files = []*media.File{}
		}
		return files
	}
	if len(files) == 0 {
		return nil
	}
	return files[0]
}

func (s *Service) loadFileRelations(ctx context.Context, q database.Querier, table, ownerID string) []*media.File {
	if _, err := s.table(table); err != nil {
		s.logger.Warn("loading file field failed", "error", err)
		return nil
	}

	d := q.Dialect()
	p := d.NewParams()
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT file_id, alt_override FROM %s WHERE %s = %s ORDER BY sort`,
			d.QuoteIdent(table), schema.FileOwnerColumn, p.Add(ownerID)),
		p.Args()...,
	)
	if err != nil {
		s.logger.Warn("loading file field failed", "table", table, "owner_id", ownerID, "error", err)
		return nil
	}

	files := make([]*media.File, 0, len(rows))
	for _, row := range rows {
		if f := s.resolveFile(ctx, asString(row["file_id"]), asString(row["alt_override"])); f != nil {
			files = append(files, f)
		}
	}
	return files
}

// resolveFile looks up a file record. A missing file is a soft failure.
func (s *Service) resolveFile(ctx context.Context, id, altOverride string) *media.File {
	if s.files == nil {
		return nil
	}
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		s.logger.Warn("dangling file reference", "file_id", id, "error", err)
		return nil
	}
	if altOverride != "" {
		withAlt := *f
		withAlt.Alt = altOverride
		return &withAlt
	}
	return f
}

// loadArray returns the items of an array field in sort order, each with its
// own nested fields resolved against the child table.
func (s *Service) loadArray(ctx context.Context, q database.Querier, owner schema.Owner, v schema.ArrayField, ownerID string, depth int) []Item {
	items := []Item{}
	child := owner.Child(v.Name)
	if _, err := s.table(child.Table); err != nil {
		s.logger.Warn("loading array field failed", "error", err)
		return items
	}

	d := q.Dialect()
	p := d.NewParams()
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE %s = %s ORDER BY sort`,
			d.QuoteIdent(child.Table), d.QuoteIdent(owner.ItemKey()), p.Add(ownerID)),
		p.Args()...,
	)
	if err != nil {
		s.logger.Warn("loading array field failed", "table", child.Table, "owner_id", ownerID, "error", err)
		return items
	}

	for _, row := range rows {
		delete(row, owner.ItemKey())
		delete(row, schema.FieldCreatedAt)
		delete(row, schema.FieldUpdatedAt)
		row[schema.FieldSort] = toInt(row[schema.FieldSort])
		s.hydrate(ctx, q, child, v.Items, row, depth)
		items = append(items, row)
	}
	return items
}

// loadRelated returns the targets of a many-to-many field in junction order.
// Targets are hydrated with their registry schema until the depth limit;
// past it only their scalars are converted.
func (s *Service) loadRelated(ctx context.Context, q database.Querier, owner schema.Owner, v schema.RelationField, ownerID string, depth int) []Item {
	items := []Item{}
	jt := owner.JunctionTable(v.Name)
	if _, err := s.table(jt); err != nil {
		s.logger.Warn("loading relation failed", "error", err)
		return items
	}

	d := q.Dialect()
	p := d.NewParams()
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT t.* FROM %s t JOIN %s j ON j.target_id = t.id WHERE j.%s = %s ORDER BY j.sort`,
			d.QuoteIdent(schema.TableName(v.TargetKind, v.TargetSlug)), d.QuoteIdent(jt),
			schema.JunctionOwnerColumn, p.Add(ownerID)),
		p.Args()...,
	)
	if err != nil {
		s.logger.Warn("loading relation failed", "table", jt, "owner_id", ownerID, "error", err)
		return items
	}
	if len(rows) == 0 {
		return items
	}

	def, err := s.targetDefinition(ctx, q, v.TargetKind, v.TargetSlug)
	if err != nil {
		s.logger.Warn("relation target schema unavailable, returning raw rows",
			"kind", v.TargetKind, "slug", v.TargetSlug, "error", err)
		return append(items, rows...)
	}

	for _, row := range rows {
		if depth+1 >= s.maxDepth {
			s.normalizeScalars(def.Owner(), def.Fields, row)
		} else {
			s.hydrateEntity(ctx, q, *def, row, depth+1)
		}
		items = append(items, row)
	}
	return items
}

func (s *Service) targetDefinition(ctx context.Context, q database.Querier, kind schema.Kind, slug string) (*schema.Definition, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("%w: no registry configured", schema.ErrTypeNotFound)
	}
	return s.registry.Get(ctx, q, kind, slug)
}

// loadTags returns the tags of one row. Tags live outside the content
// tables, keyed by the owner's kind and slug path.
func (s *Service) loadTags(ctx context.Context, owner schema.Owner, v schema.TagsField, ownerID string) []string {
	if s.tags == nil {
		return []string{}
	}
	names, err := s.tags.List(ctx, tagRef(owner, ownerID, v.Name))
	if err != nil {
		s.logger.Warn("loading tags failed", "table", owner.Table, "field", v.Name, "error", err)
		return []string{}
	}
	return names
}

func tagRef(owner schema.Owner, id, field string) tags.Ref {
	return tags.Ref{Kind: string(owner.Kind), Entity: owner.Slug, ID: id, Field: field}
}

// loadBlocks returns the blocks placed on a row as {type, id, sort, ...}.
func (s *Service) loadBlocks(ctx context.Context, q database.Querier, owner schema.Owner, ownerID string, depth int) []Item {
	blocks := []Item{}
	bt := owner.BlockTable()
	if _, err := s.table(bt); err != nil {
		s.logger.Warn("loading blocks failed", "error", err)
		return blocks
	}

	d := q.Dialect()
	p := d.NewParams()
	placements, err := q.Query(ctx,
		fmt.Sprintf(`SELECT block_type, block_id, sort FROM %s WHERE %s = %s ORDER BY sort`,
			d.QuoteIdent(bt), d.QuoteIdent(owner.ItemKey()), p.Add(ownerID)),
		p.Args()...,
	)
	if err != nil {
		s.logger.Warn("loading blocks failed", "table", bt, "owner_id", ownerID, "error", err)
		return blocks
	}

	for _, pl := range placements {
		blockType := asString(pl["block_type"])
		blockID := asString(pl["block_id"])

		block, err := s.fetchRow(ctx, q, schema.TableName(schema.KindBlock, blockType), blockID)
		if err != nil {
			s.logger.Warn("placed block missing", "type", blockType, "id", blockID, "error", err)
			continue
		}

		if def, err := s.targetDefinition(ctx, q, schema.KindBlock, blockType); err != nil {
			s.logger.Warn("block schema unavailable, returning raw row", "type", blockType, "error", err)
		} else {
			s.hydrateEntity(ctx, q, *def, block, depth+1)
		}

		delete(block, schema.FieldCreatedAt)
		delete(block, schema.FieldUpdatedAt)
		block["type"] = blockType
		block[schema.FieldSort] = toInt(pl["sort"])
		blocks = append(blocks, block)
	}
	return blocks
}

// fetchRow selects one row of table by id.
func (s *Service) fetchRow(ctx context.Context, q database.Querier, table, id string) (Item, error) {
	d := q.Dialect()
	p := d.NewParams()
	rows, err := q.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE id = %s`, d.QuoteIdent(table), p.Add(id)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting %s row %q: %w", table, id, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}
