package content

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

// maxAncestors bounds parent_id walks.
const maxAncestors = 64

// writeState carries one save or delete transaction. Tag changes are
// collected while the transaction runs and applied after it commits.
type writeState struct {
	tx     *database.Tx
	d      database.Dialect
	now    time.Time
	userID string

	tagSets  []tagSet
	tagDrops []tags.Ref
}

type tagSet struct {
	ref   tags.Ref
	names []string
}

// rowValues is an ordered column/value list for one INSERT or UPDATE.
type rowValues struct {
	cols []string
	vals []any
}

func (r *rowValues) set(col string, v any) {
	if i := slices.Index(r.cols, col); i >= 0 {
		r.vals[i] = v
		return
	}
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, v)
}

func (r *rowValues) get(col string) any {
	if i := slices.Index(r.cols, col); i >= 0 {
		return r.vals[i]
	}
	return nil
}

// save validates payload and persists it in one transaction: the main row,
// array items (diffed by id at every depth), file relations, junction rows
// and block placements. Tags are written after the commit.
func (s *Service) save(ctx context.Context, ent *schema.Entity, id string, payload Item) (string, error) {
	def := ent.Definition
	if payload == nil {
		payload = Item{}
	}
	if id == "" {
		id = strings.TrimSpace(asString(payload[schema.FieldID]))
	}

	existing, err := s.existingRow(ctx, s.db, ent, id)
	if err != nil {
		return "", err
	}

	action, resource := access.ActionCreate, payload
	if existing != nil {
		action, resource = access.ActionUpdate, existing
		id = asString(existing[schema.FieldID])
	}
	if !s.authz.Can(ctx, action, def.Kind, access.Resource{Entity: def.Slug, ID: id, Data: resource}) {
		return "", &PermissionError{Action: action, Kind: def.Kind, Entity: def.Slug, ID: id}
	}

	if errs := s.validate(def, payload, existing == nil); len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}

	if id == "" {
		id = uuid.NewString()
	}

	st := &writeState{d: s.db.Dialect(), now: time.Now().UTC(), userID: access.UserID(ctx)}
	var created bool
	err = s.db.InTx(ctx, func(tx *database.Tx) error {
		st.tx = tx

		current, err := s.existingRow(ctx, tx, ent, id)
		if err != nil {
			return err
		}
		created = current == nil
		if current != nil {
			id = asString(current[schema.FieldID])
		}

		if def.Options.Nestable {
			if raw, ok := payload[schema.FieldParentID]; ok {
				if err := s.checkParent(ctx, st, ent, id, raw); err != nil {
					return err
				}
			}
		}

		if err := s.writeMainRow(ctx, st, ent, id, payload, created); err != nil {
			return err
		}
		if err := s.writeFields(ctx, st, def.Owner(), def.Fields, id, payload); err != nil {
			return err
		}
		if raw, ok := payload[schema.BlocksField]; ok && def.Options.Blocks {
			if err := s.writeBlocks(ctx, st, def, id, raw); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.afterCommit(ctx, st)
	s.logAudit(ctx, audit.Event{
		Action:     "content.save",
		ActorID:    st.userID,
		Resource:   string(def.Kind) + "/" + def.Slug,
		ResourceID: id,
		Payload:    map[string]any{"created": created},
	})

	s.logger.Info("content saved", "kind", def.Kind, "slug", def.Slug, "id", id, "created", created)
	return id, nil
}

// existingRow returns the row a save with id would update, or nil. A flat
// global always resolves to its single row.
func (s *Service) existingRow(ctx context.Context, q database.Querier, ent *schema.Entity, id string) (Item, error) {
	d := q.Dialect()
	if ent.Definition.IsFlat() {
		rows, err := q.Query(ctx,
			fmt.Sprintf(`SELECT * FROM %s ORDER BY created_at LIMIT 1`, d.QuoteIdent(ent.Table.Name)),
		)
		if err != nil {
			return nil, fmt.Errorf("selecting %s: %w", ent.Table.Name, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
	if id == "" {
		return nil, nil
	}
	row, err := s.fetchRow(ctx, q, ent.Table.Name, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return row, err
}

func (s *Service) validate(def schema.Definition, payload Item, isCreate bool) []server.FieldError {
	extra := map[string]bool{}
	if def.Options.Blocks {
		extra[schema.BlocksField] = true
	}
	errs := validateFields("", def.Fields, payload, isCreate, extra)
	if raw, ok := payload[schema.BlocksField]; ok && def.Options.Blocks {
		errs = append(errs, s.validateBlocks(def, raw)...)
	}
	return errs
}

func (s *Service) validateBlocks(def schema.Definition, raw any) []server.FieldError {
	list, ok := raw.([]any)
	if !ok {
		return []server.FieldError{{Field: schema.BlocksField, Message: "must be a list"}}
	}

	var errs []server.FieldError
	for i, r := range list {
		path := fmt.Sprintf("%s[%d]", schema.BlocksField, i)
		entry, ok := r.(map[string]any)
		if !ok {
			errs = append(errs, server.FieldError{Field: path, Message: "must be an object"})
			continue
		}
		blockType, _ := entry["type"].(string)
		if blockType == "" {
			errs = append(errs, server.FieldError{Field: path + ".type", Message: "is required"})
			continue
		}
		if len(def.Options.AllowedBlocks) > 0 && !slices.Contains(def.Options.AllowedBlocks, blockType) {
			errs = append(errs, server.FieldError{Field: path + ".type", Message: fmt.Sprintf("block %q is not allowed here", blockType)})
			continue
		}
		blockEnt, err := s.Entity(schema.KindBlock, blockType)
		if err != nil {
			errs = append(errs, server.FieldError{Field: path + ".type", Message: fmt.Sprintf("unknown block %q", blockType)})
			continue
		}
		_, hasID := entry[schema.FieldID]
		errs = append(errs, validateFields(path+".", blockEnt.Definition.Fields, blockFields(entry), !hasID, itemKeys)...)
	}
	return errs
}

// blockFields returns a block entry without its placement keys.
func blockFields(entry map[string]any) map[string]any {
	fields := make(map[string]any, len(entry))
	for k, v := range entry {
		if k != "type" {
			fields[k] = v
		}
	}
	return fields
}

// collectScalars adds the column values of the scalar and single-relation
// fields present in data. On create, absent fields with a default get it.
func (s *Service) collectScalars(st *writeState, table *schema.Table, fields schema.Fields, data map[string]any, create bool, row *rowValues) error {
	for _, nf := range fields {
		if nf.Name == schema.FieldID || managedFields[nf.Name] {
			continue
		}

		var col database.ColumnType
		switch v := schema.Classify(nf.Name, nf.Field).(type) {
		case schema.ScalarField:
			col = v.Column
		case schema.RelationField:
			if v.ManyToMany {
				continue
			}
			col = database.ColumnText
		default:
			continue
		}

		raw, present := data[nf.Name]
		if !present {
			if !create || nf.Field.Default == nil {
				continue
			}
			raw = nf.Field.Default
		}

		val, err := coerceScalar(nf.Field, col, raw, st.d)
		if err != nil {
			return &ValidationError{Fields: []server.FieldError{{Field: nf.Name, Message: err.Error()}}}
		}
		if !table.HasColumn(nf.Name) {
			return &SchemaMismatchError{Table: table.Name, Column: nf.Name}
		}
		row.set(nf.Name, val)
	}
	return nil
}

// writeMainRow inserts or updates the entity row. Only keys present in the
// payload are written on update.
func (s *Service) writeMainRow(ctx context.Context, st *writeState, ent *schema.Entity, id string, payload Item, create bool) error {
	t := ent.Table
	row := &rowValues{}
	if err := s.collectScalars(st, t, ent.Definition.Fields, payload, create, row); err != nil {
		return err
	}

	if raw, ok := payload[schema.FieldParentID]; ok && t.HasColumn(schema.FieldParentID) {
		parentID, _ := relationID(raw)
		row.set(schema.FieldParentID, nullIfEmpty(parentID))
	}

	if create {
		row.set(schema.FieldID, id)
		if t.HasColumn(schema.FieldSlug) && isEmpty(row.get(schema.FieldSlug)) {
			if title, ok := payload[schema.FieldTitle].(string); ok && title != "" {
				row.set(schema.FieldSlug, slugify(title))
			}
		}
		if t.HasColumn(schema.FieldAuthor) && row.get(schema.FieldAuthor) == nil && st.userID != "" {
			row.set(schema.FieldAuthor, st.userID)
		}
		row.set(schema.FieldCreatedAt, st.now)
	}
	row.set(schema.FieldUpdatedAt, st.now)
	if t.HasColumn(schema.FieldLastModifiedBy) {
		row.set(schema.FieldLastModifiedBy, nullIfEmpty(st.userID))
	}

	if create {
		return st.insert(ctx, t.Name, row)
	}
	return st.update(ctx, t.Name, id, row)
}

// checkParent rejects a parent_id that is the item itself, does not exist
// or has the item among its ancestors.
func (s *Service) checkParent(ctx context.Context, st *writeState, ent *schema.Entity, id string, raw any) error {
	parentID, _ := relationID(raw)
	if parentID == "" {
		return nil
	}
	if parentID == id {
		return &IntegrityError{Field: schema.FieldParentID, Reference: parentID, Reason: "an item cannot be its own parent"}
	}

	seen := mapset.NewThreadUnsafeSet(parentID)
	current := parentID
	for range maxAncestors {
		p := st.d.NewParams()
		var next *string
		err := st.tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT parent_id FROM %s WHERE id = %s`, st.d.QuoteIdent(ent.Table.Name), p.Add(current)),
			p.Args()...,
		).Scan(&next)
		if errors.Is(err, database.ErrNoRows) {
			if current == parentID {
				return &IntegrityError{Field: schema.FieldParentID, Reference: parentID, Reason: "parent does not exist"}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("checking parent %q: %w", current, err)
		}
		if next == nil || *next == "" {
			return nil
		}
		if *next == id {
			return &IntegrityError{Field: schema.FieldParentID, Reference: parentID, Reason: "parent is a descendant of the item"}
		}
		if !seen.Add(*next) {
			return nil
		}
		current = *next
	}
	return nil
}

// writeFields persists the non-scalar fields present in data for the row
// ownerID of owner.
func (s *Service) writeFields(ctx context.Context, st *writeState, owner schema.Owner, fields schema.Fields, ownerID string, data map[string]any) error {
	for _, nf := range fields {
		raw, present := data[nf.Name]
		if !present {
			continue
		}

		var err error
		switch v := schema.Classify(nf.Name, nf.Field).(type) {
		case schema.FileField:
			err = s.writeFiles(ctx, st, owner.FileTable(v.Name), ownerID, raw)
		case schema.RelationField:
			if v.ManyToMany {
				err = s.writeJunction(ctx, st, owner.JunctionTable(v.Name), ownerID, raw)
			}
		case schema.ArrayField:
			err = s.writeArray(ctx, st, owner, v, ownerID, raw)
		case schema.TagsField:
			st.tagSets = append(st.tagSets, tagSet{ref: tagRef(owner, ownerID, v.Name), names: tagNames(raw)})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeFiles replaces the file relations of one owner row. An empty payload
// clears the field.
func (s *Service) writeFiles(ctx context.Context, st *writeState, table, ownerID string, raw any) error {
	if _, err := s.table(table); err != nil {
		return err
	}
	if err := st.deleteIn(ctx, table, schema.FileOwnerColumn, []string{ownerID}); err != nil {
		return err
	}

	for i, ref := range fileRefs(raw) {
		row := &rowValues{}
		row.set("id", uuid.NewString())
		row.set(schema.FileOwnerColumn, ownerID)
		row.set("file_id", ref.ID)
		row.set("sort", i)
		var alt any
		if ref.Alt != nil {
			alt = *ref.Alt
		}
		row.set("alt_override", alt)
		row.set("created_at", st.now)
		if err := st.insert(ctx, table, row); err != nil {
			return err
		}
	}
	return nil
}

// writeJunction replaces the many-to-many rows of one owner row.
func (s *Service) writeJunction(ctx context.Context, st *writeState, table, ownerID string, raw any) error {
	if _, err := s.table(table); err != nil {
		return err
	}
	if err := st.deleteIn(ctx, table, schema.JunctionOwnerColumn, []string{ownerID}); err != nil {
		return err
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	sort := 0
	for _, target := range relationIDs(raw) {
		if !seen.Add(target) {
			continue
		}
		row := &rowValues{}
		row.set("id", uuid.NewString())
		row.set(schema.JunctionOwnerColumn, ownerID)
		row.set("target_id", target)
		row.set("sort", sort)
		row.set("created_at", st.now)
		row.set("updated_at", st.now)
		if err := st.insert(ctx, table, row); err != nil {
			return err
		}
		sort++
	}
	return nil
}

// arrayWrite is one incoming array item or block entry matched against the
// stored rows.
type arrayWrite struct {
	id    string
	data  map[string]any
	isNew bool
}

// writeArray reconciles the items of an array field with the stored rows:
// rows whose id is missing from the payload are deleted with everything they
// own, kept rows are updated in place and the rest inserted. sort follows
// payload order. Nested arrays go through the same diff.
func (s *Service) writeArray(ctx context.Context, st *writeState, owner schema.Owner, v schema.ArrayField, ownerID string, raw any) error {
	child := owner.Child(v.Name)
	table, err := s.table(child.Table)
	if err != nil {
		return err
	}
	key := owner.ItemKey()

	existingIDs, err := st.ids(ctx, child.Table, key, []string{ownerID})
	if err != nil {
		return err
	}
	existing := mapset.NewThreadUnsafeSet(existingIDs...)

	list, _ := raw.([]any)
	keep := mapset.NewThreadUnsafeSet[string]()
	plan := make([]arrayWrite, 0, len(list))
	for _, r := range list {
		item, _ := r.(map[string]any)
		id := asString(item[schema.FieldID])
		if id != "" && existing.Contains(id) && keep.Add(id) {
			plan = append(plan, arrayWrite{id: id, data: item})
			continue
		}
		plan = append(plan, arrayWrite{id: uuid.NewString(), data: item, isNew: true})
	}

	removed := existing.Difference(keep).ToSlice()
	slices.Sort(removed)
	if len(removed) > 0 {
		if err := s.purge(ctx, st, child, v.Items, removed); err != nil {
			return err
		}
		if err := st.deleteIn(ctx, child.Table, "id", removed); err != nil {
			return err
		}
	}

	for i, w := range plan {
		row := &rowValues{}
		if err := s.collectScalars(st, table, v.Items, w.data, w.isNew, row); err != nil {
			return err
		}
		row.set(schema.FieldSort, i)
		row.set(schema.FieldUpdatedAt, st.now)

		if w.isNew {
			row.set(schema.FieldID, w.id)
			row.set(key, ownerID)
			row.set(schema.FieldCreatedAt, st.now)
			err = st.insert(ctx, child.Table, row)
		} else {
			err = st.update(ctx, child.Table, w.id, row)
		}
		if err != nil {
			return err
		}

		if err := s.writeFields(ctx, st, child, v.Items, w.id, w.data); err != nil {
			return err
		}
	}
	return nil
}

// placement is a stored block placement.
type placement struct {
	id        string
	blockType string
	blockID   string
}

// writeBlocks reconciles the blocks placed on a row like array items: block
// rows are matched by id and type, removed ones deleted with their data.
func (s *Service) writeBlocks(ctx context.Context, st *writeState, def schema.Definition, ownerID string, raw any) error {
	owner := def.Owner()
	bt := owner.BlockTable()
	if _, err := s.table(bt); err != nil {
		return err
	}

	existing, err := s.placements(ctx, st, owner, []string{ownerID})
	if err != nil {
		return err
	}
	byBlock := make(map[string]placement, len(existing))
	for _, pl := range existing {
		byBlock[pl.blockID] = pl
	}

	list, _ := raw.([]any)
	keep := mapset.NewThreadUnsafeSet[string]()
	plan := make([]arrayWrite, 0, len(list))
	for _, r := range list {
		entry, _ := r.(map[string]any)
		id := asString(entry[schema.FieldID])
		if pl, ok := byBlock[id]; ok && pl.blockType == asString(entry["type"]) && keep.Add(id) {
			plan = append(plan, arrayWrite{id: id, data: entry})
			continue
		}
		plan = append(plan, arrayWrite{id: uuid.NewString(), data: entry, isNew: true})
	}

	var removed []placement
	for _, pl := range existing {
		if !keep.Contains(pl.blockID) {
			removed = append(removed, pl)
		}
	}
	if err := s.removePlacements(ctx, st, bt, removed); err != nil {
		return err
	}

	for i, w := range plan {
		blockType := asString(w.data["type"])
		blockEnt, err := s.Entity(schema.KindBlock, blockType)
		if err != nil {
			return &SchemaMismatchError{Table: schema.TableName(schema.KindBlock, blockType)}
		}
		fields := blockFields(w.data)

		row := &rowValues{}
		if err := s.collectScalars(st, blockEnt.Table, blockEnt.Definition.Fields, fields, w.isNew, row); err != nil {
			return err
		}
		row.set(schema.FieldUpdatedAt, st.now)

		pl := &rowValues{}
		pl.set(schema.FieldSort, i)
		pl.set(schema.FieldUpdatedAt, st.now)

		if w.isNew {
			row.set(schema.FieldID, w.id)
			row.set(schema.FieldCreatedAt, st.now)
			if err := st.insert(ctx, blockEnt.Table.Name, row); err != nil {
				return err
			}
			pl.set(schema.FieldID, uuid.NewString())
			pl.set(owner.ItemKey(), ownerID)
			pl.set("block_type", blockType)
			pl.set("block_id", w.id)
			pl.set(schema.FieldCreatedAt, st.now)
			if err := st.insert(ctx, bt, pl); err != nil {
				return err
			}
		} else {
			if err := st.update(ctx, blockEnt.Table.Name, w.id, row); err != nil {
				return err
			}
			if err := st.update(ctx, bt, byBlock[w.id].id, pl); err != nil {
				return err
			}
		}

		if err := s.writeFields(ctx, st, blockEnt.Definition.Owner(), blockEnt.Definition.Fields, w.id, fields); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) placements(ctx context.Context, st *writeState, owner schema.Owner, ownerIDs []string) ([]placement, error) {
	p := st.d.NewParams()
	rows, err := st.tx.Query(ctx,
		fmt.Sprintf(`SELECT id, block_type, block_id FROM %s WHERE %s ORDER BY sort`,
			st.d.QuoteIdent(owner.BlockTable()), st.d.InExpr(st.d.QuoteIdent(owner.ItemKey()), p, ownerIDs)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting placements of %s: %w", owner.Table, err)
	}
	out := make([]placement, len(rows))
	for i, row := range rows {
		out[i] = placement{
			id:        asString(row["id"]),
			blockType: asString(row["block_type"]),
			blockID:   asString(row["block_id"]),
		}
	}
	return out, nil
}

// removePlacements deletes placements together with their block rows.
func (s *Service) removePlacements(ctx context.Context, st *writeState, table string, pls []placement) error {
	ids := make([]string, 0, len(pls))
	for _, pl := range pls {
		ids = append(ids, pl.id)
		blockEnt, err := s.Entity(schema.KindBlock, pl.blockType)
		if err != nil {
			s.logger.Warn("placed block type no longer exists, dropping placement", "type", pl.blockType, "id", pl.blockID)
			continue
		}
		if err := s.purge(ctx, st, blockEnt.Definition.Owner(), blockEnt.Definition.Fields, []string{pl.blockID}); err != nil {
			return err
		}
		if err := st.deleteIn(ctx, blockEnt.Table.Name, "id", []string{pl.blockID}); err != nil {
			return err
		}
	}
	return st.deleteIn(ctx, table, "id", ids)
}

// purge deletes everything owned by the rows ids of owner: file relations,
// junction rows and array items, recursively. The rows themselves are left
// to the caller. Their tags are dropped after commit.
func (s *Service) purge(ctx context.Context, st *writeState, owner schema.Owner, fields schema.Fields, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	for _, nf := range fields {
		var err error
		switch v := schema.Classify(nf.Name, nf.Field).(type) {
		case schema.FileField:
			err = st.deleteIn(ctx, owner.FileTable(v.Name), schema.FileOwnerColumn, ids)
		case schema.RelationField:
			if v.ManyToMany {
				err = st.deleteIn(ctx, owner.JunctionTable(v.Name), schema.JunctionOwnerColumn, ids)
			}
		case schema.ArrayField:
			child := owner.Child(v.Name)
			var childIDs []string
			childIDs, err = st.ids(ctx, child.Table, owner.ItemKey(), ids)
			if err == nil {
				err = s.purge(ctx, st, child, v.Items, childIDs)
			}
			if err == nil {
				err = st.deleteIn(ctx, child.Table, "id", childIDs)
			}
		case schema.TagsField:
			for _, id := range ids {
				st.tagDrops = append(st.tagDrops, tagRef(owner, id, ""))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// delete removes an item and everything it owns in one transaction.
func (s *Service) delete(ctx context.Context, ent *schema.Entity, id string) error {
	def := ent.Definition
	existing, err := s.fetchRow(ctx, s.db, ent.Table.Name, id)
	if err != nil {
		return err
	}
	if !s.authz.Can(ctx, access.ActionDelete, def.Kind, access.Resource{Entity: def.Slug, ID: id, Data: existing}) {
		return &PermissionError{Action: access.ActionDelete, Kind: def.Kind, Entity: def.Slug, ID: id}
	}

	st := &writeState{d: s.db.Dialect(), now: time.Now().UTC(), userID: access.UserID(ctx)}
	err = s.db.InTx(ctx, func(tx *database.Tx) error {
		st.tx = tx
		owner := def.Owner()

		if err := s.purge(ctx, st, owner, def.Fields, []string{id}); err != nil {
			return err
		}
		if def.Options.Blocks {
			pls, err := s.placements(ctx, st, owner, []string{id})
			if err != nil {
				return err
			}
			if err := s.removePlacements(ctx, st, owner.BlockTable(), pls); err != nil {
				return err
			}
		}

		if def.Options.Nestable {
			p := st.d.NewParams()
			_, err := tx.Exec(ctx,
				fmt.Sprintf(`UPDATE %s SET parent_id = %s, updated_at = %s WHERE parent_id = %s`,
					st.d.QuoteIdent(ent.Table.Name),
					p.Add(nullIfEmpty(asString(existing[schema.FieldParentID]))), p.Add(st.now), p.Add(id)),
				p.Args()...,
			)
			if err != nil {
				return fmt.Errorf("reassigning children of %q: %w", id, err)
			}
		}

		p := st.d.NewParams()
		n, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, st.d.QuoteIdent(ent.Table.Name), p.Add(id)),
			p.Args()...,
		)
		if err != nil {
			return fmt.Errorf("deleting %q: %w", id, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, st)
	s.logAudit(ctx, audit.Event{
		Action:     "content.delete",
		ActorID:    st.userID,
		Resource:   string(def.Kind) + "/" + def.Slug,
		ResourceID: id,
	})
	s.logger.Info("content deleted", "kind", def.Kind, "slug", def.Slug, "id", id)
	return nil
}

// afterCommit applies the tag changes collected during a transaction. They
// run on their own connection; failures leave the tags stale and are logged.
func (s *Service) afterCommit(ctx context.Context, st *writeState) {
	if s.tags == nil {
		return
	}
	for _, ts := range st.tagSets {
		if err := s.tags.Set(ctx, ts.ref, ts.names); err != nil {
			s.logger.Error("saving tags failed", "kind", ts.ref.Kind, "entity", ts.ref.Entity,
				"id", ts.ref.ID, "field", ts.ref.Field, "error", err)
		}
	}
	for _, ref := range st.tagDrops {
		if err := s.tags.DeleteEntity(ctx, ref.Kind, ref.Entity, ref.ID); err != nil {
			s.logger.Error("dropping tags failed", "kind", ref.Kind, "entity", ref.Entity, "id", ref.ID, "error", err)
		}
	}
}

func (st *writeState) insert(ctx context.Context, table string, row *rowValues) error {
	p := st.d.NewParams()
	cols := make([]string, len(row.cols))
	placeholders := make([]string, len(row.cols))
	for i, c := range row.cols {
		cols[i] = st.d.QuoteIdent(c)
		placeholders[i] = p.Add(row.vals[i])
	}
	_, err := st.tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			st.d.QuoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func (st *writeState) update(ctx context.Context, table, id string, row *rowValues) error {
	if len(row.cols) == 0 {
		return nil
	}
	p := st.d.NewParams()
	sets := make([]string, len(row.cols))
	for i, c := range row.cols {
		sets[i] = st.d.QuoteIdent(c) + " = " + p.Add(row.vals[i])
	}
	_, err := st.tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = %s`, st.d.QuoteIdent(table), strings.Join(sets, ", "), p.Add(id)),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("updating %s row %q: %w", table, id, err)
	}
	return nil
}

func (st *writeState) deleteIn(ctx context.Context, table, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	p := st.d.NewParams()
	_, err := st.tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s`, st.d.QuoteIdent(table), st.d.InExpr(st.d.QuoteIdent(column), p, values)),
		p.Args()...,
	)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// ids returns the ids of the rows of table whose key is one of ownerIDs.
func (st *writeState) ids(ctx context.Context, table, key string, ownerIDs []string) ([]string, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	p := st.d.NewParams()
	rows, err := st.tx.Query(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s`, st.d.QuoteIdent(table), st.d.InExpr(st.d.QuoteIdent(key), p, ownerIDs)),
		p.Args()...,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting ids from %s: %w", table, err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = asString(row["id"])
	}
	return ids, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
