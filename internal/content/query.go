package content

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/search"
	"github.com/GyroZepelix/mithril-engine/internal/server"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

// Status filters accepted by list and detail queries. Collections store the
// other statuses (draft, published, archived) directly.
const (
	StatusAll = "all"
)

// RelatedFilter keeps items whose Field references Value. Value matches the
// target's id or slug for relations and the tag name for tags fields.
type RelatedFilter struct {
	Field string
	Value string
}

// ListOptions controls GetItems.
type ListOptions struct {
	// Status filters collections by status. Empty means published; "all"
	// disables the filter.
	Status string
	// Limit caps the page size. Zero returns every item and ignores
	// Offset.
	Limit  int
	Offset int
	// CurrentPage, when positive, overrides Offset with (page-1)*Limit.
	CurrentPage int
	// OrderBy is a column of the main table; Order is "asc" or "desc".
	OrderBy string
	Order   string
	// GroupBy buckets the page by a field's value. Multi-valued fields put
	// an item into every group it has a value for.
	GroupBy string
	// ParentID keeps the children of one item; a pointer to "" keeps
	// top-level items.
	ParentID *string
	// SiblingOf keeps the items sharing the parent of the referenced item
	// (id or slug). ExcludeCurrent drops the referenced item itself.
	SiblingOf      string
	ExcludeCurrent bool
	WhereRelated   *RelatedFilter
	// Search keeps items whose text fields contain the term.
	Search string
	// AccessPredicate is AND-ed into the query as supplied.
	AccessPredicate *database.Predicate
}

// ListResult is the shape returned by GetItems.
type ListResult struct {
	Items      []Item                 `json:"items"`
	Total      int                    `json:"total"`
	HasMore    bool                   `json:"hasMore"`
	Pagination *server.PaginationMeta `json:"pagination,omitempty"`
	Grouped    map[string][]Item      `json:"grouped,omitempty"`
}

// ItemQuery selects one item by id or slug. Flat globals need neither.
type ItemQuery struct {
	ID              string
	Slug            string
	Status          string
	AccessPredicate *database.Predicate
}

// GetItems lists the items of an entity. Errors are logged and produce an
// empty result.
func (s *Service) GetItems(ctx context.Context, kind schema.Kind, slug string, opts ListOptions) ListResult {
	res, err := s.list(ctx, kind, slug, opts)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("listing content failed", "kind", kind, "slug", slug, "error", err)
		}
		return ListResult{Items: []Item{}}
	}
	return res
}

// GetItem returns one hydrated item, or nil when it does not exist or the
// lookup fails.
func (s *Service) GetItem(ctx context.Context, kind schema.Kind, slug string, q ItemQuery) Item {
	item, err := s.get(ctx, kind, slug, q)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("loading content failed", "kind", kind, "slug", slug, "id", q.ID, "ref", q.Slug, "error", err)
		}
		return nil
	}
	return item
}

// TagCloud returns the tags used by an entity with their counts.
func (s *Service) TagCloud(ctx context.Context, kind schema.Kind, slug string) []tags.Tag {
	if s.tags == nil {
		return []tags.Tag{}
	}
	out, err := s.tags.All(ctx, string(kind), slug)
	if err != nil {
		s.logger.Warn("listing tags failed", "kind", kind, "slug", slug, "error", err)
		return []tags.Tag{}
	}
	return out
}

func (s *Service) list(ctx context.Context, kind schema.Kind, slug string, opts ListOptions) (ListResult, error) {
	ent, err := s.Entity(kind, slug)
	if err != nil {
		return ListResult{}, err
	}

	d := s.db.Dialect()
	table := d.QuoteIdent(ent.Table.Name)
	p := d.NewParams()

	where, err := s.listWhere(ctx, ent, opts, p)
	if err != nil {
		return ListResult{}, err
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	countArgs := slices.Clone(p.Args())
	var total int64
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, table, whereSQL), countArgs...,
	).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("counting %s: %w", ent.Table.Name, err)
	}

	order, err := listOrder(ent.Table, d, opts)
	if err != nil {
		return ListResult{}, err
	}

	limit, offset := opts.Limit, 0
	query := fmt.Sprintf(`SELECT %s.* FROM %s%s ORDER BY %s`, table, table, whereSQL, order)
	if limit > 0 {
		offset = opts.Offset
		if opts.CurrentPage > 0 {
			offset = (opts.CurrentPage - 1) * limit
		}
		query += fmt.Sprintf(` LIMIT %s OFFSET %s`, p.Add(limit), p.Add(offset))
	}

	rows, err := s.db.Query(ctx, query, p.Args()...)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing %s: %w", ent.Table.Name, err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		s.hydrateEntity(ctx, s.db, ent.Definition, row, 0)
		items = append(items, row)
	}

	res := ListResult{
		Items:   items,
		Total:   int(total),
		HasMore: offset+len(items) < int(total),
	}
	if limit > 0 {
		meta := server.NewPaginationMeta(offset/limit+1, limit, int(total))
		res.Pagination = &meta
	}
	if opts.GroupBy != "" {
		res.Grouped = groupItems(items, opts.GroupBy)
	}
	return res, nil
}

// listWhere builds the WHERE clauses of a list query.
func (s *Service) listWhere(ctx context.Context, ent *schema.Entity, opts ListOptions, p *database.Params) ([]string, error) {
	d := s.db.Dialect()
	t := ent.Table
	col := func(name string) string { return d.QuoteIdent(t.Name) + "." + d.QuoteIdent(name) }
	needColumn := func(name string) error {
		if !t.HasColumn(name) {
			return &SchemaMismatchError{Table: t.Name, Column: name}
		}
		return nil
	}

	var where []string

	if ent.Definition.HasStatus() {
		status := opts.Status
		if status == "" {
			status = schema.StatusPublished
		}
		switch status {
		case StatusAll:
		case schema.StatusPublished, schema.StatusDraft, schema.StatusArchived:
			where = append(where, col(schema.FieldStatus)+" = "+p.Add(status))
		default:
			return nil, fmt.Errorf("invalid status filter %q", status)
		}
	}

	if opts.ParentID != nil {
		if err := needColumn(schema.FieldParentID); err != nil {
			return nil, err
		}
		where = append(where, parentClause(col(schema.FieldParentID), *opts.ParentID, p))
	}

	if opts.SiblingOf != "" {
		if err := needColumn(schema.FieldParentID); err != nil {
			return nil, err
		}
		refID, parentID, err := s.parentOf(ctx, ent, opts.SiblingOf)
		if err != nil {
			return nil, err
		}
		where = append(where, parentClause(col(schema.FieldParentID), parentID, p))
		if opts.ExcludeCurrent {
			where = append(where, col(schema.FieldID)+" <> "+p.Add(refID))
		}
	}

	if opts.WhereRelated != nil {
		clause, err := s.relatedClause(ent, *opts.WhereRelated, p)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
	}

	if opts.Search != "" {
		if clause := search.Clause(d, p, t.Name, search.Columns(ent), opts.Search); clause != "" {
			where = append(where, clause)
		}
	}

	if opts.AccessPredicate != nil {
		clause, err := opts.AccessPredicate.Render(p)
		if err != nil {
			return nil, fmt.Errorf("rendering access predicate: %w", err)
		}
		where = append(where, clause)
	}

	return where, nil
}

func parentClause(column, parentID string, p *database.Params) string {
	if parentID == "" {
		return column + " IS NULL"
	}
	return column + " = " + p.Add(parentID)
}

// parentOf looks up an item by id or slug and returns its id and parent_id.
func (s *Service) parentOf(ctx context.Context, ent *schema.Entity, ref string) (id, parentID string, err error) {
	d := s.db.Dialect()
	p := d.NewParams()
	match := "id = " + p.Add(ref)
	if ent.Table.HasColumn(schema.FieldSlug) {
		match += " OR slug = " + p.Add(ref)
	}

	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT id, parent_id FROM %s WHERE %s LIMIT 1`, d.QuoteIdent(ent.Table.Name), match),
		p.Args()...,
	)
	if err != nil {
		return "", "", fmt.Errorf("looking up %q: %w", ref, err)
	}
	if len(rows) == 0 {
		return "", "", ErrNotFound
	}
	return asString(rows[0]["id"]), asString(rows[0]["parent_id"]), nil
}

// relatedClause filters owner rows through a relation, a tags field or a
// scalar column.
func (s *Service) relatedClause(ent *schema.Entity, f RelatedFilter, p *database.Params) (string, error) {
	d := s.db.Dialect()
	def := ent.Definition
	field, ok := def.Fields.Get(f.Field)
	if !ok {
		return "", fmt.Errorf("unknown related field %q", f.Field)
	}
	idCol := d.QuoteIdent(ent.Table.Name) + "." + d.QuoteIdent(schema.FieldID)

	switch v := schema.Classify(f.Field, field).(type) {
	case schema.RelationField:
		target, err := s.table(schema.TableName(v.TargetKind, v.TargetSlug))
		if err != nil {
			return "", err
		}
		match := "r.id = " + p.Add(f.Value)
		if target.HasColumn(schema.FieldSlug) {
			match = "(" + match + " OR r.slug = " + p.Add(f.Value) + ")"
		}
		if v.ManyToMany {
			jt := def.Owner().JunctionTable(v.Name)
			if _, err := s.table(jt); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s IN (SELECT j.%s FROM %s j JOIN %s r ON r.id = j.target_id WHERE %s)",
				idCol, schema.JunctionOwnerColumn, d.QuoteIdent(jt), d.QuoteIdent(target.Name), match), nil
		}
		return fmt.Sprintf("%s.%s IN (SELECT r.id FROM %s r WHERE %s)",
			d.QuoteIdent(ent.Table.Name), d.QuoteIdent(v.Name), d.QuoteIdent(target.Name), match), nil

	case schema.TagsField:
		return fmt.Sprintf(`%s IN (SELECT et.entity_id FROM entity_tags et JOIN tags tg ON tg.id = et.tag_id
			 WHERE et.entity_kind = %s AND et.entity_slug = %s AND et.field = %s AND tg.name = %s)`,
			idCol, p.Add(string(def.Kind)), p.Add(def.Slug), p.Add(v.Name), p.Add(f.Value)), nil

	case schema.ScalarField:
		if !ent.Table.HasColumn(v.Name) {
			return "", &SchemaMismatchError{Table: ent.Table.Name, Column: v.Name}
		}
		val, err := coerceScalar(v.Field, v.Column, f.Value, d)
		if err != nil {
			return "", fmt.Errorf("filtering on %s: %w", v.Name, err)
		}
		return d.QuoteIdent(ent.Table.Name) + "." + d.QuoteIdent(v.Name) + " = " + p.Add(val), nil
	}

	return "", fmt.Errorf("field %q cannot be used as a related filter", f.Field)
}

// listOrder returns the ORDER BY expression. The id tiebreak keeps pages
// stable.
func listOrder(t *schema.Table, d database.Dialect, opts ListOptions) (string, error) {
	col := func(name string) string { return d.QuoteIdent(t.Name) + "." + d.QuoteIdent(name) }

	dir := "ASC"
	switch strings.ToLower(opts.Order) {
	case "", "asc":
	case "desc":
		dir = "DESC"
	default:
		return "", fmt.Errorf("order must be 'asc' or 'desc'")
	}

	var order string
	switch {
	case opts.OrderBy != "":
		if !t.HasColumn(opts.OrderBy) {
			return "", fmt.Errorf("invalid order field %q", opts.OrderBy)
		}
		order = col(opts.OrderBy) + " " + dir
	case t.HasColumn(schema.FieldSort):
		order = col(schema.FieldSort) + " ASC, " + col(schema.FieldCreatedAt) + " DESC"
	default:
		order = col(schema.FieldCreatedAt) + " DESC"
	}
	return order + ", " + col(schema.FieldID) + " ASC", nil
}

func (s *Service) get(ctx context.Context, kind schema.Kind, slug string, q ItemQuery) (Item, error) {
	ent, err := s.Entity(kind, slug)
	if err != nil {
		return nil, err
	}

	d := s.db.Dialect()
	t := ent.Table
	p := d.NewParams()
	var where []string

	switch {
	case q.ID != "":
		where = append(where, "id = "+p.Add(q.ID))
	case q.Slug != "" && t.HasColumn(schema.FieldSlug):
		where = append(where, "slug = "+p.Add(q.Slug))
	case !ent.Definition.IsFlat():
		return nil, ErrNotFound
	}

	if ent.Definition.HasStatus() && q.Status != "" && q.Status != StatusAll {
		where = append(where, "status = "+p.Add(q.Status))
	}
	if q.AccessPredicate != nil {
		clause, err := q.AccessPredicate.Render(p)
		if err != nil {
			return nil, fmt.Errorf("rendering access predicate: %w", err)
		}
		where = append(where, clause)
	}

	query := fmt.Sprintf(`SELECT * FROM %s`, d.QuoteIdent(t.Name))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at LIMIT 1"

	rows, err := s.db.Query(ctx, query, p.Args()...)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", t.Name, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	item := rows[0]
	s.hydrateEntity(ctx, s.db, ent.Definition, item, 0)
	return item, nil
}

// groupItems buckets items by the value of field. An item appears once per
// distinct value.
func groupItems(items []Item, field string) map[string][]Item {
	grouped := make(map[string][]Item)
	for _, item := range items {
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, key := range groupKeys(item[field]) {
			if seen.Add(key) {
				grouped[key] = append(grouped[key], item)
			}
		}
	}
	return grouped
}

func groupKeys(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{""}
	case []string:
		if len(x) == 0 {
			return []string{""}
		}
		return x
	case []any:
		var keys []string
		for _, e := range x {
			keys = append(keys, groupKeys(e)...)
		}
		if len(keys) == 0 {
			return []string{""}
		}
		return keys
	case []Item:
		var keys []string
		for _, e := range x {
			keys = append(keys, groupKeys(e)...)
		}
		if len(keys) == 0 {
			return []string{""}
		}
		return keys
	case Item:
		if slug := asString(x[schema.FieldSlug]); slug != "" {
			return []string{slug}
		}
		return []string{asString(x[schema.FieldID])}
	case *media.File:
		return []string{x.ID}
	default:
		return []string{asString(x)}
	}
}
