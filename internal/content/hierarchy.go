package content

import (
	"context"
	"path"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

// Breadcrumb is one step of the path from the root of a hierarchy to an item.
type Breadcrumb struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
	URL   string `json:"url"`
}

// Breadcrumbs returns the path to item, root first and item last. URLs are
// built from the entity's base_path and each step's slug, falling back to
// the id for rows without one.
func (s *Service) Breadcrumbs(ctx context.Context, kind schema.Kind, slug string, item Item) []Breadcrumb {
	ent, err := s.Entity(kind, slug)
	if err != nil || item == nil {
		return []Breadcrumb{}
	}

	chain := append(s.ancestors(ctx, ent, item), item)
	crumbs := make([]Breadcrumb, 0, len(chain))
	url := path.Join("/", ent.Definition.Options.BasePath)
	for _, row := range chain {
		segment := asString(row[schema.FieldSlug])
		if segment == "" {
			segment = asString(row[schema.FieldID])
		}
		url = path.Join(url, segment)
		crumbs = append(crumbs, Breadcrumb{
			ID:    asString(row[schema.FieldID]),
			Title: asString(row[schema.FieldTitle]),
			Slug:  asString(row[schema.FieldSlug]),
			URL:   url,
		})
	}
	return crumbs
}

// ItemURL returns the public URL of item.
func (s *Service) ItemURL(ctx context.Context, kind schema.Kind, slug string, item Item) string {
	crumbs := s.Breadcrumbs(ctx, kind, slug, item)
	if len(crumbs) == 0 {
		return ""
	}
	return crumbs[len(crumbs)-1].URL
}

// ancestors walks parent_id upwards from item and returns the ancestors
// root first. The walk stops at a missing row or a cycle.
func (s *Service) ancestors(ctx context.Context, ent *schema.Entity, item Item) []Item {
	if !ent.Table.HasColumn(schema.FieldParentID) {
		return nil
	}

	var chain []Item
	seen := mapset.NewThreadUnsafeSet(asString(item[schema.FieldID]))
	parentID := asString(item[schema.FieldParentID])
	for range maxAncestors {
		if parentID == "" || !seen.Add(parentID) {
			break
		}
		row, err := s.fetchRow(ctx, s.db, ent.Table.Name, parentID)
		if err != nil {
			s.logger.Warn("walking ancestors failed", "table", ent.Table.Name, "id", parentID, "error", err)
			break
		}
		chain = append(chain, row)
		parentID = asString(row[schema.FieldParentID])
	}
	slices.Reverse(chain)
	return chain
}
