package content

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/search"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ParseListOptions extracts and validates list query parameters from the
// request URL against the entity's definition and table:
//
//	page, per_page        pagination (per_page capped at 100)
//	sort, order           a column of the main table, asc or desc
//	status                draft, published, archived or all
//	parent                children of an item id; "root" for top-level items
//	sibling_of            items sharing the parent of an id or slug
//	exclude_current       drop the sibling_of item itself
//	group_by              a field to bucket the page by
//	filter[field]=value   a related, tags or scalar filter (one per request)
//	q                     free-text search over the text fields
func ParseListOptions(r *http.Request, ent *schema.Entity) (ListOptions, error) {
	opts := ListOptions{
		CurrentPage: 1,
		Limit:       defaultPerPage,
	}
	query := r.URL.Query()

	if v := query.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return opts, fmt.Errorf("page must be a positive integer")
		}
		opts.CurrentPage = page
	}

	if v := query.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage < 1 {
			return opts, fmt.Errorf("per_page must be a positive integer")
		}
		opts.Limit = min(perPage, maxPerPage)
	}

	if v := query.Get("sort"); v != "" {
		if !ent.Table.HasColumn(v) {
			return opts, fmt.Errorf("invalid sort field: %s", v)
		}
		opts.OrderBy = v
	}

	if v := query.Get("order"); v != "" {
		lower := strings.ToLower(v)
		if lower != "asc" && lower != "desc" {
			return opts, fmt.Errorf("order must be 'asc' or 'desc'")
		}
		opts.Order = lower
	}

	if v := query.Get("status"); v != "" {
		switch v {
		case schema.StatusDraft, schema.StatusPublished, schema.StatusArchived, StatusAll:
			opts.Status = v
		default:
			return opts, fmt.Errorf("invalid status: %s", v)
		}
	}

	nestable := ent.Table.HasColumn(schema.FieldParentID)
	if query.Has("parent") {
		if !nestable {
			return opts, fmt.Errorf("parent filter requires a nestable entity")
		}
		parent := query.Get("parent")
		if parent == "root" {
			parent = ""
		}
		opts.ParentID = &parent
	}

	if v := query.Get("sibling_of"); v != "" {
		if !nestable {
			return opts, fmt.Errorf("sibling_of requires a nestable entity")
		}
		opts.SiblingOf = v
	}

	if v := query.Get("exclude_current"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("exclude_current must be a boolean")
		}
		opts.ExcludeCurrent = b
	}

	if v := query.Get("group_by"); v != "" {
		if _, ok := ent.Definition.Fields.Get(v); !ok {
			return opts, fmt.Errorf("invalid group_by field: %s", v)
		}
		opts.GroupBy = v
	}

	if v := strings.TrimSpace(query.Get("q")); v != "" {
		if len(search.Columns(ent)) == 0 {
			return opts, fmt.Errorf("%s has no searchable fields", ent.Definition.Slug)
		}
		opts.Search = v
	}

	for key, values := range query {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		fieldName := key[len("filter[") : len(key)-1]
		if _, ok := ent.Definition.Fields.Get(fieldName); !ok {
			return opts, fmt.Errorf("invalid filter field: %s", fieldName)
		}
		if opts.WhereRelated != nil {
			return opts, fmt.Errorf("only one filter is supported")
		}
		if len(values) > 0 {
			opts.WhereRelated = &RelatedFilter{Field: fieldName, Value: values[0]}
		}
	}

	return opts, nil
}
