package schema

import "log/slog"

// Core field names managed by the engine.
const (
	FieldID             = "id"
	FieldTitle          = "title"
	FieldSlug           = "slug"
	FieldStatus         = "status"
	FieldParentID       = "parent_id"
	FieldAuthor         = "author"
	FieldLastModifiedBy = "last_modified_by"
	FieldSort           = "sort"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldSEOTitle       = "seo_title"
	FieldSEODescription = "seo_description"
	FieldSEOImage       = "seo_image"
)

// Statuses of collection rows.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

func coreField(t FieldType, label string) Field {
	return Field{Type: t, Label: label, Core: true}
}

// coreFields returns the kind's core fields split into the ones placed
// before and after the user's fields.
func coreFields(d Definition) (leading, trailing Fields) {
	leading = Fields{{Name: FieldID, Field: coreField(FieldTypeText, "ID")}}

	switch {
	case d.Kind == KindCollection:
		title := coreField(FieldTypeText, "Title")
		title.Required = true
		status := coreField(FieldTypeSelect, "Status")
		status.Options = []string{StatusDraft, StatusPublished, StatusArchived}
		status.Default = StatusDraft

		leading = append(leading,
			NamedField{Name: FieldTitle, Field: title},
			NamedField{Name: FieldSlug, Field: coreField(FieldTypeSlug, "Slug")},
			NamedField{Name: FieldStatus, Field: status},
		)
		if d.Options.Nestable {
			leading = append(leading, NamedField{Name: FieldParentID, Field: coreField(FieldTypeText, "Parent")})
		}
		trailing = append(trailing, auditFields()...)
	case d.Kind == KindGlobal && !d.IsFlat():
		leading = append(leading, NamedField{Name: FieldTitle, Field: coreField(FieldTypeText, "Title")})
		trailing = append(trailing, auditFields()...)
	case d.IsFlat():
		trailing = append(trailing, NamedField{Name: FieldLastModifiedBy, Field: coreField(FieldTypeText, "Last modified by")})
	}

	if d.Options.SEO {
		trailing = append(trailing,
			NamedField{Name: FieldSEOTitle, Field: coreField(FieldTypeText, "SEO title")},
			NamedField{Name: FieldSEODescription, Field: coreField(FieldTypeTextarea, "SEO description")},
			NamedField{Name: FieldSEOImage, Field: coreField(FieldTypeText, "SEO image")},
		)
	}

	trailing = append(trailing,
		NamedField{Name: FieldCreatedAt, Field: coreField(FieldTypeDatetime, "Created at")},
		NamedField{Name: FieldUpdatedAt, Field: coreField(FieldTypeDatetime, "Updated at")},
	)
	return leading, trailing
}

func auditFields() Fields {
	sortField := coreField(FieldTypeInteger, "Sort")
	sortField.Default = 0
	return Fields{
		{Name: FieldAuthor, Field: coreField(FieldTypeText, "Author")},
		{Name: FieldLastModifiedBy, Field: coreField(FieldTypeText, "Last modified by")},
		{Name: FieldSort, Field: sortField},
	}
}

// MergeCoreFields returns d with its kind's core fields merged into the user
// fields. Core fields come first (id, title, slug, status, parent), then the
// user's fields in declaration order, then audit fields and timestamps.
//
// A user field sharing a core field's name and declaring override: true
// customizes the core field's label, validation, options and default while
// the core flag and type are kept. Without override the user field replaces
// the core field outright; this is legacy behavior and is logged as
// deprecated. Fields already marked core (a merged schema read back from the
// registry) are kept as they are, so merging is idempotent.
func MergeCoreFields(d Definition, logger *slog.Logger) Definition {
	if logger == nil {
		logger = slog.Default()
	}

	leading, trailing := coreFields(d)
	isCore := make(map[string]bool, len(leading)+len(trailing))
	for _, nf := range leading {
		isCore[nf.Name] = true
	}
	for _, nf := range trailing {
		isCore[nf.Name] = true
	}

	resolve := func(core NamedField) NamedField {
		user, ok := d.Fields.Get(core.Name)
		if !ok {
			return core
		}
		switch {
		case user.Core:
			return NamedField{Name: core.Name, Field: user}
		case user.Override:
			merged := core.Field
			if user.Label != "" {
				merged.Label = user.Label
			}
			merged.Required = user.Required
			if user.Default != nil {
				merged.Default = user.Default
			}
			if len(user.Options) > 0 && merged.Type.IsChoice() {
				merged.Options = user.Options
			}
			merged.MinLength, merged.MaxLength = user.MinLength, user.MaxLength
			merged.Min, merged.Max = user.Min, user.Max
			merged.Regex = user.Regex
			merged.Override = true
			return NamedField{Name: core.Name, Field: merged}
		default:
			logger.Warn("user field replaces core field without override",
				"kind", d.Kind,
				"slug", d.Slug,
				"field", core.Name,
				"deprecated", true,
			)
			replaced := user
			replaced.Core = true
			return NamedField{Name: core.Name, Field: replaced}
		}
	}

	out := make(Fields, 0, len(leading)+len(d.Fields)+len(trailing))
	for _, nf := range leading {
		out = append(out, resolve(nf))
	}
	for _, nf := range d.Fields {
		if !isCore[nf.Name] {
			out = append(out, nf)
		}
	}
	for _, nf := range trailing {
		out = append(out, resolve(nf))
	}

	merged := d
	merged.Fields = out
	return merged
}
