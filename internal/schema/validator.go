package schema

import (
	"fmt"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// namePattern matches valid slugs and field names: lowercase letter
// followed by lowercase letters, digits, or underscores.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedWords are SQL keywords refused as slugs and field names.
var reservedWords = mapset.NewSet(strings.Fields(`
	select insert update delete drop table create alter index
	where from join order group having limit offset union distinct
	and or not null true false in between like is exists
	case when then else end as on into values set
	primary foreign key check default grant revoke cascade trigger
	begin commit rollback
`)...)

// itemColumns are the bookkeeping columns of every array table.
var itemColumns = mapset.NewSet(
	FieldID, "sort", "created_at", "updated_at",
	"parent_id", "collection_id", "global_id", "block_id",
)

// BlocksField is the payload key holding an entity's placed blocks.
const BlocksField = "blocks"

// maxSlugLength is the maximum length for a slug. PostgreSQL identifiers are
// limited to 63 bytes and main tables are named "collection_{slug}".
const maxSlugLength = 52

// maxFieldNameLength is the maximum length for a field name.
const maxFieldNameLength = 63

// maxIdentifierLength is the PostgreSQL identifier limit applied to every
// generated table name.
const maxIdentifierLength = 63

// DefinitionError holds every problem found in a set of definitions. It is
// returned at load time and at generation time; generation never emits a
// partial schema alongside it.
type DefinitionError struct {
	Problems []string
}

// Error returns a human-readable summary of all definition problems.
func (e *DefinitionError) Error() string {
	return fmt.Sprintf("definition validation failed with %d problem(s):\n- %s",
		len(e.Problems), strings.Join(e.Problems, "\n- "))
}

// ValidSlug reports whether s is safe to use as a slug or identifier part.
func ValidSlug(s string) bool {
	return namePattern.MatchString(s) && !reservedWords.Contains(s)
}

// ValidateDefinitions validates all definitions together. It returns a
// DefinitionError listing ALL problems found, or nil if every definition is
// valid. References between definitions are checked by Generate.
func ValidateDefinitions(defs []Definition) error {
	var allErrors []string

	type key struct {
		kind Kind
		slug string
	}
	count := make(map[key]int, len(defs))
	for _, d := range defs {
		count[key{d.Kind, d.Slug}]++
	}
	for k, n := range count {
		if n > 1 && k.slug != "" {
			allErrors = append(allErrors, fmt.Sprintf("%s slug %q is defined %d times", k.kind, k.slug, n))
		}
	}

	for _, d := range defs {
		for _, msg := range validateDefinition(d) {
			allErrors = append(allErrors, fmt.Sprintf("%s %q: %s", d.Kind, d.Slug, msg))
		}
	}

	if len(allErrors) == 0 {
		return nil
	}
	return &DefinitionError{Problems: allErrors}
}

// validateDefinition validates a single definition and returns a list of
// problem messages.
func validateDefinition(d Definition) []string {
	var problems []string

	if !d.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("kind must be collection, global or block, got %q", d.Kind))
	}

	switch {
	case d.Slug == "":
		problems = append(problems, "slug is required")
	case !namePattern.MatchString(d.Slug):
		problems = append(problems, "slug must match ^[a-z][a-z0-9_]*$")
	case reservedWords.Contains(d.Slug):
		problems = append(problems, fmt.Sprintf("slug %q is a reserved SQL keyword", d.Slug))
	case len(d.Slug) > maxSlugLength:
		problems = append(problems, fmt.Sprintf("slug must be at most %d characters (got %d)", maxSlugLength, len(d.Slug)))
	}

	if d.Name.Singular == "" {
		problems = append(problems, "name.singular is required")
	}

	problems = append(problems, validateOptions(d)...)

	if len(d.Fields) == 0 {
		problems = append(problems, "at least one field is required")
		return problems
	}

	if d.Options.Blocks {
		if _, ok := d.Fields.Get(BlocksField); ok {
			problems = append(problems, fmt.Sprintf("field %q is reserved when blocks are enabled", BlocksField))
		}
	}

	problems = append(problems, validateFields("", d.Fields, false)...)
	return problems
}

func validateOptions(d Definition) []string {
	var problems []string
	o := d.Options

	if o.DataShape != "" {
		if d.Kind != KindGlobal {
			problems = append(problems, "options.data_shape is only valid on globals")
		} else if o.DataShape != DataShapeFlat && o.DataShape != DataShapeRepeatable && o.DataShape != DataShapeRelational {
			problems = append(problems, fmt.Sprintf("options.data_shape must be flat, repeatable or relational, got %q", o.DataShape))
		}
	}
	if o.Nestable && d.Kind != KindCollection {
		problems = append(problems, "options.nestable is only valid on collections")
	}
	if o.Blocks && d.Kind == KindBlock {
		problems = append(problems, "options.blocks is not valid on blocks")
	}
	if len(o.AllowedBlocks) > 0 && !o.Blocks {
		problems = append(problems, "options.allowed_blocks requires options.blocks")
	}
	if o.BasePath != "" && !strings.HasPrefix(o.BasePath, "/") {
		problems = append(problems, "options.base_path must start with \"/\"")
	}
	return problems
}

// validateFields validates a field mapping. Item fields of object arrays are
// validated recursively with the item column names reserved.
func validateFields(path string, fields Fields, inItem bool) []string {
	var problems []string

	for i, nf := range fields {
		name, f := nf.Name, nf.Field
		prefix := fmt.Sprintf("field %s%s", path, name)
		if name == "" {
			prefix = fmt.Sprintf("field %s[%d]", path, i)
		}

		switch {
		case name == "":
			problems = append(problems, prefix+": name is required")
		case !namePattern.MatchString(name):
			problems = append(problems, prefix+": name must match ^[a-z][a-z0-9_]*$")
		case len(name) > maxFieldNameLength:
			problems = append(problems, fmt.Sprintf("%s: name must be at most %d characters (got %d)", prefix, maxFieldNameLength, len(name)))
		case reservedWords.Contains(name):
			problems = append(problems, fmt.Sprintf("%s: name %q is a reserved SQL keyword", prefix, name))
		case inItem && itemColumns.Contains(name):
			problems = append(problems, fmt.Sprintf("%s: name %q is a reserved item column name", prefix, name))
		}

		if !validFieldTypes[f.Type] {
			problems = append(problems, fmt.Sprintf("%s: invalid field type %q", prefix, f.Type))
			continue
		}

		problems = append(problems, validateConstraints(prefix, f)...)

		if inItem && f.Type == FieldTypeTags {
			problems = append(problems, prefix+": tags fields are not supported inside array items")
		}
		if inItem && f.Override {
			problems = append(problems, prefix+": override is only valid on top-level fields")
		}

		if f.Multiple && f.Type != FieldTypeFile {
			problems = append(problems, prefix+": multiple is only valid on file type")
		}

		if f.Relation != nil && f.Type != FieldTypeRelation {
			problems = append(problems, prefix+": relation is only valid on relation type")
		}
		if f.Type == FieldTypeRelation {
			problems = append(problems, validateRelation(prefix, f.Relation)...)
		}

		if f.Items != nil && f.Type != FieldTypeArray {
			problems = append(problems, prefix+": items is only valid on array type")
		}
		if f.Type == FieldTypeArray {
			problems = append(problems, validateItems(prefix, path+name+".", f.Items)...)
		}
	}

	return problems
}

func validateConstraints(prefix string, f Field) []string {
	var problems []string

	if f.MinLength != nil && !f.Type.IsText() {
		problems = append(problems, prefix+": min_length is only valid on text types")
	}
	if f.MaxLength != nil && !f.Type.IsText() {
		problems = append(problems, prefix+": max_length is only valid on text types")
	}
	if f.MinLength != nil && *f.MinLength < 0 {
		problems = append(problems, fmt.Sprintf("%s: min_length must be >= 0 (got %d)", prefix, *f.MinLength))
	}
	if f.MaxLength != nil && *f.MaxLength <= 0 {
		problems = append(problems, fmt.Sprintf("%s: max_length must be > 0 (got %d)", prefix, *f.MaxLength))
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		problems = append(problems, fmt.Sprintf("%s: min_length (%d) must be <= max_length (%d)", prefix, *f.MinLength, *f.MaxLength))
	}

	if f.Min != nil && !f.Type.IsNumeric() {
		problems = append(problems, prefix+": min is only valid on number, integer types")
	}
	if f.Max != nil && !f.Type.IsNumeric() {
		problems = append(problems, prefix+": max is only valid on number, integer types")
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		problems = append(problems, fmt.Sprintf("%s: min (%g) must be <= max (%g)", prefix, *f.Min, *f.Max))
	}

	if f.Regex != "" {
		if !f.Type.IsText() {
			problems = append(problems, prefix+": regex is only valid on text types")
		} else if _, err := regexp.Compile(f.Regex); err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid regex %q: %v", prefix, f.Regex, err))
		}
	}

	if len(f.Options) > 0 && !f.Type.IsChoice() {
		problems = append(problems, prefix+": options is only valid on select, radio, enum types")
	}
	if f.Type.IsChoice() {
		if len(f.Options) == 0 {
			problems = append(problems, prefix+": must have a non-empty options list")
		}
		seen := make(map[string]bool, len(f.Options))
		for j, v := range f.Options {
			if v == "" {
				problems = append(problems, fmt.Sprintf("%s: options[%d] must not be empty", prefix, j))
			} else if seen[v] {
				problems = append(problems, fmt.Sprintf("%s: duplicate option %q", prefix, v))
			}
			seen[v] = true
		}
	}

	return problems
}

func validateRelation(prefix string, r *RelationSpec) []string {
	if r == nil {
		return []string{prefix + ": relation field must have a relation block"}
	}

	var problems []string
	switch r.Type {
	case RelationOneToOne, RelationManyToOne, RelationManyToMany:
	default:
		problems = append(problems, fmt.Sprintf("%s: relation.type must be one-to-one, many-to-one or many-to-many, got %q", prefix, r.Type))
	}

	switch {
	case r.TargetCollection == "" && r.TargetGlobal == "":
		problems = append(problems, prefix+": relation must set target_collection or target_global")
	case r.TargetCollection != "" && r.TargetGlobal != "":
		problems = append(problems, prefix+": relation must set only one of target_collection and target_global")
	default:
		_, slug := r.Target()
		if !ValidSlug(slug) {
			problems = append(problems, fmt.Sprintf("%s: relation target %q is not a valid slug", prefix, slug))
		}
	}
	return problems
}

func validateItems(prefix, path string, items *Items) []string {
	if items == nil {
		return []string{prefix + ": array field must have items"}
	}

	switch items.Type {
	case FieldTypeObject:
		if len(items.Properties) == 0 {
			return []string{prefix + ": object items must declare properties"}
		}
		return validateFields(path, items.Properties, true)
	case FieldTypeFile, FieldTypeRelation, FieldTypeArray, FieldTypeTags, FieldTypeJSON:
		return []string{fmt.Sprintf("%s: items.type %q must be object or a scalar type", prefix, items.Type)}
	default:
		var problems []string
		if !validFieldTypes[items.Type] {
			problems = append(problems, fmt.Sprintf("%s: invalid items.type %q", prefix, items.Type))
		}
		if len(items.Properties) > 0 {
			problems = append(problems, prefix+": items.properties is only valid when items.type is object")
		}
		return problems
	}
}
