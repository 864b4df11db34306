package schema

import "github.com/GyroZepelix/mithril-engine/internal/database"

// Variant is the storage strategy of a field. The set of implementations is
// closed: ScalarField, FileField, ArrayField, RelationField and TagsField.
// Code that stores or loads content switches over Classify's result.
type Variant interface {
	variantName() string
}

// ScalarField is stored in a column of the owner's table. Plain arrays,
// objects and json fields are scalars holding serialized JSON.
type ScalarField struct {
	Name   string
	Field  Field
	Column database.ColumnType
}

// FileField is stored in a file-relation table, one ordered row per file.
type FileField struct {
	Name     string
	Field    Field
	Multiple bool
}

// ArrayField is an array of objects stored in its own table, one row per
// item, with Items describing the item columns.
type ArrayField struct {
	Name  string
	Field Field
	Items Fields
}

// RelationField references rows of another entity. Many-to-many relations
// live in a junction table; the other cardinalities store the target id in a
// column of the owner's table.
type RelationField struct {
	Name       string
	Field      Field
	TargetKind Kind
	TargetSlug string
	ManyToMany bool
}

// TagsField holds free-form keywords persisted by the tagging service rather
// than in content tables.
type TagsField struct {
	Name  string
	Field Field
}

func (ScalarField) variantName() string   { return "scalar" }
func (FileField) variantName() string     { return "file" }
func (ArrayField) variantName() string    { return "array" }
func (RelationField) variantName() string { return "relation" }
func (TagsField) variantName() string     { return "tags" }

// VariantName returns "scalar", "file", "array", "relation" or "tags".
func VariantName(v Variant) string {
	return v.variantName()
}

// Classify returns the storage variant of the field called name.
func Classify(name string, f Field) Variant {
	switch f.Type {
	case FieldTypeFile:
		return FileField{Name: name, Field: f, Multiple: f.Multiple}
	case FieldTypeTags:
		return TagsField{Name: name, Field: f}
	case FieldTypeArray:
		if f.IsObjectArray() {
			return ArrayField{Name: name, Field: f, Items: f.Items.Properties}
		}
		return ScalarField{Name: name, Field: f, Column: database.ColumnJSON}
	case FieldTypeRelation:
		rf := RelationField{Name: name, Field: f}
		if f.Relation != nil {
			rf.TargetKind, rf.TargetSlug = f.Relation.Target()
			rf.ManyToMany = f.Relation.Type == RelationManyToMany
		}
		return rf
	default:
		return ScalarField{Name: name, Field: f, Column: ColumnTypeFor(f.Type)}
	}
}
