// Package schema handles loading and validating collection, global and block
// definitions, merges them with their kind's core fields, generates the
// relational schema and runtime field metadata from them, and keeps the type
// registry in sync.
package schema

import "github.com/GyroZepelix/mithril-engine/internal/database"

// FieldType represents the type of a content field.
type FieldType string

// Supported field types for entity definitions.
const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeWysiwyg  FieldType = "wysiwyg"
	FieldTypeEmail    FieldType = "email"
	FieldTypeURL      FieldType = "url"
	FieldTypeSlug     FieldType = "slug"
	FieldTypePassword FieldType = "password"
	FieldTypeSelect   FieldType = "select"
	FieldTypeRadio    FieldType = "radio"
	FieldTypeEnum     FieldType = "enum"
	FieldTypeNumber   FieldType = "number"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeFile     FieldType = "file"
	FieldTypeRelation FieldType = "relation"
	FieldTypeArray    FieldType = "array"
	FieldTypeTags     FieldType = "tags"
	FieldTypeObject   FieldType = "object"
	FieldTypeJSON     FieldType = "json"
)

// validFieldTypes is the set of all supported field types, used for validation.
var validFieldTypes = map[FieldType]bool{
	FieldTypeString:   true,
	FieldTypeText:     true,
	FieldTypeTextarea: true,
	FieldTypeWysiwyg:  true,
	FieldTypeEmail:    true,
	FieldTypeURL:      true,
	FieldTypeSlug:     true,
	FieldTypePassword: true,
	FieldTypeSelect:   true,
	FieldTypeRadio:    true,
	FieldTypeEnum:     true,
	FieldTypeNumber:   true,
	FieldTypeInteger:  true,
	FieldTypeBoolean:  true,
	FieldTypeDate:     true,
	FieldTypeDatetime: true,
	FieldTypeFile:     true,
	FieldTypeRelation: true,
	FieldTypeArray:    true,
	FieldTypeTags:     true,
	FieldTypeObject:   true,
	FieldTypeJSON:     true,
}

// textFieldTypes are the field types stored as plain text columns. They
// support min_length, max_length and regex.
var textFieldTypes = map[FieldType]bool{
	FieldTypeString:   true,
	FieldTypeText:     true,
	FieldTypeTextarea: true,
	FieldTypeWysiwyg:  true,
	FieldTypeEmail:    true,
	FieldTypeURL:      true,
	FieldTypeSlug:     true,
	FieldTypePassword: true,
}

// choiceFieldTypes take their value from the field's options list.
var choiceFieldTypes = map[FieldType]bool{
	FieldTypeSelect: true,
	FieldTypeRadio:  true,
	FieldTypeEnum:   true,
}

// numericFieldTypes are the field types that support min and max.
var numericFieldTypes = map[FieldType]bool{
	FieldTypeNumber:  true,
	FieldTypeInteger: true,
}

// IsText reports whether t is stored as a plain text column.
func (t FieldType) IsText() bool { return textFieldTypes[t] }

// IsChoice reports whether t is a select/radio/enum type.
func (t FieldType) IsChoice() bool { return choiceFieldTypes[t] }

// IsNumeric reports whether t is number or integer.
func (t FieldType) IsNumeric() bool { return numericFieldTypes[t] }

// ColumnTypeFor maps a scalar field type to its logical column type.
func ColumnTypeFor(t FieldType) database.ColumnType {
	switch {
	case textFieldTypes[t], choiceFieldTypes[t], t == FieldTypeRelation:
		return database.ColumnText
	case t == FieldTypeInteger:
		return database.ColumnInteger
	case t == FieldTypeNumber:
		return database.ColumnNumeric
	case t == FieldTypeBoolean:
		return database.ColumnBoolean
	case t == FieldTypeDate, t == FieldTypeDatetime:
		return database.ColumnTimestamp
	default:
		return database.ColumnJSON
	}
}

// RelationType represents the cardinality of a relation field.
type RelationType string

// Supported relation types.
const (
	RelationOneToOne   RelationType = "one-to-one"
	RelationManyToOne  RelationType = "many-to-one"
	RelationManyToMany RelationType = "many-to-many"
)

// Kind is the kind of an entity definition.
type Kind string

// Supported entity kinds.
const (
	KindCollection Kind = "collection"
	KindGlobal     Kind = "global"
	KindBlock      Kind = "block"
)

// Kinds lists every entity kind in generation order.
var Kinds = []Kind{KindCollection, KindGlobal, KindBlock}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCollection || k == KindGlobal || k == KindBlock
}

// DataShape controls how a global stores its content.
type DataShape string

// Supported global data shapes.
const (
	// DataShapeFlat is a singleton row with audit-only core fields.
	DataShapeFlat DataShape = "flat"
	// DataShapeRepeatable stores many rows, like a collection without status.
	DataShapeRepeatable DataShape = "repeatable"
	// DataShapeRelational is a repeatable global meant to be a relation target.
	DataShapeRelational DataShape = "relational"
)

// Field represents a single field within an entity definition. Fields are
// decoded from YAML definitions and round-tripped as JSON through the type
// registry.
type Field struct {
	// Type is the field type, which determines storage and validation rules.
	Type FieldType `yaml:"type" json:"type"`

	// Label is the human-readable name shown in the admin UI.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// Required indicates the field must be provided on create.
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Default is applied on create when the payload omits the field.
	Default any `yaml:"default,omitempty" json:"default,omitempty"`

	// Options is the list of allowed values for select, radio and enum fields.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	// Multiple makes a file field hold an ordered list of files.
	Multiple bool `yaml:"multiple,omitempty" json:"multiple,omitempty"`

	// Items describes the elements of an array field.
	Items *Items `yaml:"items,omitempty" json:"items,omitempty"`

	// Relation describes the target of a relation field.
	Relation *RelationSpec `yaml:"relation,omitempty" json:"relation,omitempty"`

	// Override marks a user field that intentionally customizes the core
	// field of the same name.
	Override bool `yaml:"override,omitempty" json:"override,omitempty"`

	// Core is set by the merge step on fields owned by the entity's kind.
	Core bool `yaml:"-" json:"core,omitempty"`

	// MinLength is the minimum character length. Only valid on text types.
	MinLength *int `yaml:"min_length,omitempty" json:"min_length,omitempty"`

	// MaxLength is the maximum character length. Only valid on text types.
	MaxLength *int `yaml:"max_length,omitempty" json:"max_length,omitempty"`

	// Min is the minimum numeric value. Only valid on number, integer.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`

	// Max is the maximum numeric value. Only valid on number, integer.
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Regex is a Go regular expression pattern for validation. Only valid on
	// text types.
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// Items is the element schema of an array field.
type Items struct {
	// Type is "object" for repeatable components, or a scalar type for
	// plain lists stored as JSON.
	Type FieldType `yaml:"type" json:"type"`

	// Properties holds the item fields when Type is object.
	Properties Fields `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// RelationSpec is the relation sub-schema of a relation field. Exactly one
// of TargetCollection and TargetGlobal is set.
type RelationSpec struct {
	Type             RelationType `yaml:"type" json:"type"`
	TargetCollection string       `yaml:"target_collection,omitempty" json:"target_collection,omitempty"`
	TargetGlobal     string       `yaml:"target_global,omitempty" json:"target_global,omitempty"`
}

// Target returns the kind and slug of the relation target.
func (r RelationSpec) Target() (Kind, string) {
	if r.TargetGlobal != "" {
		return KindGlobal, r.TargetGlobal
	}
	return KindCollection, r.TargetCollection
}

// IsObjectArray reports whether f is an array of objects, which is stored in
// its own table rather than as JSON.
func (f Field) IsObjectArray() bool {
	return f.Type == FieldTypeArray && f.Items != nil && f.Items.Type == FieldTypeObject
}

// Name is the singular and plural display name of an entity.
type Name struct {
	Singular string `yaml:"singular" json:"singular"`
	Plural   string `yaml:"plural,omitempty" json:"plural,omitempty"`
}

// Options are the feature flags of an entity definition.
type Options struct {
	// SEO adds seo_title, seo_description and seo_image core fields.
	SEO bool `yaml:"seo,omitempty" json:"seo,omitempty"`

	// Nestable adds a parent_id core field for parent/child hierarchies.
	Nestable bool `yaml:"nestable,omitempty" json:"nestable,omitempty"`

	// BasePath is the URL prefix used when building item URLs.
	BasePath string `yaml:"base_path,omitempty" json:"base_path,omitempty"`

	// Blocks enables inline block placement on the entity.
	Blocks bool `yaml:"blocks,omitempty" json:"blocks,omitempty"`

	// AllowedBlocks restricts which block slugs may be placed. Empty means any.
	AllowedBlocks []string `yaml:"allowed_blocks,omitempty" json:"allowed_blocks,omitempty"`

	// DataShape selects how a global stores its content. Globals only.
	DataShape DataShape `yaml:"data_shape,omitempty" json:"data_shape,omitempty"`

	// PublicRead exposes published entries through the public API.
	PublicRead bool `yaml:"public_read,omitempty" json:"public_read,omitempty"`
}

// Definition is a parsed collection, global or block definition.
type Definition struct {
	// Kind is collection, global or block.
	Kind Kind `yaml:"kind" json:"kind"`

	// Slug is the stable identifier and physical table suffix.
	Slug string `yaml:"slug" json:"slug"`

	// Name is the display name.
	Name Name `yaml:"name" json:"name"`

	// Description is free text shown in the admin UI.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Fields defines the entity's fields in declaration order.
	Fields Fields `yaml:"fields" json:"fields"`

	// Options holds the entity's feature flags.
	Options Options `yaml:"options,omitempty" json:"options,omitempty"`

	// SourceHash is the SHA256 hex digest of the definition file. It is
	// computed after loading and is not deserialized.
	SourceHash string `yaml:"-" json:"-"`
}

// Table returns the name of the entity's main table.
func (d Definition) Table() string {
	return TableName(d.Kind, d.Slug)
}

// Owner returns the naming root used to resolve the entity's tables.
func (d Definition) Owner() Owner {
	return RootOwner(d.Kind, d.Slug)
}

// IsFlat reports whether d is a flat (singleton) global.
func (d Definition) IsFlat() bool {
	return d.Kind == KindGlobal && d.Options.DataShape == DataShapeFlat
}

// HasStatus reports whether rows of d carry a draft/published/archived status.
func (d Definition) HasStatus() bool {
	return d.Kind == KindCollection
}
