package schema

import "github.com/ettle/strcase"

// Table and column naming. The generator and the content loader/writer
// resolve every physical name through these functions.

// TableName returns the main table of an entity, e.g. collection_posts.
func TableName(kind Kind, slug string) string {
	return string(kind) + "_" + slug
}

// ArrayTableName returns the table holding the items of an array field.
// Nested arrays nest the parent table name, so depth is implicit.
func ArrayTableName(parentTable, field string) string {
	return parentTable + "_" + strcase.ToSnake(field)
}

// FileRelationTableName returns the table linking an owner row to the files
// of one file field.
func FileRelationTableName(ownerTable, field string) string {
	return ownerTable + "_" + strcase.ToSnake(field) + "_files"
}

// JunctionTableName returns the many-to-many table of a relation field.
// Collections use junction_<slug>_<field>; globals and blocks carry their
// kind to keep the namespaces apart.
func JunctionTableName(ownerKind Kind, ownerSlug, field string) string {
	if ownerKind == KindCollection {
		return "junction_" + ownerSlug + "_" + strcase.ToSnake(field)
	}
	return "junction_" + string(ownerKind) + "_" + ownerSlug + "_" + strcase.ToSnake(field)
}

// BlockPlacementTableName returns the table that places blocks on rows of
// ownerTable.
func BlockPlacementTableName(ownerTable string) string {
	return ownerTable + "_blocks"
}

// ForeignKeyColumn returns the column array rows use to reference their
// owner: the owner kind's id column at the first level, parent_id below.
func ForeignKeyColumn(ownerKind Kind, nested bool) string {
	if nested {
		return "parent_id"
	}
	return string(ownerKind) + "_id"
}

// RegistryTableName returns the type registry table of a kind.
func RegistryTableName(kind Kind) string {
	return string(kind) + "_types"
}

// Fixed columns of the association tables.
const (
	FileOwnerColumn     = "parent_id"
	JunctionOwnerColumn = "source_id"
)

// Owner identifies a table that owns child rows while walking an entity's
// field tree. The root owner is the entity's main table; every array field
// yields a child owner one level deeper.
type Owner struct {
	Kind  Kind
	Slug  string
	Table string
	Depth int
}

// RootOwner returns the owner for an entity's main table.
func RootOwner(kind Kind, slug string) Owner {
	return Owner{Kind: kind, Slug: slug, Table: TableName(kind, slug)}
}

// Child returns the owner for the items of the array field called field.
func (o Owner) Child(field string) Owner {
	return Owner{
		Kind:  o.Kind,
		Slug:  o.Slug + "_" + strcase.ToSnake(field),
		Table: ArrayTableName(o.Table, field),
		Depth: o.Depth + 1,
	}
}

// ItemKey returns the foreign key column that rows of o's array tables use
// to reference o.
func (o Owner) ItemKey() string {
	return ForeignKeyColumn(o.Kind, o.Depth > 0)
}

// FileTable returns the file-relation table of field on o.
func (o Owner) FileTable(field string) string {
	return FileRelationTableName(o.Table, field)
}

// JunctionTable returns the junction table of field on o.
func (o Owner) JunctionTable(field string) string {
	return JunctionTableName(o.Kind, o.Slug, field)
}

// BlockTable returns the block placement table of o.
func (o Owner) BlockTable() string {
	return BlockPlacementTableName(o.Table)
}
