package content

import (
	"errors"
	"fmt"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

var (
	// ErrNotFound is returned when the requested item does not exist.
	ErrNotFound = errors.New("content item not found")

	// ErrUnknownEntity is returned when no entity of the requested kind and
	// slug is in the catalog.
	ErrUnknownEntity = errors.New("unknown entity")
)

// SchemaMismatchError is returned when a write needs a table or column that
// the current catalog does not describe, usually because the physical schema
// was generated from older definitions.
type SchemaMismatchError struct {
	Table  string
	Column string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema mismatch: table %q is not in the catalog", e.Table)
	}
	return fmt.Sprintf("schema mismatch: table %q has no column %q", e.Table, e.Column)
}

// ValidationError wraps field-level validation errors.
type ValidationError struct {
	Fields []server.FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field errors", len(e.Fields))
}

// PermissionError is returned when the authorizer refuses an operation.
type PermissionError struct {
	Action access.Action
	Kind   schema.Kind
	Entity string
	ID     string
}

func (e *PermissionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("permission denied: %s on %s %q", e.Action, e.Kind, e.Entity)
	}
	return fmt.Sprintf("permission denied: %s on %s %q item %q", e.Action, e.Kind, e.Entity, e.ID)
}

// IntegrityError is returned when a write references a row that does not
// exist or would create an invalid link.
type IntegrityError struct {
	Field     string
	Reference string
	Reason    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error on %s (%q): %s", e.Field, e.Reference, e.Reason)
}
