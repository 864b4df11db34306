// Package access decides whether the acting user may perform an action on
// content and supplies the row filter list queries must apply. The content
// engine consumes it as a gate; it never inspects roles itself.
package access

import (
	"context"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
)

// Action is an operation on content.
type Action string

// Content actions.
const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// User is the acting user of a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type contextKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(contextKey{}).(*User)
	return u
}

// UserID returns the id of the acting user, or "" when anonymous.
func UserID(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}

// Resource describes the content an action targets.
type Resource struct {
	// Entity is the slug of the collection, global or block.
	Entity string
	// ID is the row id, empty on create.
	ID string
	// Data holds the payload being written or the stored row.
	Data map[string]any
}

// Authorizer gates content operations. The acting user is read from ctx.
type Authorizer interface {
	// Can reports whether the acting user may perform action on resource.
	Can(ctx context.Context, action Action, kind schema.Kind, resource Resource) bool

	// QueryPredicate returns the filter list queries on table must AND into
	// their WHERE clause, or nil when rows are not restricted.
	QueryPredicate(ctx context.Context, kind schema.Kind, table string, action Action) *database.Predicate
}

// AllowAll permits everything. It is used by the CLI and tests.
type AllowAll struct{}

// Can implements Authorizer.
func (AllowAll) Can(context.Context, Action, schema.Kind, Resource) bool { return true }

// QueryPredicate implements Authorizer.
func (AllowAll) QueryPredicate(context.Context, schema.Kind, string, Action) *database.Predicate {
	return nil
}

// AuthenticatedWrites lets anyone read and any signed-in user write. It is
// the default when no policy file is configured.
type AuthenticatedWrites struct{}

// Can implements Authorizer.
func (AuthenticatedWrites) Can(ctx context.Context, action Action, _ schema.Kind, _ Resource) bool {
	return action == ActionRead || UserFromContext(ctx) != nil
}

// QueryPredicate implements Authorizer.
func (AuthenticatedWrites) QueryPredicate(context.Context, schema.Kind, string, Action) *database.Predicate {
	return nil
}
