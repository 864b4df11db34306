// Package content is the runtime content engine: it loads items with their
// nested arrays, files, relations, blocks and tags, persists payloads across
// the generated tables in one transaction, and answers list and detail
// queries for the HTTP layer.
package content

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/media"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/tags"
)

// defaultMaxDepth bounds relation hydration when Options.MaxDepth is unset.
const defaultMaxDepth = 2

// Item is one content row with its nested fields resolved.
type Item = map[string]any

// FileStore resolves file records by id.
type FileStore interface {
	GetByID(ctx context.Context, id string) (*media.File, error)
}

// Auditor records audit events.
type Auditor interface {
	Log(ctx context.Context, event audit.Event)
}

// Options configures the optional collaborators of a Service.
type Options struct {
	// Files resolves file fields. Without it file fields load empty.
	Files FileStore
	// Tags stores tags fields. Without it tags fields are ignored.
	Tags *tags.Service
	// Auditor receives content.save and content.delete events.
	Auditor Auditor
	// Authorizer guards writes. Defaults to access.AllowAll.
	Authorizer access.Authorizer
	// MaxDepth bounds how many relation hops are hydrated.
	MaxDepth int
	Logger   *slog.Logger
}

// Service implements the content loader, writer and query façade.
type Service struct {
	db       *database.DB
	catalog  atomic.Pointer[schema.Catalog]
	registry *schema.Registry
	files    FileStore
	tags     *tags.Service
	auditor  Auditor
	authz    access.Authorizer
	maxDepth int
	logger   *slog.Logger
}

// NewService creates a content Service over catalog. The catalog can be
// swapped later with SetCatalog after a schema refresh.
func NewService(db *database.DB, catalog *schema.Catalog, registry *schema.Registry, opts Options) *Service {
	s := &Service{
		db:       db,
		registry: registry,
		files:    opts.Files,
		tags:     opts.Tags,
		auditor:  opts.Auditor,
		authz:    opts.Authorizer,
		maxDepth: opts.MaxDepth,
		logger:   opts.Logger,
	}
	if s.authz == nil {
		s.authz = access.AllowAll{}
	}
	if s.maxDepth <= 0 {
		s.maxDepth = defaultMaxDepth
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.catalog.Store(catalog)
	return s
}

// SetCatalog replaces the catalog used to resolve entities and tables.
func (s *Service) SetCatalog(c *schema.Catalog) {
	s.catalog.Store(c)
}

// Catalog returns the current catalog.
func (s *Service) Catalog() *schema.Catalog {
	return s.catalog.Load()
}

// Authorizer returns the authorizer guarding writes.
func (s *Service) Authorizer() access.Authorizer {
	return s.authz
}

// Entity returns the catalog entry of kind and slug.
func (s *Service) Entity(kind schema.Kind, slug string) (*schema.Entity, error) {
	c := s.catalog.Load()
	if c == nil {
		return nil, ErrUnknownEntity
	}
	e, ok := c.Entity(kind, slug)
	if !ok {
		return nil, ErrUnknownEntity
	}
	return e, nil
}

// table resolves a generated table through the catalog.
func (s *Service) table(name string) (*schema.Table, error) {
	c := s.catalog.Load()
	if c == nil {
		return nil, &SchemaMismatchError{Table: name}
	}
	t, ok := c.Table(name)
	if !ok {
		return nil, &SchemaMismatchError{Table: name}
	}
	return t, nil
}

// logAudit sends an audit event if the auditor is configured.
func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditor != nil {
		s.auditor.Log(ctx, event)
	}
}

// Result is the outcome of SaveItem and DeleteItem. Err carries the typed
// error for callers that map failures to responses.
type Result struct {
	Success bool   `json:"success"`
	ItemID  string `json:"itemId,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func failed(err error) Result {
	return Result{Error: err.Error(), Err: err}
}

// SaveItem creates or updates the item id of an entity with payload. An
// empty id creates a new item. The acting user is taken from ctx.
func (s *Service) SaveItem(ctx context.Context, kind schema.Kind, slug, id string, payload Item) Result {
	ent, err := s.Entity(kind, slug)
	if err != nil {
		return failed(err)
	}
	savedID, err := s.save(ctx, ent, id, payload)
	if err != nil {
		s.logger.Warn("content save failed", "kind", kind, "slug", slug, "id", id, "error", err)
		return failed(err)
	}
	return Result{Success: true, ItemID: savedID}
}

// DeleteItem deletes an item with everything it owns. Children of a
// nestable item move up to the deleted item's parent.
func (s *Service) DeleteItem(ctx context.Context, kind schema.Kind, slug, id string) Result {
	ent, err := s.Entity(kind, slug)
	if err != nil {
		return failed(err)
	}
	if err := s.delete(ctx, ent, id); err != nil {
		s.logger.Warn("content delete failed", "kind", kind, "slug", slug, "id", id, "error", err)
		return failed(err)
	}
	return Result{Success: true, ItemID: id}
}
