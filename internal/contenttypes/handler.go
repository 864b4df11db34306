// Package contenttypes provides HTTP handlers for type registry
// introspection, allowing the admin UI to discover the registered
// collections, globals and blocks with their fields and entry counts.
package contenttypes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// TypeResponse represents a registered type in the introspection API response.
type TypeResponse struct {
	Kind        schema.Kind          `json:"kind"`
	Slug        string               `json:"slug"`
	Name        schema.Name          `json:"name"`
	Description string               `json:"description,omitempty"`
	Table       string               `json:"table"`
	Options     schema.Options       `json:"options"`
	Fields      schema.Fields        `json:"fields"`
	Config      []schema.FieldConfig `json:"config,omitempty"`
	SchemaHash  string               `json:"schema_hash"`
	UpdatedAt   time.Time            `json:"updated_at"`
	EntryCount  int                  `json:"entry_count"`
}

// CatalogSource supplies the catalog of the applied schema. It is read on
// every request so refreshes are picked up.
type CatalogSource interface {
	Catalog() *schema.Catalog
}

// Handler provides HTTP handlers for type introspection.
type Handler struct {
	db       *database.DB
	registry *schema.Registry
	catalogs CatalogSource
	logger   *slog.Logger
}

// NewHandler creates a new content types Handler.
func NewHandler(db *database.DB, registry *schema.Registry, catalogs CatalogSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: db, registry: registry, catalogs: catalogs, logger: logger}
}

// Routes mounts the introspection endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/types", h.List)
	r.Get("/types/{kind}/{slug}", h.Get)
}

// List handles GET /admin/api/types, optionally filtered with ?kind=.
// The registry is small, so the list is not paginated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	kind := schema.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !slices.Contains(schema.Kinds, kind) {
		server.Error(w, http.StatusBadRequest, "INVALID_PARAMS",
			fmt.Sprintf("invalid kind: %s", kind), nil)
		return
	}

	entries, err := h.registry.All(r.Context(), h.db)
	if err != nil {
		h.logger.Error("listing registry entries failed", "error", err)
		server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"an internal error occurred", nil)
		return
	}

	responses := make([]TypeResponse, 0, len(entries))
	for _, e := range entries {
		if kind != "" && e.Definition.Kind != kind {
			continue
		}
		responses = append(responses, h.buildResponse(r.Context(), e))
	}

	server.JSON(w, http.StatusOK, responses)
}

// Get handles GET /admin/api/types/{kind}/{slug}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	kind := schema.Kind(chi.URLParam(r, "kind"))
	slug := chi.URLParam(r, "slug")

	entries, err := h.registry.All(r.Context(), h.db)
	if err != nil {
		h.logger.Error("listing registry entries failed", "error", err)
		server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"an internal error occurred", nil)
		return
	}

	i := slices.IndexFunc(entries, func(e schema.Entry) bool {
		return e.Definition.Kind == kind && e.Definition.Slug == slug
	})
	if i < 0 {
		server.Error(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("type '%s/%s' not found", kind, slug), nil)
		return
	}

	server.JSON(w, http.StatusOK, h.buildResponse(r.Context(), entries[i]))
}

// buildResponse converts a registry entry into the API response type. A
// failed entry count is logged and reported as zero.
func (h *Handler) buildResponse(ctx context.Context, e schema.Entry) TypeResponse {
	def := e.Definition
	resp := TypeResponse{
		Kind:        def.Kind,
		Slug:        def.Slug,
		Name:        def.Name,
		Description: def.Description,
		Table:       def.Table(),
		Options:     def.Options,
		Fields:      def.Fields,
		SchemaHash:  e.Hash,
		UpdatedAt:   e.UpdatedAt,
	}

	if c := h.catalogs.Catalog(); c != nil {
		if ent, ok := c.Entity(def.Kind, def.Slug); ok {
			resp.Config = ent.Config.Fields
		}
	}

	count, err := h.countEntries(ctx, resp.Table)
	if err != nil {
		h.logger.Error("failed to count entries", "table", resp.Table, "error", err)
	}
	resp.EntryCount = count
	return resp
}

func (h *Handler) countEntries(ctx context.Context, table string) (int, error) {
	var count int64
	query := fmt.Sprintf("SELECT count(*) FROM %s", h.db.Dialect().QuoteIdent(table))
	if err := h.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries of %s: %w", table, err)
	}
	return int(count), nil
}
