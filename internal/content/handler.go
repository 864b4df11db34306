package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/database"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

const maxBodySize = 1 << 20

// Handler provides HTTP handlers for content reads and writes. Routes carry
// the entity as {kind}/{slug}, e.g. /api/collection/posts.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new content Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// ItemResponse is the body of single-item responses.
type ItemResponse struct {
	Item        Item         `json:"item"`
	URL         string       `json:"url,omitempty"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`
}

// PublicRoutes mounts the read-only public API.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/tags/{kind}/{slug}", h.PublicTags)
	r.Get("/{kind}/{slug}", h.PublicList)
	r.Get("/{kind}/{slug}/{ref}", h.PublicGet)
}

// AdminRoutes mounts the authenticated content API.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Route("/content/{kind}/{slug}", func(r chi.Router) {
		r.Get("/", h.AdminList)
		r.Post("/", h.AdminCreate)
		r.Get("/{id}", h.AdminGet)
		r.Put("/{id}", h.AdminUpdate)
		r.Delete("/{id}", h.AdminDelete)
		r.Post("/{id}/publish", h.AdminPublish)
	})
}

// lookupEntity resolves {kind}/{slug}. Returns false if the entity was not
// found (404 already written).
func (h *Handler) lookupEntity(w http.ResponseWriter, r *http.Request) (*schema.Entity, bool) {
	kind := schema.Kind(chi.URLParam(r, "kind"))
	slug := chi.URLParam(r, "slug")
	ent, err := h.service.Entity(kind, slug)
	if err != nil {
		server.Error(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("entity '%s/%s' not found", kind, slug), nil)
		return nil, false
	}
	return ent, true
}

// lookupPublic is lookupEntity restricted to entities with public_read.
func (h *Handler) lookupPublic(w http.ResponseWriter, r *http.Request) (*schema.Entity, bool) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return nil, false
	}
	if !ent.Definition.Options.PublicRead || ent.Definition.Kind == schema.KindBlock {
		server.Error(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("entity '%s/%s' not found", ent.Definition.Kind, ent.Definition.Slug), nil)
		return nil, false
	}
	return ent, true
}

// readPredicate returns the authorizer's row filter for reads of ent.
func (h *Handler) readPredicate(r *http.Request, ent *schema.Entity) *database.Predicate {
	return h.service.Authorizer().QueryPredicate(r.Context(), ent.Definition.Kind, ent.Table.Name, access.ActionRead)
}

// decodeBody parses a JSON object body of at most maxBodySize bytes.
// Numbers arrive as int64 when integral and float64 otherwise.
func decodeBody(w http.ResponseWriter, r *http.Request) (Item, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil || data == nil {
		server.Error(w, http.StatusBadRequest, "INVALID_JSON", "body must be a JSON object of at most 1 MiB", nil)
		return nil, false
	}
	return normalizeNumbers(data).(map[string]any), true
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
	}
	return v
}

// handleServiceError maps service errors onto HTTP statuses.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var (
		valErr       *ValidationError
		permErr      *PermissionError
		integrityErr *IntegrityError
		mismatchErr  *SchemaMismatchError
	)
	switch {
	case errors.As(err, &valErr):
		server.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed", valErr.Fields)
	case errors.As(err, &permErr):
		server.Error(w, http.StatusForbidden, "FORBIDDEN", permErr.Error(), nil)
	case errors.As(err, &integrityErr):
		server.Error(w, http.StatusUnprocessableEntity, "INTEGRITY_ERROR", integrityErr.Reason,
			[]server.FieldError{{Field: integrityErr.Field, Message: integrityErr.Reason}})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownEntity):
		server.Error(w, http.StatusNotFound, "NOT_FOUND", "entry not found", nil)
	case errors.As(err, &mismatchErr):
		h.logger.Error("content schema mismatch", "error", err)
		server.Error(w, http.StatusInternalServerError, "SCHEMA_MISMATCH",
			"the database schema is out of date; refresh the schema", nil)
	default:
		h.logger.Error("content service error", "error", err)
		server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
	}
}

// itemResponse loads a saved or requested item with its URL and breadcrumbs.
func (h *Handler) itemResponse(r *http.Request, ent *schema.Entity, item Item) ItemResponse {
	def := ent.Definition
	resp := ItemResponse{Item: item}
	if def.Kind == schema.KindCollection {
		resp.Breadcrumbs = h.service.Breadcrumbs(r.Context(), def.Kind, def.Slug, item)
		if n := len(resp.Breadcrumbs); n > 0 {
			resp.URL = resp.Breadcrumbs[n-1].URL
		}
	}
	return resp
}

// AdminList handles GET /admin/api/content/{kind}/{slug}.
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}

	opts, err := ParseListOptions(r, ent)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error(), nil)
		return
	}
	if opts.Status == "" {
		opts.Status = StatusAll
	}
	opts.AccessPredicate = h.readPredicate(r, ent)

	res := h.service.GetItems(r.Context(), ent.Definition.Kind, ent.Definition.Slug, opts)
	server.JSON(w, http.StatusOK, res)
}

// AdminGet handles GET /admin/api/content/{kind}/{slug}/{id}.
func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}

	item := h.service.GetItem(r.Context(), ent.Definition.Kind, ent.Definition.Slug, ItemQuery{
		ID:              chi.URLParam(r, "id"),
		AccessPredicate: h.readPredicate(r, ent),
	})
	if item == nil {
		h.handleServiceError(w, ErrNotFound)
		return
	}

	server.JSON(w, http.StatusOK, h.itemResponse(r, ent, item))
}

// AdminCreate handles POST /admin/api/content/{kind}/{slug}.
func (h *Handler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}

	h.save(w, r, ent, "", data, http.StatusCreated)
}

// AdminUpdate handles PUT /admin/api/content/{kind}/{slug}/{id}.
func (h *Handler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}

	h.save(w, r, ent, chi.URLParam(r, "id"), data, http.StatusOK)
}

// AdminPublish handles POST /admin/api/content/{kind}/{slug}/{id}/publish.
func (h *Handler) AdminPublish(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}
	if !ent.Definition.HasStatus() {
		server.Error(w, http.StatusBadRequest, "INVALID_OPERATION",
			fmt.Sprintf("%s entries have no status", ent.Definition.Kind), nil)
		return
	}

	h.save(w, r, ent, chi.URLParam(r, "id"),
		Item{schema.FieldStatus: schema.StatusPublished}, http.StatusOK)
}

// AdminDelete handles DELETE /admin/api/content/{kind}/{slug}/{id}.
func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupEntity(w, r)
	if !ok {
		return
	}

	res := h.service.DeleteItem(r.Context(), ent.Definition.Kind, ent.Definition.Slug, chi.URLParam(r, "id"))
	if !res.Success {
		h.handleServiceError(w, res.Err)
		return
	}
	server.JSON(w, http.StatusOK, res)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, ent *schema.Entity, id string, data Item, status int) {
	def := ent.Definition
	res := h.service.SaveItem(r.Context(), def.Kind, def.Slug, id, data)
	if !res.Success {
		h.handleServiceError(w, res.Err)
		return
	}

	item := h.service.GetItem(r.Context(), def.Kind, def.Slug, ItemQuery{ID: res.ItemID, Status: StatusAll})
	if item == nil {
		server.JSON(w, status, res)
		return
	}
	server.JSON(w, status, h.itemResponse(r, ent, item))
}

// PublicList handles GET /api/{kind}/{slug}. Only published entries are
// visible.
func (h *Handler) PublicList(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupPublic(w, r)
	if !ok {
		return
	}

	opts, err := ParseListOptions(r, ent)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_PARAMS", err.Error(), nil)
		return
	}
	opts.Status = schema.StatusPublished
	opts.AccessPredicate = h.readPredicate(r, ent)

	res := h.service.GetItems(r.Context(), ent.Definition.Kind, ent.Definition.Slug, opts)
	server.JSON(w, http.StatusOK, res)
}

// PublicGet handles GET /api/{kind}/{slug}/{ref}, where ref is an id or a
// slug.
func (h *Handler) PublicGet(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupPublic(w, r)
	if !ok {
		return
	}

	def := ent.Definition
	ref := chi.URLParam(r, "ref")
	q := ItemQuery{
		ID:              ref,
		Status:          schema.StatusPublished,
		AccessPredicate: h.readPredicate(r, ent),
	}

	item := h.service.GetItem(r.Context(), def.Kind, def.Slug, q)
	if item == nil && ent.Table.HasColumn(schema.FieldSlug) {
		q.ID, q.Slug = "", ref
		item = h.service.GetItem(r.Context(), def.Kind, def.Slug, q)
	}
	if item == nil {
		h.handleServiceError(w, ErrNotFound)
		return
	}

	server.JSON(w, http.StatusOK, h.itemResponse(r, ent, item))
}

// PublicTags handles GET /api/tags/{kind}/{slug}.
func (h *Handler) PublicTags(w http.ResponseWriter, r *http.Request) {
	ent, ok := h.lookupPublic(w, r)
	if !ok {
		return
	}
	server.JSON(w, http.StatusOK, h.service.TagCloud(r.Context(), ent.Definition.Kind, ent.Definition.Slug))
}
