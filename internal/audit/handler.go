package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// Handler serves the audit log API.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new audit Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// List handles GET /admin/api/audit-log. The query may filter by action,
// actor_id, resource and resource_id (exact matches) and by since, an
// RFC 3339 timestamp.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := Filters{
		Action:     q.Get("action"),
		ActorID:    q.Get("actor_id"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			server.Error(w, http.StatusBadRequest, "INVALID_PARAMS",
				"since must be an RFC 3339 timestamp", nil)
			return
		}
		filters.Since = since
	}

	page, perPage := server.ParsePagination(r)
	entries, total, err := h.service.List(r.Context(), filters, page, perPage)
	if err != nil {
		h.logger.Error("audit log list failed", "error", err)
		server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"an internal error occurred", nil)
		return
	}

	server.Paginated(w, entries, server.NewPaginationMeta(page, perPage, total))
}
