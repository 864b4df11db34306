// Package schemaapi provides HTTP handlers for schema management operations.
// It is separated from the schema package to avoid import cycles, since the
// handler depends on the server, access, and audit packages.
package schemaapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/schema"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// Refresher applies the definitions under a directory.
type Refresher interface {
	Refresh(ctx context.Context, dir string) (*schema.RefreshResult, *schema.Catalog, error)
}

// Auditor records audit events.
type Auditor interface {
	Log(ctx context.Context, event audit.Event)
}

// Handler provides HTTP handlers for schema management operations.
type Handler struct {
	engine         Refresher
	definitionsDir string
	auditor        Auditor
	logger         *slog.Logger

	// mu serializes refreshes.
	mu sync.Mutex

	// onRefresh receives the new catalog after a successful refresh so the
	// content service and other holders can swap it in.
	onRefresh func(*schema.Catalog)
}

// NewHandler creates a new schema Handler. auditor and onRefresh are
// optional.
func NewHandler(engine Refresher, definitionsDir string, auditor Auditor, onRefresh func(*schema.Catalog), logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:         engine,
		definitionsDir: definitionsDir,
		auditor:        auditor,
		onRefresh:      onRefresh,
		logger:         logger,
	}
}

// Refresh handles POST /admin/api/schema/refresh. It reloads the definitions
// from disk, diffs them against the database and the type registry, and
// applies the changes.
//
// Response on success (200):
//
//	{"data": {"applied": [...], "new_types": [...], "updated_types": [...], "removed_types": [...]}}
//
// Response on breaking changes (409) or invalid definitions (422):
//
//	{"error": {"code": "BREAKING_CHANGES", "message": "...", "details": [...]}}
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	result, catalog, err := h.engine.Refresh(r.Context(), h.definitionsDir)
	if err != nil {
		var (
			breaking *schema.BreakingChangesError
			defErr   *schema.DefinitionError
		)
		switch {
		case errors.As(err, &breaking):
			details := make([]server.FieldError, 0, len(breaking.Changes))
			for _, c := range breaking.Changes {
				field := c.Table
				if c.Column != "" {
					field += "." + c.Column
				}
				details = append(details, server.FieldError{Field: field, Message: c.Detail})
			}
			server.Error(w, http.StatusConflict, "BREAKING_CHANGES",
				"schema refresh blocked due to breaking changes", details)
		case errors.As(err, &defErr):
			details := make([]server.FieldError, 0, len(defErr.Problems))
			for _, p := range defErr.Problems {
				details = append(details, server.FieldError{Message: p})
			}
			server.Error(w, http.StatusUnprocessableEntity, "INVALID_DEFINITIONS",
				"schema refresh blocked by invalid definitions", details)
		default:
			h.logger.Error("schema refresh failed", "error", err)
			server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"schema refresh failed", nil)
		}
		return
	}

	if h.onRefresh != nil && catalog != nil {
		h.onRefresh(catalog)
	}

	if h.auditor != nil {
		h.auditor.Log(r.Context(), audit.Event{
			Action:  "schema.refresh",
			ActorID: access.UserID(r.Context()),
			Payload: map[string]any{
				"applied_count": len(result.Applied),
				"new_types":     result.NewTypes,
				"updated_types": result.UpdatedTypes,
				"removed_types": result.RemovedTypes,
			},
		})
	}

	applied := result.Applied
	if applied == nil {
		applied = []schema.Change{}
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"applied":       applied,
		"new_types":     result.NewTypes,
		"updated_types": result.UpdatedTypes,
		"removed_types": result.RemovedTypes,
	})
}
