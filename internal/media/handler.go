package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// maxFormSize bounds the multipart body: the upload limit plus form overhead.
const maxFormSize = maxUploadSize + 1<<20

// Handler provides HTTP handlers for media operations.
type Handler struct {
	service     *Service
	transformer *Transformer
	logger      *slog.Logger
}

// NewHandler creates a new media Handler. transformer may be nil, in which
// case variant requests serve the original.
func NewHandler(service *Service, transformer *Transformer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, transformer: transformer, logger: logger}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error, args ...any) {
	h.logger.Error(msg, append(args, "error", err)...)
	server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
}

func notFound(w http.ResponseWriter) {
	server.Error(w, http.StatusNotFound, "NOT_FOUND", "file not found", nil)
}

// Upload handles POST /admin/api/media with a multipart "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_UPLOAD",
			"failed to parse multipart form: file may be too large", nil)
		return
	}

	_, header, err := r.FormFile("file")
	if err != nil {
		server.Error(w, http.StatusBadRequest, "MISSING_FILE",
			"missing 'file' field in multipart form", nil)
		return
	}

	f, err := h.service.Upload(r.Context(), header, access.UserID(r.Context()))
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			server.Error(w, http.StatusBadRequest, "UPLOAD_ERROR", ue.Message, nil)
			return
		}
		h.internalError(w, "media upload failed", err)
		return
	}
	server.JSON(w, http.StatusCreated, f)
}

// List handles GET /admin/api/media.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := server.ParsePagination(r)

	items, total, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		h.internalError(w, "media list failed", err)
		return
	}
	server.Paginated(w, items, server.NewPaginationMeta(page, perPage, total))
}

// Get handles GET /admin/api/media/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	f, err := h.service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			notFound(w)
			return
		}
		h.internalError(w, "media lookup failed", err)
		return
	}
	server.JSON(w, http.StatusOK, f)
}

// Update handles PATCH /admin/api/media/{id}. Only the alt text is editable.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Alt string `json:"alt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_JSON", "request body must be valid JSON", nil)
		return
	}

	if err := h.service.UpdateAlt(r.Context(), id, req.Alt, access.UserID(r.Context())); err != nil {
		if errors.Is(err, ErrNotFound) {
			notFound(w)
			return
		}
		h.internalError(w, "media update failed", err, "id", id)
		return
	}
	h.Get(w, r)
}

// Delete handles DELETE /admin/api/media/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_ID", "id must be a valid UUID", nil)
		return
	}

	if err := h.service.Delete(r.Context(), id, access.UserID(r.Context())); err != nil {
		if errors.Is(err, ErrNotFound) {
			notFound(w)
			return
		}
		h.internalError(w, "media delete failed", err, "id", id)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// Serve handles GET /media/{ref}, where ref is a file id or its stored
// filename. The optional v query parameter picks a resized variant (sm, md,
// lg) of an image.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	f, ok := h.resolve(w, r, chi.URLParam(r, "ref"))
	if !ok {
		return
	}
	setSecurityHeaders(w, f)

	if variant := r.URL.Query().Get("v"); variant != "" && variant != originalDir {
		if _, ok := lookupVariant(variant); !ok {
			server.Error(w, http.StatusBadRequest, "INVALID_VARIANT",
				"variant must be one of: original, sm, md, lg", nil)
			return
		}
		if h.transformer != nil {
			h.serveVariant(w, r, f, variant)
			return
		}
	}

	path := h.service.storage.Path(f.Filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			server.Error(w, http.StatusNotFound, "NOT_FOUND", "media file not found on disk", nil)
			return
		}
		h.internalError(w, "media file stat failed", err, "filename", f.Filename)
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	http.ServeFile(w, r, path)
}

// resolve looks a file up by id when ref is a UUID and by filename otherwise.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, ref string) (*File, bool) {
	var (
		f   *File
		err error
	)
	if _, perr := uuid.Parse(ref); perr == nil {
		f, err = h.service.GetByID(r.Context(), ref)
	} else {
		if !isSecureFilename(ref) {
			server.Error(w, http.StatusBadRequest, "INVALID_FILENAME", "invalid filename", nil)
			return nil, false
		}
		f, err = h.service.GetByFilename(r.Context(), ref)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			notFound(w)
			return nil, false
		}
		h.internalError(w, "media lookup failed", err, "ref", ref)
		return nil, false
	}
	return f, true
}

func (h *Handler) serveVariant(w http.ResponseWriter, r *http.Request, f *File, variant string) {
	data, mimeType, err := h.transformer.Variant(r.Context(), f, variant)
	if err != nil {
		h.logger.Warn("media variant failed", "filename", f.Filename, "variant", variant, "error", err)
		server.Error(w, http.StatusNotFound, "NOT_FOUND", "media file not found on disk", nil)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func setSecurityHeaders(w http.ResponseWriter, f *File) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	// Non-images are downloaded rather than rendered inline.
	if !IsImageMIME(f.MimeType) {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(f.OriginalName)))
	}
}

// sanitizeFilename strips the characters that would break a quoted
// Content-Disposition filename.
func sanitizeFilename(name string) string {
	name = strings.NewReplacer(`"`, "", `\`, "", "\r", "", "\n", "").Replace(name)
	if name == "" {
		return "download"
	}
	return name
}
