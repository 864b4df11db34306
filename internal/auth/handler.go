package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/audit"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// maxLoginBody caps the login request body.
const maxLoginBody = 1 << 20

// Auditor records audit events.
type Auditor interface {
	Log(ctx context.Context, event audit.Event)
}

// Handler serves the sign-in endpoints.
type Handler struct {
	service *Service
	auditor Auditor
	logger  *slog.Logger
}

// NewHandler builds a Handler. auditor may be nil.
func NewHandler(service *Service, auditor Auditor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, auditor: auditor, logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login handles POST /admin/api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&creds); err != nil {
		server.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body", nil)
		return
	}
	if creds.Email == "" || creds.Password == "" {
		server.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}

	ctx := r.Context()
	admin, token, err := h.service.Login(ctx, creds.Email, creds.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		h.audit(ctx, audit.Event{Action: "auth.login.failure", Payload: map[string]any{"email": creds.Email}})
		server.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password", nil)
		return
	}
	if err != nil {
		h.logger.Error("login failed", "email", creds.Email, "error", err)
		server.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred", nil)
		return
	}

	h.audit(ctx, audit.Event{Action: "auth.login.success", ActorID: admin.ID})
	server.JSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.service.TokenTTL().Seconds()),
	})
}

// Me handles GET /admin/api/auth/me and echoes the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if user := access.UserFromContext(r.Context()); user != nil {
		server.JSON(w, http.StatusOK, user)
		return
	}
	server.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "not authenticated", nil)
}

func (h *Handler) audit(ctx context.Context, event audit.Event) {
	if h.auditor != nil {
		h.auditor.Log(ctx, event)
	}
}
