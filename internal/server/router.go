package server

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/GyroZepelix/mithril-engine/internal/database"
)

// AuthHandler signs admins in. The handler interfaces below keep server free
// of imports from the packages that themselves import server.
type AuthHandler interface {
	Login(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
}

// ContentHandler mounts the public and admin content APIs.
type ContentHandler interface {
	PublicRoutes(r chi.Router)
	AdminRoutes(r chi.Router)
}

// TypesHandler mounts the type registry introspection endpoints.
type TypesHandler interface {
	Routes(r chi.Router)
}

// SchemaHandler handles schema refreshes.
type SchemaHandler interface {
	Refresh(w http.ResponseWriter, r *http.Request)
}

// MediaHandler handles uploads and file serving.
type MediaHandler interface {
	Upload(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
	Serve(w http.ResponseWriter, r *http.Request)
}

// AuditHandler lists audit log entries.
type AuditHandler interface {
	List(w http.ResponseWriter, r *http.Request)
}

// Dependencies is everything NewRouter mounts. A nil handler leaves its
// routes out of the tree.
type Dependencies struct {
	DB          *database.DB
	Logger      *slog.Logger
	DevMode     bool
	CORSOrigins []string

	// AuthMiddleware rejects requests without a valid token. OptionalAuth
	// attaches the user when a token is present and lets anonymous
	// requests through.
	AuthMiddleware func(http.Handler) http.Handler
	OptionalAuth   func(http.Handler) http.Handler

	Auth    AuthHandler
	Content ContentHandler
	Types   TypesHandler
	Schema  SchemaHandler
	Media   MediaHandler
	Audit   AuditHandler
}

// NewRouter builds the chi router with the full route tree and middleware
// stack.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(logger),
		middleware.Recoverer,
		corsMiddleware(deps.DevMode, deps.CORSOrigins),
	)

	r.Get("/health", healthHandler(deps))
	r.Route("/api", deps.mountPublic)
	r.Route("/admin/api", deps.mountAdmin)
	if deps.Media != nil {
		r.Get("/media/{ref}", deps.Media.Serve)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}

// mountPublic serves published content to anyone; a valid token only widens
// what the authorizer lets through.
func (deps Dependencies) mountPublic(r chi.Router) {
	if deps.OptionalAuth != nil {
		r.Use(deps.OptionalAuth)
	}
	if deps.Content != nil {
		deps.Content.PublicRoutes(r)
	}
}

// mountAdmin serves the JSON admin API. Everything but login sits behind
// AuthMiddleware.
func (deps Dependencies) mountAdmin(r chi.Router) {
	r.Use(requireJSON)
	if deps.Auth != nil {
		r.Post("/auth/login", deps.Auth.Login)
	}

	r.Group(func(r chi.Router) {
		if deps.AuthMiddleware != nil {
			r.Use(deps.AuthMiddleware)
		}
		if deps.Auth != nil {
			r.Get("/auth/me", deps.Auth.Me)
		}
		if deps.Types != nil {
			deps.Types.Routes(r)
		}
		if deps.Content != nil {
			deps.Content.AdminRoutes(r)
		}
		if deps.Schema != nil {
			r.Post("/schema/refresh", deps.Schema.Refresh)
		}
		if m := deps.Media; m != nil {
			r.Route("/media", func(r chi.Router) {
				r.Post("/", m.Upload)
				r.Get("/", m.List)
				r.Get("/{id}", m.Get)
				r.Patch("/{id}", m.Update)
				r.Delete("/{id}", m.Delete)
			})
		}
		if deps.Audit != nil {
			r.Get("/audit-log", deps.Audit.List)
		}
	})
}

// devOrigins are allowed on top of the configured origins in dev mode.
var devOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

func corsMiddleware(devMode bool, origins []string) func(http.Handler) http.Handler {
	allowed := slices.Clone(origins)
	if devMode {
		allowed = append(allowed, devOrigins...)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// healthHandler answers 200 with the dialect name while the database
// responds, 503 otherwise.
func healthHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.DB == nil {
			JSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := deps.DB.Health(r.Context()); err != nil {
			Error(w, http.StatusServiceUnavailable, "DB_UNHEALTHY", "database health check failed", nil)
			return
		}
		JSON(w, http.StatusOK, map[string]string{"status": "ok", "dialect": deps.DB.Dialect().Name()})
	}
}
