package auth

import (
	"net/http"
	"strings"

	"github.com/GyroZepelix/mithril-engine/internal/access"
	"github.com/GyroZepelix/mithril-engine/internal/server"
)

// Middleware returns an HTTP middleware that validates JWT Bearer tokens from
// the Authorization header and stores the admin as the acting access.User.
// On failure it returns a 401 JSON error response.
func Middleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				server.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header", nil)
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				server.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format", nil)
				return
			}

			claims, err := ValidateAccessToken(tokenString, jwtSecret)
			if err != nil {
				server.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(access.WithUser(r.Context(), userFromClaims(claims))))
		})
	}
}

// OptionalMiddleware is Middleware for routes that also serve anonymous
// requests: a valid token sets the acting user, anything else passes through
// without one.
func OptionalMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString, ok := bearerToken(r.Header.Get("Authorization")); ok {
				if claims, err := ValidateAccessToken(tokenString, jwtSecret); err == nil {
					r = r.WithContext(access.WithUser(r.Context(), userFromClaims(claims)))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token of a "Bearer <token>" header value.
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func userFromClaims(c *Claims) *access.User {
	return &access.User{ID: c.AdminID(), Email: c.Email, Role: c.Role}
}
