package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/providentiaww/dam-sync/internal/models"
)

// AdminMiddleware guards operator endpoints with a static bearer token.
type AdminMiddleware struct {
	token string
}

// NewAdminMiddleware creates the middleware. An empty token rejects every request.
func NewAdminMiddleware(token string) *AdminMiddleware {
	return &AdminMiddleware{token: token}
}

// Handler wraps an HTTP handler with the token check
func (m *AdminMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if m.token == "" {
			deny(w, r, http.StatusForbidden, "Admin endpoints are disabled: ADMIN_TOKEN is not set")
			return
		}

		token := ExtractTokenFromHeader(r)
		if token == "" {
			deny(w, r, http.StatusUnauthorized, "Unauthorized: missing authentication token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			deny(w, r, http.StatusUnauthorized, "Unauthorized: invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ExtractTokenFromHeader returns the bearer token from the Authorization header
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func deny(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse(models.ErrCodeAuthFailed, message, middleware.GetReqID(r.Context())))
}
