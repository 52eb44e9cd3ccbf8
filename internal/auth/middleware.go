package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// CredentialFromRequest extracts the bearer credential from a request,
// checking the Authorization header (Bearer, or Basic with the password
// field treated as the token) and finally the token query parameter.
func CredentialFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if _, password, ok := r.BasicAuth(); ok && password != "" {
		return password
	}
	return r.URL.Query().Get("token")
}

// Middleware returns an HTTP middleware that resolves the request's session
// credential and stores the identity in the request context. Requests
// without a valid credential are rejected with 401.
func Middleware(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := CredentialFromRequest(r)
			id, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				slog.Debug("Rejecting unauthenticated request",
					"method", r.Method,
					"path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
