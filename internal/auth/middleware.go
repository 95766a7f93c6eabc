package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware enforces JWT auth on HTTP requests. In dev mode unauthenticated
// requests pass through with no identity attached; the authorization gate
// still refuses them any tenant they are not assigned to.
func Middleware(service *JWTService, devMode bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				if devMode {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			identity, err := service.Validate(token)
			if err != nil {
				if logger != nil {
					logger.Warn("jwt validation failed", "error", err)
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
