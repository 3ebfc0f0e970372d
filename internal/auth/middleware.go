package auth

import (
	"net/http"
	"strings"

	"github.com/atlas-retail/atlas-retail/internal/platform/httpx"
)

// Middleware rejects requests without a valid API key. The key travels as
// "Authorization: Bearer <id>.<secret>".
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "api key required")
			return
		}
		if _, err := s.Authenticate(r.Context(), token); err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
