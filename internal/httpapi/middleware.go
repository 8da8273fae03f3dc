package httpapi

import (
	"net/http"
	"strings"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/errs"
)

// requireAuth resolves the bearer token and attaches the user to the request
// context for the downstream services.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			respondError(w, http.StatusUnauthorized, errs.MsgUnauthenticated)
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		u, err := s.verifier.VerifyToken(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, errs.MsgUnauthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
	})
}
