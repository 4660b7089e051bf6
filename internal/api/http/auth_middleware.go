package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const ownerContextKey contextKey = "ownerRef"

// requireAuth resolves the bearer token to an owner ref and stores it on the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		ownerRef, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ownerContextKey, ownerRef)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func ownerFromContext(ctx context.Context) (uuid.UUID, bool) {
	ref, ok := ctx.Value(ownerContextKey).(uuid.UUID)
	return ref, ok
}
