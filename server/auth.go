package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/GoCodeAlone/taskpilot/identity"
)

// handleMe returns the currently authenticated subject.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subject, _ := identity.SubjectFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]string{"subject": subject},
	})
}

// authMiddleware verifies the bearer token and stores its subject in the
// request context. Resolving the subject to a user is left to the service.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, "Authentication required")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := s.verifier.Verify(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, identity.ErrTokenExpired) {
				msg = "Token has expired"
			}
			s.logger.Debug("auth: token rejected", "error", err)
			writeAuthError(w, msg)
			return
		}
		ctx := identity.WithSubject(r.Context(), subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
