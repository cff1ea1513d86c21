package httpapi

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/server/digest"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
)

type userContextKey struct{}

// userFrom returns the authenticated user the gate stored in the
// request context, or nil on the anonymous surface.
func userFrom(r *http.Request) *models.User {
	u, _ := r.Context().Value(userContextKey{}).(*models.User)
	return u
}

// authenticated wraps a handler with the digest gate. A missing or
// failing Authorization header gets a 401 carrying a fresh
// WWW-Authenticate challenge; a consumed or expired nonce gets the same
// with stale=true so clients retry without re-prompting for credentials.
// An authenticated caller whose role is not in allowed gets a 403.
func (s *Server) authenticated(h http.HandlerFunc, allowed ...models.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.unauthorized(w, r, false, "authentication required")
			return
		}

		creds, err := digest.ParseAuthorization(header)
		if err != nil {
			s.unauthorized(w, r, false, "malformed authorization header")
			return
		}

		user, err := s.validator.Validate(r.Context(), r.Method, r.URL.RequestURI(), creds)
		if err != nil {
			switch {
			case errors.Is(err, digest.ErrStaleNonce):
				s.unauthorized(w, r, true, "stale nonce")
			case errors.Is(err, common.ErrorUnauthorized):
				s.unauthorized(w, r, false, "invalid credentials")
			default:
				s.writeError(w, err)
			}
			return
		}

		if !slices.Contains(allowed, user.Role) {
			s.writeError(w, common.ErrorForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		h(w, r.WithContext(ctx))
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, stale bool, reason string) {
	challenge, err := s.validator.Challenge(stale)
	if err != nil {
		s.logger.Error(r.Context(), "issuing challenge failed", "error", err.Error())
		s.writeError(w, common.ErrorInternal)
		return
	}
	w.Header().Set("WWW-Authenticate", challenge)
	s.writeErrorStatus(w, http.StatusUnauthorized, reason)
}
