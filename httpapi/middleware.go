package httpapi

import (
	"context"
	"net/http"
	"strings"

	"collabflow/auth"
	"collabflow/collaboration"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	ctxKeyUserID        contextKey = "userID"
	ctxKeyRole          contextKey = "role"
	ctxKeyCollaboration contextKey = "collaboration"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		identity, err := s.verifier.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, identity.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, identity.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) (auth.Identity, bool) {
	userID, _ := ctx.Value(ctxKeyUserID).(string)
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	if userID == "" || role == "" {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: userID, Role: role}, true
}

// requireParty loads the collaboration in the path and lets only its brand,
// its influencer or an admin through.
func (s *Server) requireParty(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := identityFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		c, err := s.collaborationService.Get(r.Context(), chi.URLParam(r, "collaborationID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !isParty(identity, c) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not a party to this collaboration")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCollaboration, c)))
	})
}

func isParty(identity auth.Identity, c collaboration.Collaboration) bool {
	switch identity.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleBrand:
		return identity.UserID == c.BrandID
	case auth.RoleInfluencer:
		return identity.UserID == c.InfluencerID
	default:
		return false
	}
}

func collaborationFrom(ctx context.Context) (collaboration.Collaboration, bool) {
	c, ok := ctx.Value(ctxKeyCollaboration).(collaboration.Collaboration)
	return c, ok
}
