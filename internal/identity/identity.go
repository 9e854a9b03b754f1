// Package identity resolves the caller's (userId, role) pair. Authentication
// happens upstream; the auth proxy forwards the resolved identity in
// X-User-ID and X-User-Role. Browsers cannot set headers on a WebSocket
// upgrade, so the user_id and role query parameters are accepted there.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/aspire/market-engine/internal/httpio"
	"github.com/aspire/market-engine/internal/model"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	// Anonymous is the user id given to unauthenticated WebSocket viewers.
	Anonymous = "anonymous"
)

// Identity is the resolved caller.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller holds the ADMIN role.
func (id Identity) IsAdmin() bool {
	return id.Role == model.RoleAdmin
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// FromRequest reads the identity headers. ok is false when no user id was sent.
func FromRequest(r *http.Request) (Identity, bool) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		return Identity{}, false
	}
	return Identity{UserID: uid, Role: normalizeRole(r.Header.Get(HeaderRole))}, true
}

// ForWebSocket resolves a WebSocket viewer. Headers win over query
// parameters; a caller with neither is anonymous with the GUEST role.
func ForWebSocket(r *http.Request) Identity {
	if id, ok := FromRequest(r); ok {
		return id
	}
	q := r.URL.Query()
	if uid := strings.TrimSpace(q.Get("user_id")); uid != "" {
		return Identity{UserID: uid, Role: normalizeRole(q.Get("role"))}
	}
	return Identity{UserID: Anonymous, Role: model.RoleGuest}
}

// Middleware rejects requests without an identity (401) and stores it in
// the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromRequest(r)
		if !ok {
			httpio.WriteStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects non-ADMIN callers with 403. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			httpio.WriteStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.IsAdmin() {
			httpio.WriteStatus(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeRole(raw string) string {
	role := strings.ToUpper(strings.TrimSpace(raw))
	if role == "" {
		return model.RoleGuest
	}
	return role
}
