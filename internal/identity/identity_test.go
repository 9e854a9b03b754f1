package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/aspire/market-engine/internal/identity"
	"github.com/aspire/market-engine/internal/model"
)

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
			id, _ := identity.FromContext(r.Context())
			w.Write([]byte(id.UserID + "/" + id.Role))
		})
		r.With(identity.RequireAdmin).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		user   string
		role   string
		status int
		body   string
	}{
		{"missing identity", "/me", "", "", http.StatusUnauthorized, ""},
		{"user defaults to guest role", "/me", "u1", "", http.StatusOK, "u1/GUEST"},
		{"role is uppercased", "/me", "u1", "admin", http.StatusOK, "u1/ADMIN"},
		{"admin route forbidden for users", "/admin", "u1", "USER", http.StatusForbidden, ""},
		{"admin route allowed", "/admin", "root", "ADMIN", http.StatusNoContent, ""},
	}
	router := newRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != "" {
				req.Header.Set(identity.HeaderUserID, tt.user)
			}
			if tt.role != "" {
				req.Header.Set(identity.HeaderRole, tt.role)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestForWebSocket(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	id := identity.ForWebSocket(req)
	assert.Equal(t, identity.Anonymous, id.UserID)
	assert.Equal(t, model.RoleGuest, id.Role)

	req = httptest.NewRequest(http.MethodGet, "/ws?user_id=u7&role=admin", nil)
	id = identity.ForWebSocket(req)
	assert.Equal(t, "u7", id.UserID)
	assert.True(t, id.IsAdmin())

	req.Header.Set(identity.HeaderUserID, "u8")
	assert.Equal(t, "u8", identity.ForWebSocket(req).UserID)
}
