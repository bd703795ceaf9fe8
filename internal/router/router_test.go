package router

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/dashboard"
	"github.com/academyhub/backend/internal/models"
)

type nopStaff struct{}

func (nopStaff) Create(context.Context, *models.StaffUser) error { return nil }
func (nopStaff) GetByEmail(context.Context, string) (*models.StaffUser, error) {
	return nil, nil
}

type nopKeys struct{}

func (nopKeys) Create(context.Context, *models.AgentKey) error { return nil }
func (nopKeys) ListByOrganization(context.Context, string) ([]*models.AgentKey, error) {
	return nil, nil
}
func (nopKeys) Deactivate(context.Context, uuid.UUID, string) error { return nil }

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
}

func TestRouter(t *testing.T) {
	h := New(
		auth.NewHandler(auth.NewService(nopStaff{}, "s"), nil),
		dashboard.NewHandler(nopKeys{}, nil),
		denyAll,
	)
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.com","password":"x"}`, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/auth/login", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/auth/register", `{"email":"x@y.com","password":"password1","display_name":"X","role":"admin"}`, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/agent-keys", "", http.StatusUnauthorized},
		{http.MethodDelete, "/api/v1/agent-keys/" + uuid.NewString(), "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/unknown", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body)))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}
