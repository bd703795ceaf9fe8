package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/handlers"
	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

type keyLookup struct {
	byHash map[string]*models.AgentKey
}

func (k *keyLookup) FindByKeyHash(_ context.Context, hash string) (*models.AgentKey, error) {
	if key, ok := k.byHash[hash]; ok {
		return key, nil
	}
	return nil, repository.ErrKeyNotFound
}

type rejectAll struct{}

func (rejectAll) ValidateToken(context.Context, string) (auth.Principal, error) {
	return auth.Principal{}, auth.ErrInvalidToken
}

func newTestMux(t *testing.T, perMinute int) (*http.ServeMux, *metrics.Metrics, string) {
	t.Helper()
	raw, hash, err := middleware.GenerateKey()
	require.NoError(t, err)
	keys := &keyLookup{byHash: map[string]*models.AgentKey{
		hash: {AgentID: "bot", OrganizationID: "org-a", IsActive: true},
	}}

	m := metrics.New("test", prometheus.NewRegistry())
	agent := &handlers.AgentHandler{Catalog: catalog.New(repository.NewMemoryStore(), nil, m)}
	review := &handlers.ReviewHandler{}

	mux := http.NewServeMux()
	RegisterV1Routes(mux, agent, review, keys, middleware.StaffAuth(rejectAll{}),
		middleware.NewLocalLimiter(perMinute), m, nil)
	return mux, m, raw
}

func TestRoutes_AgentNeedsKey(t *testing.T) {
	mux, _, _ := newTestMux(t, 60)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queries", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_AgentListsQueries(t *testing.T) {
	mux, _, raw := newTestMux(t, 60)

	req := httptest.NewRequest(http.MethodGet, "/v1/queries", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool                `json:"success"`
		Data    []catalog.QueryInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data)
}

func TestRoutes_AgentRateLimited(t *testing.T) {
	mux, m, raw := newTestMux(t, 1)

	codes := make([]int, 0, 2)
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/v1/queries", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimited))
}

func TestRoutes_ReviewNeedsStaffToken(t *testing.T) {
	mux, _, raw := newTestMux(t, 60)

	// An agent key is not a staff credential.
	req := httptest.NewRequest(http.MethodGet, "/v1/review/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
