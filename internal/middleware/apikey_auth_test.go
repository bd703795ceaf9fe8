package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubKeys struct {
	keys map[string]*models.AgentKey
	err  error
}

func (s *stubKeys) FindByKeyHash(_ context.Context, hash string) (*models.AgentKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	k, ok := s.keys[hash]
	if !ok {
		return nil, repository.ErrKeyNotFound
	}
	return k, nil
}

// principalHandler echoes the agent principal as "org/agent".
var principalHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromCtx(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(p.OrganizationID + "/" + p.AgentID))
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	raw, hash, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, KeyPrefix))

	keys := &stubKeys{keys: map[string]*models.AgentKey{
		hash: {ID: uuid.New(), AgentID: "retention-bot", OrganizationID: "org-a", IsActive: true},
	}}
	h := APIKeyAuth(keys, nil)(principalHandler)

	req := httptest.NewRequest(http.MethodGet, "/v1/queries", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "org-a/retention-bot", rec.Body.String())
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
	}{
		{"missing header", "", nil},
		{"not bearer", "Basic abc", nil},
		{"unknown key", "Bearer ahk_nope", nil},
		{"lookup error", "Bearer ahk_nope", errors.New("db down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := APIKeyAuth(&stubKeys{err: tc.err}, nil)(principalHandler)
			req := httptest.NewRequest(http.MethodGet, "/v1/queries", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	assert.Equal(t, HashKey("ahk_x"), HashKey("ahk_x"))
	assert.NotEqual(t, HashKey("ahk_x"), HashKey("ahk_y"))
	assert.Len(t, HashKey("ahk_x"), 64)
}
