// Package dashboard serves the staff console endpoints for managing the
// API keys agents authenticate with.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/academyhub/backend/internal/auth"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

type AgentKeyStore interface {
	Create(ctx context.Context, k *models.AgentKey) error
	ListByOrganization(ctx context.Context, orgID string) ([]*models.AgentKey, error)
	Deactivate(ctx context.Context, id uuid.UUID, orgID string) error
}

type Handler struct {
	keys AgentKeyStore
	log  *slog.Logger
}

func NewHandler(keys AgentKeyStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{keys: keys, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// admin returns the staff principal when it holds the admin role.
func admin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := middleware.StaffFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return p, false
	}
	if p.Role != models.StaffRoleAdmin {
		http.Error(w, "admin role required", http.StatusForbidden)
		return p, false
	}
	return p, true
}

// GET /api/v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.StaffFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              p.UserID,
		"organization_id": p.OrganizationID,
		"role":            p.Role,
	})
}

// GET /api/v1/agent-keys
func (h *Handler) ListAgentKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := admin(w, r)
	if !ok {
		return
	}
	keys, err := h.keys.ListByOrganization(r.Context(), p.OrganizationID)
	if err != nil {
		h.log.Error("list agent keys failed", "organization_id", p.OrganizationID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

type createKeyRequest struct {
	AgentID string `json:"agent_id"`
}

// POST /api/v1/agent-keys
// The raw key is returned once; only its hash is stored.
func (h *Handler) CreateAgentKey(w http.ResponseWriter, r *http.Request) {
	p, ok := admin(w, r)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	k, raw, err := IssueKey(r.Context(), h.keys, p.OrganizationID, req.AgentID)
	if err != nil {
		h.log.Error("create agent key failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("agent key issued", "key_id", k.ID, "agent_id", k.AgentID, "organization_id", k.OrganizationID, "by", p.UserID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         k.ID,
		"agent_id":   k.AgentID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    raw,
	})
}

// DELETE /api/v1/agent-keys/{id}
func (h *Handler) RevokeAgentKey(w http.ResponseWriter, r *http.Request) {
	p, ok := admin(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid key ID", http.StatusBadRequest)
		return
	}
	if err := h.keys.Deactivate(r.Context(), keyID, p.OrganizationID); err != nil {
		if errors.Is(err, repository.ErrKeyNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		h.log.Error("revoke agent key failed", "error", err)
		http.Error(w, "revoke failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("agent key revoked", "key_id", keyID, "organization_id", p.OrganizationID, "by", p.UserID)
	w.WriteHeader(http.StatusNoContent)
}

type keyCreator interface {
	Create(ctx context.Context, k *models.AgentKey) error
}

// IssueKey generates and stores a key for agentID in orgID and returns the
// raw key alongside the stored record.
func IssueKey(ctx context.Context, store keyCreator, orgID, agentID string) (*models.AgentKey, string, error) {
	raw, hash, err := middleware.GenerateKey()
	if err != nil {
		return nil, "", err
	}
	k := &models.AgentKey{
		ID:             uuid.New(),
		AgentID:        agentID,
		OrganizationID: orgID,
		KeyHash:        hash,
		KeyPrefix:      raw[:12],
		IsActive:       true,
	}
	if err := store.Create(ctx, k); err != nil {
		return nil, "", err
	}
	return k, raw, nil
}
