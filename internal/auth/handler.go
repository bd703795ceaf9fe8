package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/academyhub/backend/internal/models"
)

// RegisterRequest creates a staff account in the calling admin's organization.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type StaffResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	Role           string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

const minPasswordLen = 8

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Register is admin only; it must sit behind staff authentication.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	caller, ok := PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if caller.Role != models.StaffRoleAdmin {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.DisplayName == "" || req.Role == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen {
		http.Error(w, "password must be at least 8 characters", http.StatusBadRequest)
		return
	}
	u, err := h.svc.Register(r.Context(), caller.OrganizationID, req.Email, req.Password, req.DisplayName, req.Role)
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		http.Error(w, "email already registered", http.StatusConflict)
		return
	case errors.Is(err, ErrInvalidRole):
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("register failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	h.log.Info("staff registered", "user_id", u.ID, "role", u.Role, "organization_id", u.OrganizationID, "by", caller.UserID)
	writeJSON(w, http.StatusCreated, StaffResponse{
		ID:             u.ID.String(),
		OrganizationID: u.OrganizationID,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		Role:           u.Role,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "missing email or password", http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
