package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/academyhub/backend/internal/approval"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/services"
)

type Approvals interface {
	List(ctx context.Context, orgID string, status models.ApprovalStatus, limit int) ([]*models.AgentTask, error)
	Get(ctx context.Context, orgID string, id uuid.UUID) (*models.AgentTask, error)
	Approve(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string) (*models.AgentTask, error)
	Reject(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string) (*models.AgentTask, error)
}

// ReviewHandler serves /v1/review for staff holding a reviewer JWT. Every
// lookup is scoped to the reviewer's organization.
type ReviewHandler struct {
	Approvals Approvals
	Validator *services.Validator
	Logger    *slog.Logger
}

func (h *ReviewHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// --- GET /v1/review/tasks ---

func (h *ReviewHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	staff, ok := middleware.StaffFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	status := models.ApprovalStatus(r.URL.Query().Get("approvalStatus"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "approvalStatus must be PENDING, APPROVED or REJECTED")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.Approvals.List(r.Context(), staff.OrganizationID, status, limit)
	if err != nil {
		h.logger().Error("list agent tasks", "organization_id", staff.OrganizationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if list == nil {
		list = []*models.AgentTask{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": list})
}

// --- GET /v1/review/tasks/{id} ---

func (h *ReviewHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	staff, ok := middleware.StaffFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.Approvals.Get(r.Context(), staff.OrganizationID, id)
	if err != nil {
		h.writeReviewError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": t})
}

type decisionRequest struct {
	Note string `json:"note"`
}

// --- POST /v1/review/tasks/{id}/approve ---

func (h *ReviewHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Approvals.Approve)
}

// --- POST /v1/review/tasks/{id}/reject ---

func (h *ReviewHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Approvals.Reject)
}

type decideFunc func(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string) (*models.AgentTask, error)

func (h *ReviewHandler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	staff, ok := middleware.StaffFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req decisionRequest
	if !decodeBody(w, r, h.Validator, services.SchemaReviewDecision, &req, h.logger()) {
		return
	}
	t, err := fn(r.Context(), staff.OrganizationID, id, staff.UserID.String(), req.Note)
	if err != nil {
		h.writeReviewError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": t})
}

func (h *ReviewHandler) writeReviewError(w http.ResponseWriter, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, approval.ErrNotPending):
		writeError(w, http.StatusConflict, "task is not pending review")
	default:
		h.logger().Error("review agent task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
