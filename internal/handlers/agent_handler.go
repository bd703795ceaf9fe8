package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/notification"
	"github.com/academyhub/backend/internal/reports"
	"github.com/academyhub/backend/internal/services"
	"github.com/academyhub/backend/internal/tasks"
)

type QueryCatalog interface {
	ExecuteQuery(ctx context.Context, name, orgID string, params catalog.Params) catalog.Result
	ListAvailableQueries() []catalog.QueryInfo
}

type TaskProposer interface {
	CreateTask(ctx context.Context, p tasks.CreateParams) tasks.CreateResult
	CreateWhatsAppNotificationTask(ctx context.Context, p tasks.WhatsAppParams) tasks.CreateResult
	CreateDatabaseUpdateTask(ctx context.Context, p tasks.DatabaseUpdateParams) tasks.CreateResult
}

type Notifier interface {
	SendSMS(ctx context.Context, p notification.SMSParams) notification.Result
	SendEmail(ctx context.Context, p notification.EmailParams) notification.Result
	SendPushNotification(ctx context.Context, p notification.PushParams) notification.Result
}

type ReportGenerator interface {
	Generate(ctx context.Context, p reports.GenerateParams) reports.Result
	ListReportTypes() []reports.ReportType
}

// AgentHandler serves the /v1 endpoints agents call with an API key. The
// agent and organization always come from the authenticated key, never
// from the body.
type AgentHandler struct {
	Catalog   QueryCatalog
	Tasks     TaskProposer
	Notifier  Notifier
	Reports   ReportGenerator
	Validator *services.Validator
	Logger    *slog.Logger
}

func (h *AgentHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *AgentHandler) principal(w http.ResponseWriter, r *http.Request) (middleware.AgentPrincipal, bool) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return p, ok
}

// --- GET /v1/queries ---

func (h *AgentHandler) ListQueries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": h.Catalog.ListAvailableQueries()})
}

// --- POST /v1/queries/{name} ---

type queryRequest struct {
	Params catalog.Params `json:"params"`
}

func (h *AgentHandler) ExecuteQuery(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if !decodeBody(w, r, h.Validator, services.SchemaQueryRequest, &req, h.logger()) {
		return
	}
	res := h.Catalog.ExecuteQuery(r.Context(), r.PathValue("name"), p.OrganizationID, req.Params)
	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case internalErrors[res.Error]:
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusNotFound, res)
	}
}

// --- POST /v1/tasks ---

func (h *AgentHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req tasks.CreateParams
	if !decodeBody(w, r, h.Validator, services.SchemaTaskProposal, &req, h.logger()) {
		return
	}
	req.AgentID, req.OrganizationID = p.AgentID, p.OrganizationID
	h.writeCreate(w, h.Tasks.CreateTask(r.Context(), req))
}

// --- POST /v1/tasks/whatsapp ---

func (h *AgentHandler) CreateWhatsAppTask(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req tasks.WhatsAppParams
	if !decodeBody(w, r, h.Validator, services.SchemaWhatsAppTask, &req, h.logger()) {
		return
	}
	req.AgentID, req.OrganizationID = p.AgentID, p.OrganizationID
	h.writeCreate(w, h.Tasks.CreateWhatsAppNotificationTask(r.Context(), req))
}

// --- POST /v1/tasks/database-update ---

func (h *AgentHandler) CreateDatabaseUpdateTask(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req tasks.DatabaseUpdateParams
	if !decodeBody(w, r, h.Validator, services.SchemaDatabaseUpdateTask, &req, h.logger()) {
		return
	}
	req.AgentID, req.OrganizationID = p.AgentID, p.OrganizationID
	h.writeCreate(w, h.Tasks.CreateDatabaseUpdateTask(r.Context(), req))
}

func (h *AgentHandler) writeCreate(w http.ResponseWriter, res tasks.CreateResult) {
	if !res.Success {
		writeJSON(w, failureStatus(res.Message), res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- POST /v1/notifications/{channel} ---

// SendNotification files a send request for review. Agents cannot opt out
// of the gate: RequirePermission is left nil and is not decodable from JSON.
func (h *AgentHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	origin := notification.Origin{AgentID: p.AgentID, OrganizationID: p.OrganizationID}
	var res notification.Result

	switch notification.Channel(r.PathValue("channel")) {
	case notification.ChannelSMS:
		var req notification.SMSParams
		if !decodeBody(w, r, h.Validator, services.SchemaNotificationSMS, &req, h.logger()) {
			return
		}
		req.Origin = withReasoning(origin, req.Reasoning)
		req.RequirePermission = nil
		res = h.Notifier.SendSMS(r.Context(), req)
	case notification.ChannelEmail:
		var req notification.EmailParams
		if !decodeBody(w, r, h.Validator, services.SchemaNotificationEmail, &req, h.logger()) {
			return
		}
		req.Origin = withReasoning(origin, req.Reasoning)
		req.RequirePermission = nil
		res = h.Notifier.SendEmail(r.Context(), req)
	case notification.ChannelPush:
		var req notification.PushParams
		if !decodeBody(w, r, h.Validator, services.SchemaNotificationPush, &req, h.logger()) {
			return
		}
		req.Origin = withReasoning(origin, req.Reasoning)
		req.RequirePermission = nil
		res = h.Notifier.SendPushNotification(r.Context(), req)
	default:
		writeError(w, http.StatusNotFound, "unknown channel; use sms, email or push")
		return
	}

	switch {
	case res.Success && res.RequiresApproval:
		writeJSON(w, http.StatusAccepted, res)
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, failureStatus(res.Error), res)
	}
}

func withReasoning(o notification.Origin, reasoning *models.Reasoning) notification.Origin {
	o.Reasoning = reasoning
	return o
}

// --- GET /v1/reports ---

func (h *AgentHandler) ListReportTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": h.Reports.ListReportTypes()})
}

// --- POST /v1/reports ---

func (h *AgentHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req reports.GenerateParams
	if !decodeBody(w, r, h.Validator, services.SchemaReportRequest, &req, h.logger()) {
		return
	}
	req.AgentID, req.OrganizationID = p.AgentID, p.OrganizationID
	res := h.Reports.Generate(r.Context(), req)
	if !res.Success {
		writeJSON(w, failureStatus(res.Error), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
