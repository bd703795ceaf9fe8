// Package tasks turns agent proposals into persisted, PENDING agent tasks.
// Nothing here executes a proposal.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
)

// Store persists new agent tasks.
type Store interface {
	Create(ctx context.Context, t *models.AgentTask) error
}

// CreateResult is the tagged outcome of CreateTask.
type CreateResult struct {
	Success bool              `json:"success"`
	TaskID  string            `json:"taskId,omitempty"`
	Message string            `json:"message"`
	Task    *models.AgentTask `json:"task,omitempty"`
}

type Service struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewService(store Store, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger, metrics: m}
}

// CreateTask validates p and persists it as a PENDING task awaiting review.
// Caller overrides of requiresApproval, autoExecute and priority are stored
// as given; the initial approval state is always PENDING.
func (s *Service) CreateTask(ctx context.Context, p CreateParams) CreateResult {
	if v := ValidateParams(p); !v.Valid {
		return CreateResult{Message: v.Error}
	}

	payload, err := json.Marshal(p.ActionPayload)
	if err != nil {
		return CreateResult{Message: "actionPayload is not serializable"}
	}

	rule := RuleFor(p.Category)
	task := &models.AgentTask{
		ID:               uuid.New(),
		OrganizationID:   p.OrganizationID,
		AgentID:          p.AgentID,
		Title:            p.Title,
		Description:      p.Description,
		Category:         p.Category,
		ActionType:       p.ActionType,
		TargetEntity:     p.TargetEntity,
		ActionPayload:    payload,
		Reasoning:        p.Reasoning,
		RequiresApproval: rule.RequiresApproval,
		AutoExecute:      rule.AutoExecute,
		AutomationLevel:  rule.AutomationLevel,
		Priority:         rule.DefaultPriority,
		DueDate:          p.DueDate,
		ApprovalStatus:   models.ApprovalPending,
		Status:           models.TaskStatusPending,
	}
	if p.RequiresApproval != nil {
		task.RequiresApproval = *p.RequiresApproval
	}
	if p.AutoExecute != nil {
		task.AutoExecute = *p.AutoExecute
	}
	if p.Priority != "" {
		task.Priority = p.Priority
	}

	if err := s.store.Create(ctx, task); err != nil {
		s.log.Error("create agent task", "agent_id", p.AgentID, "organization_id", p.OrganizationID,
			"category", p.Category, "error", err)
		return CreateResult{Message: "failed to create task"}
	}

	s.metrics.TaskProposed(string(task.Category))
	s.log.Info("agent task proposed", "task_id", task.ID, "agent_id", task.AgentID,
		"organization_id", task.OrganizationID, "category", task.Category, "priority", task.Priority)
	return CreateResult{
		Success: true,
		TaskID:  task.ID.String(),
		Message: "Task created and awaiting approval",
		Task:    task,
	}
}

// WhatsAppParams proposes one message to a list of recipients.
type WhatsAppParams struct {
	AgentID        string            `json:"agentId"`
	OrganizationID string            `json:"organizationId"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Recipients     []string          `json:"recipients"`
	Message        string            `json:"message"`
	Reasoning      *models.Reasoning `json:"reasoning,omitempty"`
	Priority       models.Priority   `json:"priority,omitempty"`
}

func (s *Service) CreateWhatsAppNotificationTask(ctx context.Context, p WhatsAppParams) CreateResult {
	recipients := p.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	return s.CreateTask(ctx, CreateParams{
		AgentID:        p.AgentID,
		OrganizationID: p.OrganizationID,
		Title:          p.Title,
		Description:    p.Description,
		Category:       models.CategoryWhatsAppMessage,
		ActionType:     models.ActionSendMessage,
		ActionPayload:  map[string]any{"recipients": recipients, "message": p.Message},
		Reasoning:      p.Reasoning,
		Priority:       p.Priority,
	})
}

// DatabaseUpdateParams proposes a batch change to one entity.
type DatabaseUpdateParams struct {
	AgentID        string            `json:"agentId"`
	OrganizationID string            `json:"organizationId"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	TargetEntity   string            `json:"targetEntity"`
	Operation      string            `json:"operation"` // UPDATE | CREATE | DELETE
	Records        []map[string]any  `json:"records"`
	Reasoning      *models.Reasoning `json:"reasoning,omitempty"`
	Priority       models.Priority   `json:"priority,omitempty"`
}

var recordActions = map[string]models.ActionType{
	"UPDATE": models.ActionUpdateRecord,
	"CREATE": models.ActionCreateRecord,
	"DELETE": models.ActionDeleteRecord,
}

func (s *Service) CreateDatabaseUpdateTask(ctx context.Context, p DatabaseUpdateParams) CreateResult {
	action, ok := recordActions[strings.ToUpper(p.Operation)]
	if !ok {
		return CreateResult{Message: fmt.Sprintf("operation must be UPDATE, CREATE or DELETE, got %q", p.Operation)}
	}
	records := p.Records
	if records == nil {
		records = []map[string]any{}
	}
	return s.CreateTask(ctx, CreateParams{
		AgentID:        p.AgentID,
		OrganizationID: p.OrganizationID,
		Title:          p.Title,
		Description:    p.Description,
		Category:       models.CategoryDatabaseChange,
		ActionType:     action,
		TargetEntity:   p.TargetEntity,
		ActionPayload:  map[string]any{"records": records},
		Reasoning:      p.Reasoning,
		Priority:       p.Priority,
	})
}
