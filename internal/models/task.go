package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskCategory classifies what kind of side effect an agent is proposing.
type TaskCategory string

const (
	CategoryDatabaseChange  TaskCategory = "DATABASE_CHANGE"
	CategoryWhatsAppMessage TaskCategory = "WHATSAPP_MESSAGE"
	CategoryEmail           TaskCategory = "EMAIL"
	CategorySMS             TaskCategory = "SMS"
	CategoryMarketing       TaskCategory = "MARKETING"
	CategoryBilling         TaskCategory = "BILLING"
	CategoryEnrollment      TaskCategory = "ENROLLMENT"
)

// Valid reports whether c is one of the known categories.
func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryDatabaseChange, CategoryWhatsAppMessage, CategoryEmail, CategorySMS,
		CategoryMarketing, CategoryBilling, CategoryEnrollment:
		return true
	}
	return false
}

type ActionType string

const (
	ActionUpdateRecord ActionType = "UPDATE_RECORD"
	ActionSendMessage  ActionType = "SEND_MESSAGE"
	ActionCreateRecord ActionType = "CREATE_RECORD"
	ActionDeleteRecord ActionType = "DELETE_RECORD"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionUpdateRecord, ActionSendMessage, ActionCreateRecord, ActionDeleteRecord:
		return true
	}
	return false
}

// AutomationLevel is descriptive metadata for the executor; nothing in this
// service skips human review because of it.
type AutomationLevel string

const (
	AutomationManual      AutomationLevel = "MANUAL"
	AutomationSemiAuto    AutomationLevel = "SEMI_AUTO"
	AutomationAutoLowRisk AutomationLevel = "AUTO_LOW_RISK"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Task status values. PENDING -> QUEUED (approved, job enqueued) -> EXECUTED | FAILED.
// A rejected task ends in CANCELLED.
const (
	TaskStatusPending   = "PENDING"
	TaskStatusQueued    = "QUEUED"
	TaskStatusExecuted  = "EXECUTED"
	TaskStatusFailed    = "FAILED"
	TaskStatusCancelled = "CANCELLED"
)

// Reasoning is the agent's justification, shown to reviewers only.
type Reasoning struct {
	Insights       []string       `json:"insights,omitempty"`
	ExpectedImpact string         `json:"expectedImpact,omitempty"`
	Risks          []string       `json:"risks,omitempty"`
	DataSupport    map[string]any `json:"dataSupport,omitempty"`
}

type AgentTask struct {
	ID               uuid.UUID       `json:"id"`
	OrganizationID   string          `json:"organizationId"`
	AgentID          string          `json:"agentId"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         TaskCategory    `json:"category"`
	ActionType       ActionType      `json:"actionType"`
	TargetEntity     string          `json:"targetEntity,omitempty"`
	ActionPayload    json.RawMessage `json:"actionPayload"`
	Reasoning        *Reasoning      `json:"reasoning,omitempty"`
	RequiresApproval bool            `json:"requiresApproval"`
	AutoExecute      bool            `json:"autoExecute"`
	AutomationLevel  AutomationLevel `json:"automationLevel"`
	Priority         Priority        `json:"priority"`
	DueDate          *time.Time      `json:"dueDate,omitempty"`
	ApprovalStatus   ApprovalStatus  `json:"approvalStatus"`
	Status           string          `json:"status"`
	ReviewedBy       *string         `json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewedAt,omitempty"`
	ReviewNote       string          `json:"reviewNote,omitempty"`
	ExecutionResult  json.RawMessage `json:"executionResult,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}
