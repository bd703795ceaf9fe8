// Package notification sends SMS, email, push and WhatsApp messages on behalf
// of agents. Every channel is gated by default: a send request becomes a
// PENDING agent task, and the message leaves only after a reviewer approves it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/tasks"
)

var (
	ErrNotApproved    = errors.New("permission is not approved")
	ErrUnknownRequest = errors.New("permission not found")
)

// Proposer creates the permission request for a gated send.
type Proposer interface {
	CreateTask(ctx context.Context, p tasks.CreateParams) tasks.CreateResult
}

// TaskLookup reads a permission back when an approved action runs.
type TaskLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentTask, error)
}

// Origin identifies who asks for a notification.
type Origin struct {
	AgentID        string            `json:"agentId"`
	OrganizationID string            `json:"organizationId"`
	Reasoning      *models.Reasoning `json:"reasoning,omitempty"`
}

// RequirePermission nil means true on every channel.
type SMSParams struct {
	Origin
	Recipients        []string `json:"recipients"`
	Message           string   `json:"message"`
	RequirePermission *bool    `json:"-"`
}

type EmailParams struct {
	Origin
	Recipients        []string `json:"recipients"`
	Subject           string   `json:"subject"`
	Body              string   `json:"body"`
	RequirePermission *bool    `json:"-"`
}

type PushParams struct {
	Origin
	Recipients        []string       `json:"recipients"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Data              map[string]any `json:"data,omitempty"`
	RequirePermission *bool          `json:"-"`
}

// Result is the tagged outcome of a send request.
type Result struct {
	Success          bool     `json:"success"`
	Data             *Receipt `json:"data,omitempty"`
	RequiresApproval bool     `json:"requiresApproval,omitempty"`
	PermissionID     string   `json:"permissionId,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// ApprovedAction describes the message stored in an approved task.
type ApprovedAction struct {
	Type       Channel        `json:"type"`
	Recipients []string       `json:"recipients"`
	Message    string         `json:"message,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body,omitempty"`
	Title      string         `json:"title,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// channelCategory is the task category a gated send is filed under. Push has
// no category of its own and is reviewed as marketing.
var channelCategory = map[Channel]models.TaskCategory{
	ChannelSMS:      models.CategorySMS,
	ChannelEmail:    models.CategoryEmail,
	ChannelPush:     models.CategoryMarketing,
	ChannelWhatsApp: models.CategoryWhatsAppMessage,
}

type Gateway struct {
	proposer Proposer
	lookup   TaskLookup
	provider Provider
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewGateway(proposer Proposer, lookup TaskLookup, provider Provider, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = NewLogProvider(logger)
	}
	return &Gateway{proposer: proposer, lookup: lookup, provider: provider, log: logger, metrics: m}
}

func (g *Gateway) SendSMS(ctx context.Context, p SMSParams) Result {
	return g.send(ctx, p.Origin, Message{Channel: ChannelSMS, Recipients: p.Recipients, Message: p.Message}, p.RequirePermission)
}

func (g *Gateway) SendEmail(ctx context.Context, p EmailParams) Result {
	return g.send(ctx, p.Origin, Message{Channel: ChannelEmail, Recipients: p.Recipients, Subject: p.Subject, Body: p.Body}, p.RequirePermission)
}

func (g *Gateway) SendPushNotification(ctx context.Context, p PushParams) Result {
	return g.send(ctx, p.Origin, Message{Channel: ChannelPush, Recipients: p.Recipients, Title: p.Title, Message: p.Message, Data: p.Data}, p.RequirePermission)
}

func (g *Gateway) send(ctx context.Context, origin Origin, msg Message, requirePermission *bool) Result {
	if err := validateMessage(&msg); err != nil {
		g.metrics.Notification(string(msg.Channel), "invalid")
		return Result{Error: err.Error()}
	}
	if requirePermission == nil || *requirePermission {
		return g.requestPermission(ctx, origin, msg)
	}
	return g.deliver(ctx, msg)
}

func (g *Gateway) requestPermission(ctx context.Context, origin Origin, msg Message) Result {
	res := g.proposer.CreateTask(ctx, tasks.CreateParams{
		AgentID:        origin.AgentID,
		OrganizationID: origin.OrganizationID,
		Title:          fmt.Sprintf("Send %s to %d recipient(s)", msg.Channel, len(msg.Recipients)),
		Description:    describeMessage(msg),
		Category:       channelCategory[msg.Channel],
		ActionType:     models.ActionSendMessage,
		ActionPayload:  actionPayload(msg),
		Reasoning:      origin.Reasoning,
	})
	if !res.Success {
		g.metrics.Notification(string(msg.Channel), "failed")
		return Result{Error: res.Message}
	}
	g.metrics.Notification(string(msg.Channel), "gated")
	return Result{Success: true, RequiresApproval: true, PermissionID: res.TaskID}
}

func (g *Gateway) deliver(ctx context.Context, msg Message) Result {
	receipt, err := g.provider.Send(ctx, msg)
	if err != nil {
		g.log.Error("notification delivery failed", "channel", msg.Channel, "task_id", msg.TaskID, "error", err)
		g.metrics.Notification(string(msg.Channel), "failed")
		return Result{Error: fmt.Sprintf("failed to send %s", msg.Channel)}
	}
	g.metrics.Notification(string(msg.Channel), "sent")
	return Result{Success: true, Data: &receipt}
}

// ExecuteApprovedAction sends the message of an approved permission without
// gating it again. Only the post-approval executor calls it.
func (g *Gateway) ExecuteApprovedAction(ctx context.Context, permissionID string, action ApprovedAction) Result {
	id, err := uuid.Parse(permissionID)
	if err != nil {
		return Result{Error: fmt.Sprintf("%s: %q", ErrUnknownRequest, permissionID)}
	}
	task, err := g.lookup.GetByID(ctx, id)
	if err != nil {
		g.log.Error("load permission", "permission_id", permissionID, "error", err)
		return Result{Error: ErrUnknownRequest.Error()}
	}
	if task.ApprovalStatus != models.ApprovalApproved {
		g.log.Warn("refusing to send unapproved notification", "permission_id", permissionID, "approval_status", task.ApprovalStatus)
		return Result{Error: ErrNotApproved.Error()}
	}

	msg := Message{
		Channel:    action.Type,
		Recipients: action.Recipients,
		Message:    action.Message,
		Subject:    action.Subject,
		Body:       action.Body,
		Title:      action.Title,
		Data:       action.Data,
		TaskID:     permissionID,
	}
	if err := validateMessage(&msg); err != nil {
		g.metrics.Notification(string(msg.Channel), "invalid")
		return Result{Error: err.Error()}
	}
	g.log.Info("executing approved notification", "permission_id", permissionID, "channel", msg.Channel,
		"reviewed_by", task.ReviewedBy)
	return g.deliver(ctx, msg)
}

func describeMessage(msg Message) string {
	text := msg.Message
	if msg.Channel == ChannelEmail {
		text = msg.Subject
	}
	if utf8.RuneCountInString(text) > 80 {
		text = string([]rune(text)[:80]) + "..."
	}
	return fmt.Sprintf("Agent requested a %s notification to %d recipient(s): %s", msg.Channel, len(msg.Recipients), text)
}

func actionPayload(msg Message) map[string]any {
	p := map[string]any{
		"type":       string(msg.Channel),
		"recipients": msg.Recipients,
	}
	for k, v := range map[string]string{"message": msg.Message, "subject": msg.Subject, "body": msg.Body, "title": msg.Title} {
		if v != "" {
			p[k] = v
		}
	}
	if len(msg.Data) > 0 {
		p["data"] = msg.Data
	}
	return p
}
