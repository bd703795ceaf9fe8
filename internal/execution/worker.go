// Package execution carries out agent tasks after a reviewer approved them.
// It is the only caller of the notification gateway's approved path and of
// the mutation gateway on behalf of a task.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/academyhub/backend/internal/gateway"
	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/notification"
)

var ErrNotApproved = errors.New("task is not approved")

type ExecuteTaskArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (ExecuteTaskArgs) Kind() string { return "execute_agent_task" }

// InsertOpts disables retries: replaying an approved side effect is worse
// than surfacing the failure to a reviewer.
func (ExecuteTaskArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// TaskStore reads tasks and records how their execution ended.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentTask, error)
	MarkExecuted(ctx context.Context, id uuid.UUID, result []byte) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type Mutator interface {
	ExecuteQuery(ctx context.Context, req models.MutationRequest) gateway.Result
}

type Notifier interface {
	ExecuteApprovedAction(ctx context.Context, permissionID string, action notification.ApprovedAction) notification.Result
}

type Executor struct {
	tasks    TaskStore
	mutator  Mutator
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewExecutor(tasks TaskStore, mutator Mutator, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{tasks: tasks, mutator: mutator, notifier: notifier, log: logger, metrics: m}
}

// Execute runs one approved task and records EXECUTED or FAILED. An error is
// returned only when the task cannot be loaded or its outcome not stored.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID) error {
	task, err := e.tasks.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load task %s: %w", id, err)
	}
	switch task.Status {
	case models.TaskStatusExecuted, models.TaskStatusFailed:
		e.log.Info("task already finished, skipping", "task_id", id, "status", task.Status)
		return nil
	}
	if task.ApprovalStatus != models.ApprovalApproved {
		return fmt.Errorf("%w: %s is %s", ErrNotApproved, id, task.ApprovalStatus)
	}

	var result any
	switch task.ActionType {
	case models.ActionSendMessage:
		result, err = e.sendMessage(ctx, task)
	case models.ActionUpdateRecord, models.ActionCreateRecord:
		result, err = e.applyRecords(ctx, task)
	case models.ActionDeleteRecord:
		err = errors.New("DELETE_RECORD is not supported: the mutation gateway has no DELETE operation")
	default:
		err = fmt.Errorf("unknown action type %q", task.ActionType)
	}

	if err != nil {
		e.metrics.TaskExecuted(string(task.ActionType), false)
		e.log.Warn("approved task failed", "task_id", id, "action_type", task.ActionType, "error", err)
		if markErr := e.tasks.MarkFailed(ctx, id, err.Error()); markErr != nil {
			return fmt.Errorf("task failed (%s) AND failed to mark it failed: %w", err, markErr)
		}
		return nil
	}

	// From here on the side effect has happened and the job is never retried,
	// so a bookkeeping failure needs an operator to reconcile the row.
	out, err := json.Marshal(result)
	if err != nil {
		e.log.Error("task effect applied but result could not be encoded; row needs manual reconciliation",
			"task_id", id, "action_type", task.ActionType, "error", err)
		return fmt.Errorf("encode execution result: %w", err)
	}
	if err := e.tasks.MarkExecuted(ctx, id, out); err != nil {
		e.log.Error("task effect applied but task could not be marked executed; row needs manual reconciliation",
			"task_id", id, "action_type", task.ActionType, "result", string(out), "error", err)
		return fmt.Errorf("mark task executed: %w", err)
	}
	e.metrics.TaskExecuted(string(task.ActionType), true)
	e.log.Info("approved task executed", "task_id", id, "action_type", task.ActionType)
	return nil
}

var categoryChannel = map[models.TaskCategory]notification.Channel{
	models.CategorySMS:             notification.ChannelSMS,
	models.CategoryEmail:           notification.ChannelEmail,
	models.CategoryWhatsAppMessage: notification.ChannelWhatsApp,
	models.CategoryMarketing:       notification.ChannelPush,
}

func (e *Executor) sendMessage(ctx context.Context, task *models.AgentTask) (any, error) {
	var action notification.ApprovedAction
	if err := json.Unmarshal(task.ActionPayload, &action); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	if action.Type == "" {
		ch, ok := categoryChannel[task.Category]
		if !ok {
			return nil, fmt.Errorf("no channel for category %s", task.Category)
		}
		action.Type = ch
	}
	res := e.notifier.ExecuteApprovedAction(ctx, task.ID.String(), action)
	if !res.Success {
		return nil, errors.New(res.Error)
	}
	return res.Data, nil
}

// recordChange is one entry of a database task's actionPayload.records.
// For CREATE a record without a "data" key is itself the data.
type recordChange struct {
	Where models.Where  `json:"where"`
	Data  models.Record `json:"data"`
}

type recordsPayload struct {
	Records []json.RawMessage `json:"records"`
}

func (e *Executor) applyRecords(ctx context.Context, task *models.AgentTask) (any, error) {
	if task.TargetEntity == "" {
		return nil, errors.New("targetEntity is required for record changes")
	}
	var payload recordsPayload
	if err := json.Unmarshal(task.ActionPayload, &payload); err != nil {
		return nil, fmt.Errorf("decode records payload: %w", err)
	}
	if len(payload.Records) == 0 {
		return nil, errors.New("actionPayload.records is empty")
	}

	var affected int64
	// Records are applied one by one; a failure leaves earlier records applied.
	for i, raw := range payload.Records {
		req, err := buildRequest(task, raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		res := e.mutator.ExecuteQuery(ctx, req)
		if !res.Success {
			return nil, fmt.Errorf("record %d: %s (%d applied before it)", i, res.Error, i)
		}
		if res.RowsAffected != nil {
			affected += *res.RowsAffected
		}
	}
	return map[string]any{"records": len(payload.Records), "rowsAffected": affected}, nil
}

const tenantColumn = "organizationId"

func buildRequest(task *models.AgentTask, raw json.RawMessage) (models.MutationRequest, error) {
	var rc recordChange
	if err := json.Unmarshal(raw, &rc); err != nil {
		return models.MutationRequest{}, fmt.Errorf("decode record: %w", err)
	}

	if task.ActionType == models.ActionCreateRecord {
		data := rc.Data
		if data == nil {
			if err := json.Unmarshal(raw, &data); err != nil {
				return models.MutationRequest{}, fmt.Errorf("decode record: %w", err)
			}
		}
		data = withTenant(data, task.OrganizationID)
		return models.MutationRequest{Operation: models.OpInsert, Table: task.TargetEntity, Data: data}, nil
	}

	// An empty where is refused by the gateway; the tenant column is only
	// added to filters that already select something.
	where := rc.Where
	if len(where) > 0 {
		where = withTenant(where, task.OrganizationID)
	}
	return models.MutationRequest{
		Operation: models.OpUpdate,
		Table:     task.TargetEntity,
		Where:     where,
		Data:      withoutTenant(rc.Data),
	}, nil
}

func withTenant(m map[string]any, orgID string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[tenantColumn] = orgID
	return out
}

// withoutTenant keeps an update from moving rows to another organization.
func withoutTenant(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != tenantColumn {
			out[k] = v
		}
	}
	return out
}

// ExecuteTaskWorker runs ExecuteTaskArgs jobs.
type ExecuteTaskWorker struct {
	river.WorkerDefaults[ExecuteTaskArgs]
	exec *Executor
}

func NewExecuteTaskWorker(exec *Executor) *ExecuteTaskWorker {
	return &ExecuteTaskWorker{exec: exec}
}

func (w *ExecuteTaskWorker) Work(ctx context.Context, job *river.Job[ExecuteTaskArgs]) error {
	return w.exec.Execute(ctx, job.Args.TaskID)
}
