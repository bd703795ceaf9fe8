package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academyhub/backend/internal/models"
)

// ErrTaskNotFound is returned when no agent task matches the lookup.
var ErrTaskNotFound = errors.New("agent task not found")

const taskColumns = `id, organization_id, agent_id, title, description, category, action_type,
	COALESCE(target_entity, ''), action_payload, reasoning, requires_approval, auto_execute,
	automation_level, priority, due_date, approval_status, status, reviewed_by, reviewed_at,
	COALESCE(review_note, ''), execution_result, created_at, updated_at`

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *models.AgentTask) error {
	reasoning, err := marshalReasoning(t.Reasoning)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO agent_tasks (id, organization_id, agent_id, title, description, category, action_type,
			target_entity, action_payload, reasoning, requires_approval, auto_execute, automation_level,
			priority, due_date, approval_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`, t.ID, t.OrganizationID, t.AgentID, t.Title, t.Description, string(t.Category), string(t.ActionType),
		t.TargetEntity, []byte(t.ActionPayload), reasoning, t.RequiresApproval, t.AutoExecute, string(t.AutomationLevel),
		string(t.Priority), t.DueDate, string(t.ApprovalStatus), t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AgentTask, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM agent_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// ListByOrganization returns the newest tasks of one tenant. An empty
// approval status lists every task.
func (r *TaskRepo) ListByOrganization(ctx context.Context, orgID string, approval models.ApprovalStatus, limit int) ([]*models.AgentTask, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM agent_tasks
		WHERE organization_id = $1 AND ($2 = '' OR approval_status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, orgID, string(approval), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AgentTask{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SetApproval moves a PENDING task of the given organization to a review
// outcome inside tx. It reports false when the task was not pending anymore.
func (r *TaskRepo) SetApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, orgID string, approval models.ApprovalStatus, status, reviewer, note string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE agent_tasks
		SET approval_status = $3, status = $4, reviewed_by = $5, reviewed_at = now(),
			review_note = NULLIF($6, ''), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND approval_status = 'PENDING'
	`, id, orgID, string(approval), status, reviewer, note)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepo) MarkExecuted(ctx context.Context, id uuid.UUID, result []byte) error {
	return r.finish(ctx, id, models.TaskStatusExecuted, result)
}

func (r *TaskRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := json.Marshal(map[string]string{"error": reason})
	if err != nil {
		return err
	}
	return r.finish(ctx, id, models.TaskStatusFailed, result)
}

func (r *TaskRepo) finish(ctx context.Context, id uuid.UUID, status string, result []byte) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agent_tasks SET status = $2, execution_result = $3, updated_at = now()
		WHERE id = $1 AND status = 'QUEUED'
	`, id, status, result)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not queued", ErrTaskNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.AgentTask, error) {
	var t models.AgentTask
	var category, actionType, level, priority, approval string
	var payload, reasoning, result []byte
	err := row.Scan(&t.ID, &t.OrganizationID, &t.AgentID, &t.Title, &t.Description, &category, &actionType,
		&t.TargetEntity, &payload, &reasoning, &t.RequiresApproval, &t.AutoExecute,
		&level, &priority, &t.DueDate, &approval, &t.Status, &t.ReviewedBy, &t.ReviewedAt,
		&t.ReviewNote, &result, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Category = models.TaskCategory(category)
	t.ActionType = models.ActionType(actionType)
	t.AutomationLevel = models.AutomationLevel(level)
	t.Priority = models.Priority(priority)
	t.ApprovalStatus = models.ApprovalStatus(approval)
	t.ActionPayload = payload
	if len(result) > 0 {
		t.ExecutionResult = result
	}
	if len(reasoning) > 0 {
		var rs models.Reasoning
		if err := json.Unmarshal(reasoning, &rs); err != nil {
			return nil, fmt.Errorf("decode reasoning: %w", err)
		}
		t.Reasoning = &rs
	}
	return &t, nil
}

func marshalReasoning(r *models.Reasoning) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}
