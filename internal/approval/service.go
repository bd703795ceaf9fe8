// Package approval records reviewer decisions on PENDING agent tasks. An
// approval and the enqueue of its execution job commit in one transaction.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/academyhub/backend/internal/execution"
	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

var (
	ErrNotFound   = errors.New("task not found")
	ErrNotPending = errors.New("task is not pending review")
)

// TxBeginner is the minimal pool interface the service needs.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AgentTask, error)
	ListByOrganization(ctx context.Context, orgID string, approval models.ApprovalStatus, limit int) ([]*models.AgentTask, error)
	SetApproval(ctx context.Context, tx pgx.Tx, id uuid.UUID, orgID string, approval models.ApprovalStatus, status, reviewer, note string) (bool, error)
}

// EnqueueFunc inserts the execution job inside tx. main wires it to
// river.Client.InsertTx.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, args execution.ExecuteTaskArgs) error

type Service struct {
	pool    TxBeginner
	repo    Repo
	enqueue EnqueueFunc
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(pool TxBeginner, repo Repo, enqueue EnqueueFunc, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, repo: repo, enqueue: enqueue, log: logger, metrics: m, now: time.Now}
}

func (s *Service) List(ctx context.Context, orgID string, status models.ApprovalStatus, limit int) ([]*models.AgentTask, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("invalid approval status %q", status)
	}
	return s.repo.ListByOrganization(ctx, orgID, status, limit)
}

// Get returns a task of orgID. Tasks of other organizations are reported as not found.
func (s *Service) Get(ctx context.Context, orgID string, id uuid.UUID) (*models.AgentTask, error) {
	t, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return t, nil
}

// Approve marks the task APPROVED, moves it to QUEUED and enqueues its
// execution. Nothing is enqueued unless the status flip commits.
func (s *Service) Approve(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string) (*models.AgentTask, error) {
	return s.decide(ctx, orgID, id, reviewerID, note, models.ApprovalApproved, models.TaskStatusQueued)
}

// Reject marks the task REJECTED and CANCELLED.
func (s *Service) Reject(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string) (*models.AgentTask, error) {
	return s.decide(ctx, orgID, id, reviewerID, note, models.ApprovalRejected, models.TaskStatusCancelled)
}

func (s *Service) decide(ctx context.Context, orgID string, id uuid.UUID, reviewerID, note string, decision models.ApprovalStatus, status string) (*models.AgentTask, error) {
	t, err := s.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if t.ApprovalStatus != models.ApprovalPending {
		return nil, ErrNotPending
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ok, err := s.repo.SetApproval(ctx, tx, id, orgID, decision, status, reviewerID, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPending
	}
	if decision == models.ApprovalApproved {
		if err := s.enqueue(ctx, tx, execution.ExecuteTaskArgs{TaskID: id}); err != nil {
			return nil, fmt.Errorf("enqueue execution: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t.ApprovalStatus = decision
	t.Status = status
	t.ReviewedBy = &reviewerID
	t.ReviewedAt = &now
	t.ReviewNote = note
	t.UpdatedAt = now

	s.metrics.TaskReviewed(string(decision))
	s.log.Info("agent task reviewed", "task_id", id, "organization_id", orgID, "decision", decision, "reviewer", reviewerID)
	return t, nil
}
