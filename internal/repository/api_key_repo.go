package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academyhub/backend/internal/models"
)

// ErrKeyNotFound is returned when no active agent key matches a hash.
var ErrKeyNotFound = errors.New("agent key not found")

type AgentKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAgentKeyRepo(pool *pgxpool.Pool) *AgentKeyRepo {
	return &AgentKeyRepo{pool: pool}
}

func (r *AgentKeyRepo) Create(ctx context.Context, k *models.AgentKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_api_keys (id, agent_id, organization_id, key_hash, key_prefix, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, k.ID, k.AgentID, k.OrganizationID, k.KeyHash, k.KeyPrefix, k.IsActive)
	return err
}

// FindByKeyHash returns the active key with the given SHA-256 hash.
func (r *AgentKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*models.AgentKey, error) {
	var k models.AgentKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, agent_id, organization_id, key_hash, key_prefix, is_active
		FROM agent_api_keys WHERE key_hash = $1 AND is_active = TRUE
	`, keyHash).Scan(&k.ID, &k.AgentID, &k.OrganizationID, &k.KeyHash, &k.KeyPrefix, &k.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *AgentKeyRepo) ListByOrganization(ctx context.Context, orgID string) ([]*models.AgentKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, organization_id, key_hash, key_prefix, is_active
		FROM agent_api_keys WHERE organization_id = $1 ORDER BY key_prefix
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AgentKey{}
	for rows.Next() {
		var k models.AgentKey
		if err := rows.Scan(&k.ID, &k.AgentID, &k.OrganizationID, &k.KeyHash, &k.KeyPrefix, &k.IsActive); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	return list, rows.Err()
}

func (r *AgentKeyRepo) Deactivate(ctx context.Context, id uuid.UUID, orgID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agent_api_keys SET is_active = FALSE WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
