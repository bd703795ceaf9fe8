package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academyhub/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a staff user and fills in its id and created_at.
func (r *Repository) Create(ctx context.Context, u *models.StaffUser) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO staff_users (organization_id, email, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, u.OrganizationID, u.Email, u.DisplayName, u.Role, u.PasswordHash).Scan(&u.ID, &u.CreatedAt)
}

// GetByEmail returns nil, nil when no staff user has that email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.StaffUser, error) {
	var u models.StaffUser
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, email, display_name, role, password_hash, created_at
		FROM staff_users WHERE email = $1
	`, email).Scan(&u.ID, &u.OrganizationID, &u.Email, &u.DisplayName, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
