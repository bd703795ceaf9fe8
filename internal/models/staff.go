package models

import (
	"time"

	"github.com/google/uuid"
)

// Staff roles allowed to review agent tasks.
const (
	StaffRoleReviewer = "reviewer"
	StaffRoleAdmin    = "admin"
)

type StaffUser struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	Role           string    `json:"role"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
