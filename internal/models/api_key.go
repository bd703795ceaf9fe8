package models

import (
	"github.com/google/uuid"
)

// AgentKey maps a hashed API key to the automated actor and tenant it speaks for.
type AgentKey struct {
	ID             uuid.UUID `json:"id"`
	AgentID        string    `json:"agent_id"`
	OrganizationID string    `json:"organization_id"`
	KeyHash        string    `json:"-"`
	KeyPrefix      string    `json:"key_prefix"`
	IsActive       bool      `json:"is_active"`
}
