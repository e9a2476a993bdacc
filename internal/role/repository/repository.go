package repository

import (
	"context"

	"gathering-marketplace/backend/internal/role/domain"
)

// AssignmentRepository lists the roles granted to an identity.
type AssignmentRepository interface {
	ListRoles(ctx context.Context, identityID string) ([]domain.Assignment, error)
}

// DefinitionRepository resolves a role's permission patterns. Returns nil, nil for an unknown role.
type DefinitionRepository interface {
	GetDefinition(ctx context.Context, code domain.RoleCode) (*domain.Definition, error)
}

// Writer is used by the seed command; the auth core never writes role data.
type Writer interface {
	UpsertDefinition(ctx context.Context, def domain.Definition) error
	Assign(ctx context.Context, a domain.Assignment) error
}
