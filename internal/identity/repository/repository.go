package repository

import (
	"context"

	"gathering-marketplace/backend/internal/identity/domain"
)

// Repository defines persistence for identities. The auth core only reads through FindByEmail
// and FindByID; Create exists for seeding.
type Repository interface {
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
