package repository

import (
	"context"

	"gathering-marketplace/backend/internal/audit/domain"
)

// Repository persists login attempts. Rows are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.LoginAttempt) error
	// ListByEmail returns the newest attempts for email, at most limit.
	ListByEmail(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error)
}
