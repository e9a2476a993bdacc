package repository

import (
	"context"
	"database/sql"
	"errors"

	"gathering-marketplace/backend/internal/identity/domain"
)

var _ Repository = (*PostgresRepository)(nil)

const identityColumns = `id, email, password_hash, email_verified, status, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// FindByEmail returns the identity with the given e-mail (normalized), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, domain.NormalizeEmail(email))
	return scanIdentity(row)
}

// Create persists the identity. The identity must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		i.ID, domain.NormalizeEmail(i.Email), i.PasswordHash, i.EmailVerified, string(i.Status), i.CreatedAt, i.UpdatedAt,
	)
	return err
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var (
		i      domain.Identity
		status string
	)
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.EmailVerified, &status, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Status = domain.IdentityStatus(status)
	return &i, nil
}
