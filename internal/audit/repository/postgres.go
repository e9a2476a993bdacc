package repository

import (
	"context"
	"database/sql"

	"gathering-marketplace/backend/internal/audit/domain"
)

var _ Repository = (*PostgresRepository)(nil)

const attemptColumns = `id, email, identity_id, outcome, reason, source_address, device_info, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a login attempt repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the attempt. The attempt must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.LoginAttempt) error {
	identityID := sql.NullString{String: a.IdentityID, Valid: a.IdentityID != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (`+attemptColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Email, identityID, a.Outcome(), string(a.Reason), a.SourceAddress, a.DeviceInfo, a.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) ListByEmail(ctx context.Context, email string, limit int) ([]*domain.LoginAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM login_attempts WHERE email = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		email, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.LoginAttempt
	for rows.Next() {
		var (
			a          domain.LoginAttempt
			identityID sql.NullString
			outcome    string
			reason     string
		)
		if err := rows.Scan(&a.ID, &a.Email, &identityID, &outcome, &reason, &a.SourceAddress, &a.DeviceInfo, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.IdentityID = identityID.String
		a.Reason = domain.Reason(reason)
		out = append(out, &a)
	}
	return out, rows.Err()
}
