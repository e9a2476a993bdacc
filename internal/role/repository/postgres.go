package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gathering-marketplace/backend/internal/role/domain"
)

var (
	_ AssignmentRepository = (*PostgresRepository)(nil)
	_ DefinitionRepository = (*PostgresRepository)(nil)
	_ Writer               = (*PostgresRepository)(nil)
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a role repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListRoles returns every assignment for identityID, including expired ones; filtering is the
// resolver's job.
func (r *PostgresRepository) ListRoles(ctx context.Context, identityID string) ([]domain.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT identity_id, role_code, is_primary, granted_by, granted_at, expires_at
		   FROM role_assignments
		  WHERE identity_id = $1
		  ORDER BY granted_at ASC`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		var (
			a         domain.Assignment
			code      string
			grantedBy sql.NullString
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&a.IdentityID, &code, &a.IsPrimary, &grantedBy, &a.GrantedAt, &expiresAt); err != nil {
			return nil, err
		}
		a.RoleCode = domain.ParseRoleCode(code)
		a.GrantedBy = grantedBy.String
		if expiresAt.Valid {
			t := expiresAt.Time
			a.ExpiresAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetDefinition returns the definition for code with permissions in their stored order, or nil
// if the role is not defined.
func (r *PostgresRepository) GetDefinition(ctx context.Context, code domain.RoleCode) (*domain.Definition, error) {
	def := domain.Definition{Code: code}
	err := r.db.QueryRowContext(ctx, `SELECT level FROM role_definitions WHERE code = $1`, string(code)).Scan(&def.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT pattern FROM role_permissions WHERE role_code = $1 ORDER BY position ASC`, string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		def.Permissions = append(def.Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &def, nil
}

// UpsertDefinition replaces the level and permission list of def.Code in one transaction.
func (r *PostgresRepository) UpsertDefinition(ctx context.Context, def domain.Definition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO role_definitions (code, level) VALUES ($1, $2)
		 ON CONFLICT (code) DO UPDATE SET level = EXCLUDED.level`, string(def.Code), def.Level); err != nil {
		return fmt.Errorf("upsert role %s: %w", def.Code, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_code = $1`, string(def.Code)); err != nil {
		return fmt.Errorf("clear permissions %s: %w", def.Code, err)
	}
	for i, p := range def.Permissions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_code, position, pattern) VALUES ($1, $2, $3)`,
			string(def.Code), i, p); err != nil {
			return fmt.Errorf("insert permission %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Assign grants a role. Re-assigning an existing role updates its primary flag and expiry.
func (r *PostgresRepository) Assign(ctx context.Context, a domain.Assignment) error {
	grantedBy := sql.NullString{String: a.GrantedBy, Valid: a.GrantedBy != ""}
	var expiresAt sql.NullTime
	if a.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO role_assignments (identity_id, role_code, is_primary, granted_by, granted_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identity_id, role_code)
		 DO UPDATE SET is_primary = EXCLUDED.is_primary, expires_at = EXCLUDED.expires_at`,
		a.IdentityID, string(a.RoleCode), a.IsPrimary, grantedBy, a.GrantedAt, expiresAt)
	return err
}
