package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gathering-marketplace/backend/internal/ledger/domain"
)

var _ Store = (*PostgresStore)(nil)

const uniqueViolation = "23505"

const recordColumns = `id, identity_id, token_hash, issued_at, expires_at, revoked_at, device_info, source_address, last_used_at`

const insertRecord = `INSERT INTO refresh_tokens (` + recordColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// lockIdentity is a transaction-scoped advisory lock keyed by identity. Claims and revoke-all
// both take it before touching rows, which orders them per identity.
const lockIdentity = `SELECT pg_advisory_xact_lock(hashtext($1))`

// execer is the common surface of *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresStore keeps refresh records in the refresh_tokens table, which has a unique index on
// token_hash.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *domain.RefreshRecord) error {
	return insert(ctx, s.db, rec)
}

func (s *PostgresStore) OwnerByHash(ctx context.Context, hash string) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT identity_id FROM refresh_tokens WHERE token_hash = $1`, hash).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

func (s *PostgresStore) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL`, hash, at)
	return err
}

func (s *PostgresStore) RevokeAllByIdentity(ctx context.Context, identityID string, at time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, lockIdentity, identityID); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE identity_id = $1 AND revoked_at IS NULL`, identityID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockIdentity(ctx context.Context, identityID string) error {
	_, err := t.tx.ExecContext(ctx, lockIdentity, identityID)
	return err
}

func (t *postgresTx) LockByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, hash)
	var (
		rec        domain.RefreshRecord
		revokedAt  sql.NullTime
		lastUsedAt sql.NullTime
		device     sql.NullString
		addr       sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.IdentityID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt, &revokedAt, &device, &addr, &lastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.DeviceInfo = device.String
	rec.SourceAddress = addr.String
	if revokedAt.Valid {
		v := revokedAt.Time
		rec.RevokedAt = &v
	}
	if lastUsedAt.Valid {
		v := lastUsedAt.Time
		rec.LastUsedAt = &v
	}
	return &rec, nil
}

func (t *postgresTx) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE refresh_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (t *postgresTx) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return err
}

func (t *postgresTx) Delete(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	return err
}

func (t *postgresTx) Insert(ctx context.Context, rec *domain.RefreshRecord) error {
	return insert(ctx, t.tx, rec)
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error { return t.tx.Rollback() }

func insert(ctx context.Context, db execer, rec *domain.RefreshRecord) error {
	device := sql.NullString{String: rec.DeviceInfo, Valid: rec.DeviceInfo != ""}
	addr := sql.NullString{String: rec.SourceAddress, Valid: rec.SourceAddress != ""}
	var revokedAt, lastUsedAt sql.NullTime
	if rec.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *rec.RevokedAt, Valid: true}
	}
	if rec.LastUsedAt != nil {
		lastUsedAt = sql.NullTime{Time: *rec.LastUsedAt, Valid: true}
	}
	_, err := db.ExecContext(ctx, insertRecord,
		rec.ID, rec.IdentityID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt, revokedAt, device, addr, lastUsedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateHash
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
