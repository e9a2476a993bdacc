package repository

import (
	"context"
	"errors"
	"time"

	"gathering-marketplace/backend/internal/ledger/domain"
)

// ErrDuplicateHash is returned when a record with the same token hash already exists.
var ErrDuplicateHash = errors.New("duplicate refresh token hash")

// Store persists refresh records. Implementations must enforce uniqueness of TokenHash.
type Store interface {
	// Insert adds rec. Returns ErrDuplicateHash if the hash is taken; never overwrites.
	Insert(ctx context.Context, rec *domain.RefreshRecord) error
	// OwnerByHash returns the identity owning hash, or "" if there is no such record.
	OwnerByHash(ctx context.Context, hash string) (string, error)
	// RevokeByHash marks the record revoked if it exists and is not already revoked.
	RevokeByHash(ctx context.Context, hash string, at time.Time) error
	// RevokeAllByIdentity revokes every live record of identityID while holding the identity
	// lock, so it waits for in-flight claims and blocks new ones until it commits.
	RevokeAllByIdentity(ctx context.Context, identityID string, at time.Time) (int64, error)
	// DeleteExpired removes records whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// Begin starts a transaction. ctx bounds the whole transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a read-modify-write unit over refresh records. Locks taken inside it are held until
// Commit or Rollback.
type Tx interface {
	// LockIdentity serializes with RevokeAllByIdentity and other claims for the same identity.
	LockIdentity(ctx context.Context, identityID string) error
	// LockByHash returns the record for hash with a row lock, or nil if absent.
	LockByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Insert(ctx context.Context, rec *domain.RefreshRecord) error
	Commit() error
	Rollback() error
}
