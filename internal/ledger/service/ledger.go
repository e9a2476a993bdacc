// Package service implements the refresh ledger: durable, single-use refresh records with
// rotation and bulk revocation on top of a repository.Store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"gathering-marketplace/backend/internal/autherr"
	"gathering-marketplace/backend/internal/ledger/domain"
	"gathering-marketplace/backend/internal/ledger/repository"
	"gathering-marketplace/backend/internal/security"
)

var (
	// ErrDuplicateToken is returned by Issue and Claim.Rotate when the token hash already exists.
	ErrDuplicateToken = fmt.Errorf("refresh token already recorded: %w", autherr.ErrPersistence)
	// ErrTokenReused is returned by VerifyAndTouch when the token was rotated out or revoked.
	ErrTokenReused = fmt.Errorf("refresh token no longer valid: %w", autherr.ErrRevokedOrUnknownRefreshToken)
	// ErrClaimClosed is returned when a Claim is used after Rotate or Release.
	ErrClaimClosed = errors.New("refresh claim already closed")
)

// claimLeaseFactor bounds how long a Claim may hold its row lock, as a multiple of the store timeout.
const claimLeaseFactor = 4

// Ledger records issued refresh tokens and enforces single use. Every store call runs under the
// configured timeout; store failures and timeouts surface as autherr.ErrPersistence.
type Ledger struct {
	store   repository.Store
	timeout time.Duration
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL overrides the record lifetime (default 30 days).
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a Ledger over store. timeout applies to each store call.
func New(store repository.Store, timeout time.Duration, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		timeout: timeout,
		ttl:     domain.DefaultTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue records rawToken for identityID. Only the hash is stored. A nil error means the record
// is durable; callers must not hand out the token otherwise.
func (l *Ledger) Issue(ctx context.Context, identityID, rawToken, deviceInfo, sourceAddress string) error {
	rec := l.newRecord(identityID, rawToken, deviceInfo, sourceAddress)
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.Insert(ctx, rec); err != nil {
		return persistence("issue", err)
	}
	return nil
}

// VerifyAndTouch looks up rawToken, rejects it if unknown, revoked or expired (expired records
// are deleted), and otherwise locks the record and sets LastUsedAt. At most one concurrent
// caller presenting the same token gets a Claim; the rest get an error once the winner has
// rotated. The caller must end the Claim with Rotate or Release.
func (l *Ledger) VerifyAndTouch(ctx context.Context, rawToken string) (*Claim, error) {
	hash := security.HashRefreshToken(rawToken)

	ownerCtx, cancel := context.WithTimeout(ctx, l.timeout)
	owner, err := l.store.OwnerByHash(ownerCtx, hash)
	cancel()
	if err != nil {
		return nil, persistence("lookup", err)
	}
	if owner == "" {
		return nil, autherr.ErrRevokedOrUnknownRefreshToken
	}

	txCtx, txCancel := context.WithTimeout(ctx, claimLeaseFactor*l.timeout)
	tx, err := l.store.Begin(txCtx)
	if err != nil {
		txCancel()
		return nil, persistence("begin", err)
	}
	c := &Claim{ledger: l, tx: tx, ctx: txCtx, cancel: txCancel}

	rec, err := c.lock(owner, hash)
	if err != nil {
		c.abort()
		return nil, err
	}
	now := l.now()
	switch {
	case rec == nil || rec.IdentityID != owner:
		c.abort()
		return nil, autherr.ErrRevokedOrUnknownRefreshToken
	case rec.ExpiredAt(now):
		if err := c.deleteExpired(rec.ID); err != nil {
			log.Printf("ledger: lazy delete of expired record %s failed: %v", rec.ID, err)
		}
		return nil, autherr.ErrExpiredCredential
	case rec.Revoked():
		c.abort()
		return nil, ErrTokenReused
	}

	stmtCtx, stmtCancel := context.WithTimeout(txCtx, l.timeout)
	err = tx.Touch(stmtCtx, rec.ID, now)
	stmtCancel()
	if err != nil {
		c.abort()
		return nil, persistence("touch", err)
	}
	rec.LastUsedAt = &now
	c.record = rec
	return c, nil
}

// Revoke marks rawToken's record revoked. Unknown or already revoked tokens are not an error.
func (l *Ledger) Revoke(ctx context.Context, rawToken string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.RevokeByHash(ctx, security.HashRefreshToken(rawToken), l.now()); err != nil {
		return persistence("revoke", err)
	}
	return nil
}

// RevokeAll revokes every live record of identityID and returns how many were revoked. Once it
// returns nil no earlier token of that identity can be claimed.
func (l *Ledger) RevokeAll(ctx context.Context, identityID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.RevokeAllByIdentity(ctx, identityID, l.now())
	if err != nil {
		return 0, persistence("revoke all", err)
	}
	return n, nil
}

// SweepExpired deletes every expired record and returns how many were removed.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, persistence("sweep", err)
	}
	return n, nil
}

func (l *Ledger) newRecord(identityID, rawToken, deviceInfo, sourceAddress string) *domain.RefreshRecord {
	now := l.now()
	return &domain.RefreshRecord{
		ID:            uuid.New().String(),
		IdentityID:    identityID,
		TokenHash:     security.HashRefreshToken(rawToken),
		IssuedAt:      now,
		ExpiresAt:     now.Add(l.ttl),
		DeviceInfo:    deviceInfo,
		SourceAddress: sourceAddress,
	}
}

// Claim is an exclusive hold on one live refresh record, obtained from VerifyAndTouch.
// It is not safe for concurrent use.
type Claim struct {
	ledger *Ledger
	tx     repository.Tx
	ctx    context.Context
	cancel context.CancelFunc
	record *domain.RefreshRecord
	closed bool
}

// IdentityID is the owner of the claimed record.
func (c *Claim) IdentityID() string { return c.record.IdentityID }

// Record returns a copy of the claimed record.
func (c *Claim) Record() domain.RefreshRecord { return *c.record }

// Rotate records newRawToken and revokes the claimed record in one commit. On error nothing is
// applied and the claimed token stays valid.
func (c *Claim) Rotate(newRawToken, deviceInfo, sourceAddress string) error {
	if c.closed {
		return ErrClaimClosed
	}
	l := c.ledger
	rec := l.newRecord(c.record.IdentityID, newRawToken, deviceInfo, sourceAddress)

	err := c.exec(func(ctx context.Context) error { return c.tx.Insert(ctx, rec) })
	if err != nil {
		c.abort()
		return persistence("rotate insert", err)
	}
	err = c.exec(func(ctx context.Context) error { return c.tx.Revoke(ctx, c.record.ID, rec.IssuedAt) })
	if err != nil {
		c.abort()
		return persistence("rotate revoke", err)
	}
	return c.commit("rotate")
}

// Release ends the claim without rotating. The touch is kept and the record stays valid.
// Safe to call more than once and after Rotate.
func (c *Claim) Release() {
	if c.closed {
		return
	}
	if err := c.commit("release"); err != nil {
		log.Printf("ledger: release claim on %s: %v", c.record.ID, err)
	}
}

func (c *Claim) lock(owner, hash string) (*domain.RefreshRecord, error) {
	if err := c.exec(func(ctx context.Context) error { return c.tx.LockIdentity(ctx, owner) }); err != nil {
		return nil, persistence("lock identity", err)
	}
	var rec *domain.RefreshRecord
	err := c.exec(func(ctx context.Context) error {
		var err error
		rec, err = c.tx.LockByHash(ctx, hash)
		return err
	})
	if err != nil {
		return nil, persistence("lock record", err)
	}
	return rec, nil
}

func (c *Claim) deleteExpired(id string) error {
	if err := c.exec(func(ctx context.Context) error { return c.tx.Delete(ctx, id) }); err != nil {
		c.abort()
		return err
	}
	return c.commit("delete expired")
}

func (c *Claim) exec(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.ledger.timeout)
	defer cancel()
	return fn(ctx)
}

func (c *Claim) commit(op string) error {
	c.closed = true
	defer c.cancel()
	if err := c.tx.Commit(); err != nil {
		_ = c.tx.Rollback()
		return persistence(op, err)
	}
	return nil
}

func (c *Claim) abort() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.tx.Rollback()
	c.cancel()
}

// persistence maps a store failure to autherr.ErrPersistence, keeping the duplicate-hash case
// distinguishable.
func persistence(op string, err error) error {
	if errors.Is(err, repository.ErrDuplicateHash) {
		return fmt.Errorf("ledger %s: %w", op, ErrDuplicateToken)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ledger %s: store timeout: %w", op, autherr.ErrPersistence)
	}
	return fmt.Errorf("ledger %s: %v: %w", op, err, autherr.ErrPersistence)
}
