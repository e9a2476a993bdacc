package repository

import (
	"context"
	"errors"
	"time"

	"gathering-marketplace/backend/internal/ledger/domain"
)

var _ Store = (*MemoryStore)(nil)

// errTxDone mirrors sql.ErrTxDone for the in-memory transaction.
var errTxDone = errors.New("transaction already committed or rolled back")

// MemoryStore is a process-local Store for tests and single-instance development. A transaction
// holds the store-wide lock from Begin to Commit or Rollback, which is stricter than the
// per-identity locking of PostgresStore but has the same observable ordering. Waiting for the
// lock honours the caller's context.
type MemoryStore struct {
	sem     chan struct{}
	records map[string]domain.RefreshRecord // keyed by token hash
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:     make(chan struct{}, 1),
		records: make(map[string]domain.RefreshRecord),
	}
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) release() { <-s.sem }

func (s *MemoryStore) Insert(ctx context.Context, rec *domain.RefreshRecord) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return insertInto(s.records, rec)
}

func (s *MemoryStore) OwnerByHash(ctx context.Context, hash string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()
	return s.records[hash].IdentityID, nil
}

func (s *MemoryStore) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	if rec, ok := s.records[hash]; ok && rec.RevokedAt == nil {
		rec.RevokedAt = &at
		s.records[hash] = rec
	}
	return nil
}

func (s *MemoryStore) RevokeAllByIdentity(ctx context.Context, identityID string, at time.Time) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	var n int64
	for hash, rec := range s.records {
		if rec.IdentityID == identityID && rec.RevokedAt == nil {
			rec.RevokedAt = &at
			s.records[hash] = rec
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	var n int64
	for hash, rec := range s.records {
		if rec.ExpiredAt(now) {
			delete(s.records, hash)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the record for hash. Used by tests to inspect state.
func (s *MemoryStore) Get(hash string) (domain.RefreshRecord, bool) {
	s.sem <- struct{}{}
	defer s.release()
	rec, ok := s.records[hash]
	return rec, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.sem <- struct{}{}
	defer s.release()
	return len(s.records)
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	work := make(map[string]domain.RefreshRecord, len(s.records))
	for k, v := range s.records {
		work[k] = v
	}
	return &memoryTx{store: s, work: work}, nil
}

type memoryTx struct {
	store *MemoryStore
	work  map[string]domain.RefreshRecord
	done  bool
}

func (t *memoryTx) LockIdentity(ctx context.Context, _ string) error {
	if t.done {
		return errTxDone
	}
	return ctx.Err()
}

func (t *memoryTx) LockByHash(ctx context.Context, hash string) (*domain.RefreshRecord, error) {
	if t.done {
		return nil, errTxDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := t.work[hash]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *memoryTx) Touch(ctx context.Context, id string, at time.Time) error {
	return t.update(ctx, id, func(rec *domain.RefreshRecord) { rec.LastUsedAt = &at })
}

func (t *memoryTx) Revoke(ctx context.Context, id string, at time.Time) error {
	return t.update(ctx, id, func(rec *domain.RefreshRecord) {
		if rec.RevokedAt == nil {
			rec.RevokedAt = &at
		}
	})
}

func (t *memoryTx) Delete(ctx context.Context, id string) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for hash, rec := range t.work {
		if rec.ID == id {
			delete(t.work, hash)
		}
	}
	return nil
}

func (t *memoryTx) Insert(ctx context.Context, rec *domain.RefreshRecord) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return insertInto(t.work, rec)
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.records = t.work
	t.store.release()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.store.release()
	return nil
}

func (t *memoryTx) update(ctx context.Context, id string, fn func(*domain.RefreshRecord)) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for hash, rec := range t.work {
		if rec.ID == id {
			fn(&rec)
			t.work[hash] = rec
		}
	}
	return nil
}

func insertInto(records map[string]domain.RefreshRecord, rec *domain.RefreshRecord) error {
	if _, exists := records[rec.TokenHash]; exists {
		return ErrDuplicateHash
	}
	records[rec.TokenHash] = *rec
	return nil
}
