// Package audit records login attempts. Recording is best-effort: failures are logged and never
// reach the caller.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"gathering-marketplace/backend/internal/audit/domain"
	auditrepo "gathering-marketplace/backend/internal/audit/repository"
	"gathering-marketplace/backend/internal/telemetry"
	telemetrydomain "gathering-marketplace/backend/internal/telemetry/domain"
)

const persistTimeout = 3 * time.Second

// Sink receives every login attempt. Implementations must not block the login path on failure.
type Sink interface {
	RecordLoginAttempt(ctx context.Context, attempt *domain.LoginAttempt)
}

// Logger implements Sink using the audit repository and an optional event emitter.
type Logger struct {
	repo    auditrepo.Repository
	emitter telemetry.EventEmitter
	now     func() time.Time
}

// NewLogger returns a Sink that persists to repo and fans each attempt out to emitter. Either
// may be nil.
func NewLogger(repo auditrepo.Repository, emitter telemetry.EventEmitter) *Logger {
	return &Logger{repo: repo, emitter: emitter, now: func() time.Time { return time.Now().UTC() }}
}

// RecordLoginAttempt assigns an ID and timestamp when missing, then persists the row and emits a
// login event, both asynchronously. It returns without waiting for either.
func (l *Logger) RecordLoginAttempt(ctx context.Context, a *domain.LoginAttempt) {
	if a == nil {
		return
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	if a.ID == "" {
		a.ID = ulid.MustNew(ulid.Timestamp(a.CreatedAt), ulid.DefaultEntropy()).String()
	}
	if l.repo != nil {
		row := *a
		persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		go func() {
			defer cancel()
			if err := l.repo.Create(persistCtx, &row); err != nil {
				log.Printf("audit: failed to record login attempt %s (%s): %v", row.ID, row.Reason, err)
			}
		}()
	}
	telemetry.EmitAsync(ctx, l.emitter, &telemetrydomain.AuthEvent{
		ID:            a.ID,
		Type:          telemetrydomain.EventLogin,
		IdentityID:    a.IdentityID,
		Email:         a.Email,
		Outcome:       a.Outcome(),
		Reason:        string(a.Reason),
		DeviceInfo:    a.DeviceInfo,
		SourceAddress: a.SourceAddress,
		CreatedAt:     a.CreatedAt,
	})
}
