// Package service is the session use-case layer: login, refresh, logout, logout-everywhere and
// the guards protected operations call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gathering-marketplace/backend/internal/audit"
	auditdomain "gathering-marketplace/backend/internal/audit/domain"
	"gathering-marketplace/backend/internal/autherr"
	identitydomain "gathering-marketplace/backend/internal/identity/domain"
	ledgerservice "gathering-marketplace/backend/internal/ledger/service"
	"gathering-marketplace/backend/internal/platform/ratelimit"
	"gathering-marketplace/backend/internal/policy/engine"
	roledomain "gathering-marketplace/backend/internal/role/domain"
	"gathering-marketplace/backend/internal/security"
	"gathering-marketplace/backend/internal/session/domain"
	"gathering-marketplace/backend/internal/telemetry"
	telemetrydomain "gathering-marketplace/backend/internal/telemetry/domain"
)

const (
	tracerName          = "gathering/session"
	defaultStoreTimeout = 3 * time.Second
)

// IdentityRepo is the minimal identity store needed by the orchestrator.
type IdentityRepo interface {
	FindByEmail(ctx context.Context, email string) (*identitydomain.Identity, error)
	FindByID(ctx context.Context, id string) (*identitydomain.Identity, error)
}

// RoleResolver resolves effective roles and permissions.
type RoleResolver interface {
	EffectiveRoles(ctx context.Context, identityID string) ([]roledomain.RoleCode, error)
	HasRole(assigned, required roledomain.RoleCode) bool
	HasPermission(ctx context.Context, role roledomain.RoleCode, permission string) bool
}

// RefreshLedger is the refresh record store with single-use rotation.
type RefreshLedger interface {
	Issue(ctx context.Context, identityID, rawToken, deviceInfo, sourceAddress string) error
	VerifyAndTouch(ctx context.Context, rawToken string) (*ledgerservice.Claim, error)
	Revoke(ctx context.Context, rawToken string) error
	RevokeAll(ctx context.Context, identityID string) (int64, error)
}

// Deps holds the orchestrator's collaborators. Codec, Ledger, Roles, Identities and Hasher are
// required; the rest are optional.
type Deps struct {
	Codec      *security.Codec
	Ledger     RefreshLedger
	Roles      RoleResolver
	Identities IdentityRepo
	Hasher     *security.Hasher

	// Admission decides whether an authenticated identity may hold a session. When nil only
	// active identities are admitted.
	Admission engine.Evaluator
	// Audit receives every login attempt.
	Audit audit.Sink
	// Limiter throttles logins per source address.
	Limiter *ratelimit.Limiter
	// Events receives refresh, logout and reuse events. Login events come from Audit.
	Events  telemetry.EventEmitter
	Metrics *telemetry.Metrics

	// RevokeOnReuse revokes every session of an identity when one of its rotated-out refresh
	// tokens is presented again.
	RevokeOnReuse bool
	// StoreTimeout bounds each identity and role lookup. Defaults to 3s.
	StoreTimeout time.Duration
}

// Orchestrator implements the session protocol on top of the codec, the refresh ledger and the
// role resolver. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	codec         *security.Codec
	ledger        RefreshLedger
	roles         RoleResolver
	identities    IdentityRepo
	hasher        *security.Hasher
	admission     engine.Evaluator
	audit         audit.Sink
	limiter       *ratelimit.Limiter
	events        telemetry.EventEmitter
	metrics       *telemetry.Metrics
	revokeOnReuse bool
	storeTimeout  time.Duration
	tracer        trace.Tracer
	now           func() time.Time
}

// New returns an Orchestrator or an error naming the first missing required dependency.
func New(d Deps) (*Orchestrator, error) {
	switch {
	case d.Codec == nil:
		return nil, errors.New("session: codec is required")
	case d.Ledger == nil:
		return nil, errors.New("session: ledger is required")
	case d.Roles == nil:
		return nil, errors.New("session: role resolver is required")
	case d.Identities == nil:
		return nil, errors.New("session: identity repository is required")
	case d.Hasher == nil:
		return nil, errors.New("session: hasher is required")
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = defaultStoreTimeout
	}
	return &Orchestrator{
		codec:         d.Codec,
		ledger:        d.Ledger,
		roles:         d.Roles,
		identities:    d.Identities,
		hasher:        d.Hasher,
		admission:     d.Admission,
		audit:         d.Audit,
		limiter:       d.Limiter,
		events:        d.Events,
		metrics:       d.Metrics,
		revokeOnReuse: d.RevokeOnReuse,
		storeTimeout:  d.StoreTimeout,
		tracer:        otel.Tracer(tracerName),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Login authenticates email and password and establishes a session. Unknown e-mail, wrong
// password and a denied admission all return autherr.ErrInvalidCredentials; the audit trail
// records which one occurred.
func (o *Orchestrator) Login(ctx context.Context, email, password string, client domain.Client) (*domain.Session, error) {
	ctx, span := o.tracer.Start(ctx, "session.Login")
	defer span.End()
	start := time.Now()

	attempt := &auditdomain.LoginAttempt{
		Email:         identitydomain.NormalizeEmail(email),
		SourceAddress: client.SourceAddress,
		DeviceInfo:    client.DeviceInfo,
	}
	sess, reason, err := o.login(ctx, attempt.Email, password, client, attempt)
	attempt.Reason = reason
	if o.audit != nil {
		o.audit.RecordLoginAttempt(ctx, attempt)
	}
	o.metrics.ObserveLogin(attempt.Outcome(), string(reason))
	o.metrics.ObserveDuration("login", time.Since(start))
	span.SetAttributes(attribute.String("auth.reason", string(reason)))
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return sess, nil
}

func (o *Orchestrator) login(ctx context.Context, email, password string, client domain.Client, attempt *auditdomain.LoginAttempt) (*domain.Session, auditdomain.Reason, error) {
	if !o.limiter.Allow(client.SourceAddress) {
		return nil, auditdomain.ReasonRateLimited, autherr.ErrTooManyAttempts
	}
	if email == "" {
		o.hasher.CompareDummy([]byte(password))
		return nil, auditdomain.ReasonIdentityNotFound, autherr.ErrInvalidCredentials
	}

	ident, err := o.findByEmail(ctx, email)
	if err != nil {
		return nil, auditdomain.ReasonPersistenceError, storeError("login: identity lookup", err)
	}
	if ident == nil {
		o.hasher.CompareDummy([]byte(password))
		return nil, auditdomain.ReasonIdentityNotFound, autherr.ErrInvalidCredentials
	}
	attempt.IdentityID = ident.ID
	if ident.PasswordHash == "" || o.hasher.Compare(ident.PasswordHash, []byte(password)) != nil {
		return nil, auditdomain.ReasonWrongSecret, autherr.ErrInvalidCredentials
	}
	if reason, ok := o.admit(ctx, ident); !ok {
		return nil, reason, autherr.ErrInvalidCredentials
	}

	roles, err := o.effectiveRoles(ctx, ident.ID)
	if err != nil {
		return nil, auditdomain.ReasonPersistenceError, storeError("login: resolve roles", err)
	}
	if len(roles) == 0 {
		return nil, auditdomain.ReasonNoRolesAssigned, autherr.ErrNoRolesAssigned
	}

	sess, err := o.mintPair(ident, roles)
	if err != nil {
		return nil, auditdomain.ReasonInternalError, err
	}
	if err := o.ledger.Issue(ctx, ident.ID, sess.RefreshToken, client.DeviceInfo, client.SourceAddress); err != nil {
		return nil, auditdomain.ReasonPersistenceError, fmt.Errorf("login: %w", err)
	}
	return sess, auditdomain.ReasonSuccess, nil
}

// Refresh exchanges a refresh credential for a new pair and retires the old one. Roles are
// resolved again so grants and revocations since the last login take effect. On any failure
// the presented token stays valid.
func (o *Orchestrator) Refresh(ctx context.Context, refreshToken string, client domain.Client) (*domain.Session, error) {
	ctx, span := o.tracer.Start(ctx, "session.Refresh")
	defer span.End()
	start := time.Now()

	sess, err := o.refresh(ctx, refreshToken, client)
	o.metrics.ObserveDuration("refresh", time.Since(start))
	if err != nil {
		recordError(span, err)
		o.metrics.ObserveRefresh(auditdomain.OutcomeFailure)
		return nil, err
	}
	o.metrics.ObserveRefresh(auditdomain.OutcomeSuccess)
	o.emit(ctx, telemetrydomain.EventRefresh, sess.IdentityID, "", client)
	return sess, nil
}

// refresh resolves the identity and its roles before claiming the ledger record, so the claim
// transaction only ever runs ledger statements.
func (o *Orchestrator) refresh(ctx context.Context, refreshToken string, client domain.Client) (*domain.Session, error) {
	claims, err := o.codec.Verify(refreshToken, security.KindRefresh)
	if err != nil {
		return nil, err
	}

	ident, err := o.findByID(ctx, claims.IdentityID())
	if err != nil {
		return nil, storeError("refresh: identity lookup", err)
	}
	if ident == nil {
		return nil, autherr.ErrRevokedOrUnknownRefreshToken
	}
	if _, ok := o.admit(ctx, ident); !ok {
		return nil, autherr.ErrInvalidCredentials
	}
	roles, err := o.effectiveRoles(ctx, ident.ID)
	if err != nil {
		return nil, storeError("refresh: resolve roles", err)
	}
	if len(roles) == 0 {
		return nil, autherr.ErrNoRolesAssigned
	}
	sess, err := o.mintPair(ident, roles)
	if err != nil {
		return nil, err
	}

	claim, err := o.ledger.VerifyAndTouch(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ledgerservice.ErrTokenReused) {
			o.onReuse(ctx, claims.IdentityID(), client)
		}
		return nil, err
	}
	defer claim.Release()
	if claim.IdentityID() != ident.ID {
		log.Printf("session: refresh token subject %s does not own ledger record of %s", ident.ID, claim.IdentityID())
		return nil, autherr.ErrRevokedOrUnknownRefreshToken
	}
	if err := claim.Rotate(sess.RefreshToken, client.DeviceInfo, client.SourceAddress); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return sess, nil
}

// Logout revokes refreshToken when one is supplied. It always succeeds; a failed revoke is
// logged.
func (o *Orchestrator) Logout(ctx context.Context, refreshToken string) {
	ctx, span := o.tracer.Start(ctx, "session.Logout")
	defer span.End()
	if refreshToken == "" {
		o.metrics.ObserveLogout(false, 0)
		return
	}
	var revoked int64
	if err := o.ledger.Revoke(ctx, refreshToken); err != nil {
		recordError(span, err)
		log.Printf("session: logout revoke failed: %v", err)
	} else {
		revoked = 1
	}
	o.metrics.ObserveLogout(false, revoked)
	var identityID string
	if claims, err := o.codec.Verify(refreshToken, security.KindRefresh); err == nil {
		identityID = claims.IdentityID()
	}
	o.emit(ctx, telemetrydomain.EventLogout, identityID, "", domain.Client{})
}

// LogoutEverywhere revokes every refresh record of identityID and returns how many were live.
func (o *Orchestrator) LogoutEverywhere(ctx context.Context, identityID string) (int64, error) {
	ctx, span := o.tracer.Start(ctx, "session.LogoutEverywhere", trace.WithAttributes(attribute.String("identity.id", identityID)))
	defer span.End()
	n, err := o.ledger.RevokeAll(ctx, identityID)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	o.metrics.ObserveLogout(true, n)
	o.emit(ctx, telemetrydomain.EventLogoutEverywhere, identityID, "", domain.Client{})
	return n, nil
}

// Authorize verifies an access credential and returns the principal it asserts. It does not
// touch any store.
func (o *Orchestrator) Authorize(ctx context.Context, accessToken string) (domain.Principal, error) {
	claims, err := o.codec.Verify(accessToken, security.KindAccess)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.NewPrincipal(
		claims.IdentityID(),
		claims.Email,
		roledomain.ParseRoleCode(claims.PrimaryRole),
		roledomain.CodesFromStrings(claims.Roles),
	), nil
}

// RequirePermission reports whether any of roles grants permission.
func (o *Orchestrator) RequirePermission(ctx context.Context, roles []roledomain.RoleCode, permission string) bool {
	for _, r := range roles {
		if o.roles.HasPermission(ctx, r, permission) {
			return true
		}
	}
	return false
}

// RequireRole reports whether any of roles is at least as privileged as required.
func (o *Orchestrator) RequireRole(roles []roledomain.RoleCode, required roledomain.RoleCode) bool {
	for _, r := range roles {
		if o.roles.HasRole(r, required) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) findByEmail(ctx context.Context, email string) (*identitydomain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	return o.identities.FindByEmail(ctx, email)
}

func (o *Orchestrator) findByID(ctx context.Context, id string) (*identitydomain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	return o.identities.FindByID(ctx, id)
}

func (o *Orchestrator) effectiveRoles(ctx context.Context, identityID string) ([]roledomain.RoleCode, error) {
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	return o.roles.EffectiveRoles(ctx, identityID)
}

func (o *Orchestrator) admit(ctx context.Context, ident *identitydomain.Identity) (auditdomain.Reason, bool) {
	if o.admission == nil {
		if !ident.Active() {
			return auditdomain.ReasonIdentityDisabled, false
		}
		return "", true
	}
	d, err := o.admission.EvaluateAdmission(ctx, ident)
	if err != nil {
		log.Printf("session: admission check for %s failed: %v", ident.ID, err)
		return auditdomain.ReasonIdentityDisabled, false
	}
	if d.Allow {
		return "", true
	}
	if d.Reason == engine.ReasonEmailUnverified {
		return auditdomain.ReasonEmailUnverified, false
	}
	return auditdomain.ReasonIdentityDisabled, false
}

func (o *Orchestrator) mintPair(ident *identitydomain.Identity, roles []roledomain.RoleCode) (*domain.Session, error) {
	sub := security.Subject{
		IdentityID:  ident.ID,
		Email:       ident.Email,
		PrimaryRole: roles[0].String(),
		Roles:       roledomain.CodesToStrings(roles),
	}
	access, accessExp, err := o.codec.MintAccess(sub)
	if err != nil {
		return nil, fmt.Errorf("mint access: %w", err)
	}
	refresh, refreshExp, err := o.codec.MintRefresh(sub)
	if err != nil {
		return nil, fmt.Errorf("mint refresh: %w", err)
	}
	return &domain.Session{
		IdentityID:       ident.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		PrimaryRole:      roles[0],
		Roles:            roles,
	}, nil
}

func (o *Orchestrator) onReuse(ctx context.Context, identityID string, client domain.Client) {
	o.metrics.ObserveTokenReuse()
	reason := "detected"
	if o.revokeOnReuse {
		n, err := o.ledger.RevokeAll(ctx, identityID)
		if err != nil {
			log.Printf("session: revoke after token reuse for %s failed: %v", identityID, err)
		} else {
			log.Printf("session: refresh token reuse for %s; revoked %d sessions", identityID, n)
			reason = "sessions_revoked"
		}
	}
	o.emit(ctx, telemetrydomain.EventTokenReuse, identityID, reason, client)
}

func (o *Orchestrator) emit(ctx context.Context, typ telemetrydomain.EventType, identityID, reason string, client domain.Client) {
	outcome := auditdomain.OutcomeSuccess
	if typ == telemetrydomain.EventTokenReuse {
		outcome = auditdomain.OutcomeFailure
	}
	telemetry.EmitAsync(ctx, o.events, &telemetrydomain.AuthEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		IdentityID:    identityID,
		Outcome:       outcome,
		Reason:        reason,
		DeviceInfo:    client.DeviceInfo,
		SourceAddress: client.SourceAddress,
		CreatedAt:     o.now(),
	})
}

// storeError wraps a non-ledger store failure as autherr.ErrPersistence.
func storeError(op string, err error) error {
	if errors.Is(err, autherr.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: store timeout: %w", op, autherr.ErrPersistence)
	}
	return fmt.Errorf("%s: %v: %w", op, err, autherr.ErrPersistence)
}

// recordError marks the span failed unless err only asks the client to log in again.
func recordError(span trace.Span, err error) {
	span.RecordError(err)
	if !autherr.IsReauthenticate(err) {
		span.SetStatus(codes.Error, err.Error())
	}
}
