package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditdomain "gathering-marketplace/backend/internal/audit/domain"
	"gathering-marketplace/backend/internal/autherr"
	identitydomain "gathering-marketplace/backend/internal/identity/domain"
	ledgerrepo "gathering-marketplace/backend/internal/ledger/repository"
	ledgerservice "gathering-marketplace/backend/internal/ledger/service"
	"gathering-marketplace/backend/internal/platform/ratelimit"
	"gathering-marketplace/backend/internal/policy/engine"
	roledomain "gathering-marketplace/backend/internal/role/domain"
	"gathering-marketplace/backend/internal/role/resolver"
	"gathering-marketplace/backend/internal/security"
	"gathering-marketplace/backend/internal/session/domain"
)

const testPassword = "Correct-Horse-9"

type memIdentities struct {
	mu       sync.Mutex
	byEmail  map[string]*identitydomain.Identity
	err      error
	hang     bool
	onLookup func()
}

// wait runs the lookup hook and, when hang is set, blocks until ctx ends.
func (m *memIdentities) wait(ctx context.Context) error {
	m.mu.Lock()
	hang, hook := m.hang, m.onLookup
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (m *memIdentities) setHang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = hang
}

func (m *memIdentities) FindByEmail(ctx context.Context, email string) (*identitydomain.Identity, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if i, ok := m.byEmail[identitydomain.NormalizeEmail(email)]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (m *memIdentities) FindByID(ctx context.Context, id string) (*identitydomain.Identity, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, i := range m.byEmail {
		if i.ID == id {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memIdentities) setStatus(email string, status identitydomain.IdentityStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEmail[email].Status = status
}

type memAssignments struct {
	mu   sync.Mutex
	byID map[string][]roledomain.Assignment
	hang bool
}

func (m *memAssignments) ListRoles(ctx context.Context, identityID string) ([]roledomain.Assignment, error) {
	m.mu.Lock()
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]roledomain.Assignment(nil), m.byID[identityID]...), nil
}

func (m *memAssignments) setHang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = hang
}

func (m *memAssignments) set(identityID string, as ...roledomain.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[identityID] = as
}

type memDefinitions map[roledomain.RoleCode]*roledomain.Definition

func (m memDefinitions) GetDefinition(_ context.Context, code roledomain.RoleCode) (*roledomain.Definition, error) {
	return m[code], nil
}

type recordingSink struct {
	mu       sync.Mutex
	attempts []auditdomain.LoginAttempt
}

func (r *recordingSink) RecordLoginAttempt(_ context.Context, a *auditdomain.LoginAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *a)
}

func (r *recordingSink) last(t *testing.T) auditdomain.LoginAttempt {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.attempts)
	return r.attempts[len(r.attempts)-1]
}

type fixture struct {
	orch        *Orchestrator
	codec       *security.Codec
	store       *ledgerrepo.MemoryStore
	identities  *memIdentities
	assignments *memAssignments
	audit       *recordingSink
}

func assignment(role roledomain.RoleCode, primary bool) roledomain.Assignment {
	return roledomain.Assignment{RoleCode: role, IsPrimary: primary, GrantedAt: time.Now().Add(-time.Hour)}
}

func newFixture(t *testing.T, configure ...func(*Deps)) *fixture {
	t.Helper()
	codec, err := security.NewTestCodec()
	require.NoError(t, err)
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	require.NoError(t, err)

	identity := func(id, email string, status identitydomain.IdentityStatus, verified bool) *identitydomain.Identity {
		return &identitydomain.Identity{ID: id, Email: email, PasswordHash: hash, Status: status, EmailVerified: verified}
	}
	identities := &memIdentities{byEmail: map[string]*identitydomain.Identity{
		"host@example.com":  identity("id-host", "host@example.com", identitydomain.IdentityStatusActive, true),
		"user@example.com":  identity("id-user", "user@example.com", identitydomain.IdentityStatusActive, true),
		"empty@example.com": identity("id-empty", "empty@example.com", identitydomain.IdentityStatusActive, true),
		"off@example.com":   identity("id-off", "off@example.com", identitydomain.IdentityStatusDisabled, true),
		"new@example.com":   identity("id-new", "new@example.com", identitydomain.IdentityStatusActive, false),
	}}
	assignments := &memAssignments{byID: map[string][]roledomain.Assignment{
		"id-host": {assignment(roledomain.RoleHost, true), assignment(roledomain.RoleUser, false)},
		"id-user": {assignment(roledomain.RoleUser, true)},
		"id-off":  {assignment(roledomain.RoleUser, true)},
		"id-new":  {assignment(roledomain.RoleUser, true)},
	}}
	definitions := memDefinitions{
		roledomain.RoleHost: {Code: roledomain.RoleHost, Level: 40, Permissions: []string{"gathering.*", "report.create"}},
		roledomain.RoleUser: {Code: roledomain.RoleUser, Level: 20, Permissions: []string{"gathering.read", "gathering.join"}},
	}
	store := ledgerrepo.NewMemoryStore()
	sink := &recordingSink{}
	deps := Deps{
		Codec:      codec,
		Ledger:     ledgerservice.New(store, time.Second),
		Roles:      resolver.New(assignments, definitions, time.Minute),
		Identities: identities,
		Hasher:     hasher,
		Audit:      sink,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	orch, err := New(deps)
	require.NoError(t, err)
	return &fixture{orch: orch, codec: codec, store: store, identities: identities, assignments: assignments, audit: sink}
}

var web = domain.Client{DeviceInfo: "web", SourceAddress: "10.0.0.1"}

func TestLogin_HostScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.orch.Login(ctx, "Host@Example.com ", testPassword, web)
	require.NoError(t, err)
	assert.Equal(t, "id-host", sess.IdentityID)
	assert.Equal(t, roledomain.RoleHost, sess.PrimaryRole)
	assert.Equal(t, []roledomain.RoleCode{roledomain.RoleHost, roledomain.RoleUser}, sess.Roles)
	assert.NotEqual(t, sess.AccessToken, sess.RefreshToken)
	assert.Equal(t, 1, f.store.Len())

	rec, ok := f.store.Get(security.HashRefreshToken(sess.RefreshToken))
	require.True(t, ok)
	assert.Equal(t, "web", rec.DeviceInfo)
	assert.Equal(t, "10.0.0.1", rec.SourceAddress)

	p, err := f.orch.Authorize(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "id-host", p.IdentityID)
	assert.Equal(t, "host@example.com", p.Email)
	assert.Equal(t, roledomain.RoleHost, p.PrimaryRole)
	assert.True(t, f.orch.RequirePermission(ctx, p.Roles, "gathering.create"))
	assert.True(t, f.orch.RequirePermission(ctx, p.Roles, "gathering.join"))
	assert.False(t, f.orch.RequirePermission(ctx, p.Roles, "admin.dashboard"))
	assert.True(t, f.orch.RequireRole(p.Roles, roledomain.RoleHost))
	assert.False(t, f.orch.RequireRole(p.Roles, roledomain.RoleModerator))

	user, err := f.orch.Login(ctx, "user@example.com", testPassword, web)
	require.NoError(t, err)
	up, err := f.orch.Authorize(ctx, user.AccessToken)
	require.NoError(t, err)
	assert.False(t, f.orch.RequirePermission(ctx, up.Roles, "gathering.create"))
	assert.True(t, f.orch.RequirePermission(ctx, up.Roles, "gathering.read"))
	assert.False(t, f.orch.RequireRole(up.Roles, roledomain.RoleHost))

	attempt := f.audit.last(t)
	assert.Equal(t, auditdomain.ReasonSuccess, attempt.Reason)
	assert.Equal(t, "id-user", attempt.IdentityID)
	assert.Equal(t, "10.0.0.1", attempt.SourceAddress)
}

func TestLogin_FailuresLookIdenticalButAuditDiffers(t *testing.T) {
	testCases := []struct {
		name       string
		email      string
		password   string
		wantReason auditdomain.Reason
		wantID     string
	}{
		{"unknown email", "ghost@example.com", testPassword, auditdomain.ReasonIdentityNotFound, ""},
		{"wrong password", "host@example.com", "wrong-password", auditdomain.ReasonWrongSecret, "id-host"},
		{"disabled identity", "off@example.com", testPassword, auditdomain.ReasonIdentityDisabled, "id-off"},
		{"empty email", "", testPassword, auditdomain.ReasonIdentityNotFound, ""},
		{"empty password", "host@example.com", "", auditdomain.ReasonWrongSecret, "id-host"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			sess, err := f.orch.Login(context.Background(), tc.email, tc.password, web)
			assert.Nil(t, sess)
			assert.Equal(t, autherr.ErrInvalidCredentials, err)
			assert.Equal(t, 0, f.store.Len())

			attempt := f.audit.last(t)
			assert.Equal(t, tc.wantReason, attempt.Reason)
			assert.Equal(t, tc.wantID, attempt.IdentityID)
			assert.Equal(t, auditdomain.OutcomeFailure, attempt.Outcome())
		})
	}
}

func TestLogin_NoRolesAssigned(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Login(context.Background(), "empty@example.com", testPassword, web)
	assert.ErrorIs(t, err, autherr.ErrNoRolesAssigned)
	assert.False(t, autherr.IsReauthenticate(err))
	assert.Equal(t, auditdomain.ReasonNoRolesAssigned, f.audit.last(t).Reason)
	assert.Equal(t, 0, f.store.Len())
}

func TestLogin_RateLimitedPerSourceAddress(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Limiter = ratelimit.New(1, 2) })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.orch.Login(ctx, "host@example.com", "wrong-password", web)
		assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	}
	_, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	assert.ErrorIs(t, err, autherr.ErrTooManyAttempts)
	assert.Equal(t, auditdomain.ReasonRateLimited, f.audit.last(t).Reason)

	_, err = f.orch.Login(ctx, "host@example.com", testPassword, domain.Client{SourceAddress: "10.0.0.2"})
	assert.NoError(t, err)
}

func TestLogin_AdmissionPolicyRequiresVerifiedEmail(t *testing.T) {
	evaluator, err := engine.NewOPAEvaluator(context.Background(), "", true)
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) { d.Admission = evaluator })
	ctx := context.Background()

	_, err = f.orch.Login(ctx, "new@example.com", testPassword, web)
	assert.Equal(t, autherr.ErrInvalidCredentials, err)
	assert.Equal(t, auditdomain.ReasonEmailUnverified, f.audit.last(t).Reason)

	_, err = f.orch.Login(ctx, "off@example.com", testPassword, web)
	assert.Equal(t, autherr.ErrInvalidCredentials, err)
	assert.Equal(t, auditdomain.ReasonIdentityDisabled, f.audit.last(t).Reason)

	_, err = f.orch.Login(ctx, "host@example.com", testPassword, web)
	assert.NoError(t, err)
}

type failingIssueLedger struct {
	*ledgerservice.Ledger
}

func (failingIssueLedger) Issue(context.Context, string, string, string, string) error {
	return fmt.Errorf("ledger issue: store timeout: %w", autherr.ErrPersistence)
}

func TestLogin_PersistenceFailuresReturnNoTokens(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Ledger = failingIssueLedger{d.Ledger.(*ledgerservice.Ledger)}
	})
	sess, err := f.orch.Login(context.Background(), "host@example.com", testPassword, web)
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	assert.Equal(t, auditdomain.ReasonPersistenceError, f.audit.last(t).Reason)

	g := newFixture(t)
	g.identities.err = errors.New("connection refused")
	_, err = g.orch.Login(context.Background(), "host@example.com", testPassword, web)
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	assert.Equal(t, auditdomain.ReasonPersistenceError, g.audit.last(t).Reason)
}

func TestRefresh_RotatesAndReresolvesRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	f.assignments.set("id-host", assignment(roledomain.RoleUser, true))
	mobile := domain.Client{DeviceInfo: "ios", SourceAddress: "10.0.0.9"}
	second, err := f.orch.Refresh(ctx, first.RefreshToken, mobile)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, roledomain.RoleUser, second.PrimaryRole)
	assert.Equal(t, []roledomain.RoleCode{roledomain.RoleUser}, second.Roles)

	p, err := f.orch.Authorize(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.False(t, f.orch.RequirePermission(ctx, p.Roles, "gathering.create"))

	rec, ok := f.store.Get(security.HashRefreshToken(second.RefreshToken))
	require.True(t, ok)
	assert.Equal(t, "ios", rec.DeviceInfo)

	_, err = f.orch.Refresh(ctx, first.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)

	_, err = f.orch.Refresh(ctx, second.RefreshToken, web)
	assert.NoError(t, err, "reuse of an old token does not revoke the new one by default")
}

func TestRefresh_ConcurrentReplayHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	const callers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.Refresh(ctx, sess.RefreshToken, web)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, autherr.ErrRevokedOrUnknownRefreshToken):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(callers-1), rejected.Load())
}

func TestRefresh_FailureKeepsOldTokenValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	f.assignments.set("id-host")
	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrNoRolesAssigned)

	f.assignments.set("id-host", assignment(roledomain.RoleHost, true))
	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	assert.NoError(t, err)
}

func TestRefresh_DisabledIdentityRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	f.identities.setStatus("host@example.com", identitydomain.IdentityStatusDisabled)
	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrInvalidCredentials)
}

func TestRefresh_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	_, err = f.orch.Refresh(ctx, sess.AccessToken, web)
	assert.ErrorIs(t, err, autherr.ErrMalformedCredential)
	_, err = f.orch.Refresh(ctx, "garbage", web)
	assert.ErrorIs(t, err, autherr.ErrMalformedCredential)

	other, _, err := f.codec.MintRefresh(security.Subject{IdentityID: "id-host"})
	require.NoError(t, err)
	_, err = f.orch.Refresh(ctx, other, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken, "validly signed but never recorded")
}

func TestRefresh_ReuseRevokesEverythingWhenEnabled(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.RevokeOnReuse = true })
	ctx := context.Background()
	first, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)
	other, err := f.orch.Login(ctx, "host@example.com", testPassword, domain.Client{DeviceInfo: "tablet"})
	require.NoError(t, err)

	second, err := f.orch.Refresh(ctx, first.RefreshToken, web)
	require.NoError(t, err)

	_, err = f.orch.Refresh(ctx, first.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)

	_, err = f.orch.Refresh(ctx, second.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)
	_, err = f.orch.Refresh(ctx, other.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	f.orch.Logout(ctx, sess.RefreshToken)
	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)

	f.orch.Logout(ctx, "")
	f.orch.Logout(ctx, "not-a-token")
	f.orch.Logout(ctx, sess.RefreshToken)
}

func TestLogoutEverywhere_RevokesEveryToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)
	b, err := f.orch.Login(ctx, "host@example.com", testPassword, domain.Client{DeviceInfo: "ios"})
	require.NoError(t, err)
	u, err := f.orch.Login(ctx, "user@example.com", testPassword, web)
	require.NoError(t, err)

	n, err := f.orch.LogoutEverywhere(ctx, "id-host")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, token := range []string{a.RefreshToken, b.RefreshToken} {
		_, err := f.orch.Refresh(ctx, token, web)
		assert.ErrorIs(t, err, autherr.ErrRevokedOrUnknownRefreshToken)
	}
	_, err = f.orch.Refresh(ctx, u.RefreshToken, web)
	assert.NoError(t, err, "other identities are untouched")

	n, err = f.orch.LogoutEverywhere(ctx, "id-host")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAuthorize_RejectsNonAccessCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	_, err = f.orch.Authorize(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, autherr.ErrMalformedCredential)
	_, err = f.orch.Authorize(ctx, "")
	assert.ErrorIs(t, err, autherr.ErrMalformedCredential)

	expired, _, err := f.codec.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).
		MintAccess(security.Subject{IdentityID: "id-host", Roles: []string{"HOST"}})
	require.NoError(t, err)
	_, err = f.orch.Authorize(ctx, expired)
	assert.ErrorIs(t, err, autherr.ErrExpiredCredential)
}

func TestRequireRole_UsesHierarchy(t *testing.T) {
	f := newFixture(t)
	admin := []roledomain.RoleCode{roledomain.RoleAdmin}
	assert.True(t, f.orch.RequireRole(admin, roledomain.RoleHost))
	assert.False(t, f.orch.RequireRole(nil, roledomain.RoleUser))
	assert.False(t, f.orch.RequireRole(admin, roledomain.RoleCode("UNKNOWN")))
	assert.True(t, f.orch.RequirePermission(context.Background(), []roledomain.RoleCode{roledomain.RoleSuperAdmin}, "anything.at.all"))
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	codec, err := security.NewTestCodec()
	require.NoError(t, err)
	_, err = New(Deps{Codec: codec})
	assert.Error(t, err)
}

const shortStoreTimeout = 50 * time.Millisecond

// within fails the test if fn does not return in time.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call still blocked after %s", d)
	}
}

func TestLogin_HungIdentityStoreIsPersistenceError(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.StoreTimeout = shortStoreTimeout })
	f.identities.setHang(true)

	var (
		sess *domain.Session
		err  error
	)
	within(t, 2*time.Second, func() {
		sess, err = f.orch.Login(context.Background(), "host@example.com", testPassword, web)
	})
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	assert.Equal(t, auditdomain.ReasonPersistenceError, f.audit.last(t).Reason)
	assert.Equal(t, 0, f.store.Len())
}

func TestLogin_HungAssignmentStoreIsPersistenceError(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.StoreTimeout = shortStoreTimeout })
	f.assignments.setHang(true)

	var err error
	within(t, 2*time.Second, func() {
		_, err = f.orch.Login(context.Background(), "host@example.com", testPassword, web)
	})
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	assert.Equal(t, auditdomain.ReasonPersistenceError, f.audit.last(t).Reason)
}

func TestRefresh_HungStoresKeepTokenValid(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.StoreTimeout = shortStoreTimeout })
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	f.identities.setHang(true)
	within(t, 2*time.Second, func() {
		_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	})
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	f.identities.setHang(false)

	f.assignments.setHang(true)
	within(t, 2*time.Second, func() {
		_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	})
	assert.ErrorIs(t, err, autherr.ErrPersistence)
	f.assignments.setHang(false)

	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	assert.NoError(t, err)
}

func TestRefresh_LookupsRunBeforeLedgerClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.orch.Login(ctx, "host@example.com", testPassword, web)
	require.NoError(t, err)

	lookups := 0
	f.identities.mu.Lock()
	f.identities.onLookup = func() {
		lookups++
		beginCtx, cancel := context.WithTimeout(ctx, shortStoreTimeout)
		defer cancel()
		tx, err := f.store.Begin(beginCtx)
		if assert.NoError(t, err, "ledger transaction already open during identity lookup") {
			assert.NoError(t, tx.Rollback())
		}
	}
	f.identities.mu.Unlock()

	_, err = f.orch.Refresh(ctx, sess.RefreshToken, web)
	require.NoError(t, err)
	assert.Equal(t, 1, lookups)
}
