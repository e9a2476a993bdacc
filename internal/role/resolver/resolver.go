// Package resolver computes an identity's effective roles and answers permission questions
// against role definitions using hierarchical wildcard patterns.
package resolver

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gathering-marketplace/backend/internal/role/domain"
	"gathering-marketplace/backend/internal/role/repository"
)

// Resolver reads role assignments and definitions. It never writes, holds no per-request state
// and is safe for concurrent use. Definitions are cached in process for ttl.
type Resolver struct {
	assignments  repository.AssignmentRepository
	definitions  repository.DefinitionRepository
	ttl          time.Duration
	storeTimeout time.Duration
	now          func() time.Time

	mu    sync.RWMutex
	cache map[domain.RoleCode]cachedDefinition
}

type cachedDefinition struct {
	def       *domain.Definition
	expiresAt time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStoreTimeout bounds each assignment and definition lookup. Zero leaves the caller's
// deadline as the only bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.storeTimeout = d }
}

// New returns a Resolver. A ttl of zero disables the in-process definition cache.
func New(assignments repository.AssignmentRepository, definitions repository.DefinitionRepository, ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		assignments: assignments,
		definitions: definitions,
		ttl:         ttl,
		now:         time.Now,
		cache:       make(map[domain.RoleCode]cachedDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectiveRoles returns the identity's active role codes, primary first, without duplicates.
// An empty result with a nil error means no roles are assigned; callers must report that.
//
// Primary selection: among active assignments flagged primary, the earliest granted wins and
// any others are treated as secondary (logged, since the data is inconsistent). With no primary
// flag the highest-level role leads. Remaining roles follow by level, then grant time.
func (r *Resolver) EffectiveRoles(ctx context.Context, identityID string) ([]domain.RoleCode, error) {
	storeCtx, cancel := r.withTimeout(ctx)
	assignments, err := r.assignments.ListRoles(storeCtx, identityID)
	cancel()
	if err != nil {
		return nil, err
	}
	now := r.now()
	active := make([]domain.Assignment, 0, len(assignments))
	primaries := 0
	for _, a := range assignments {
		if a.RoleCode == "" || !a.ActiveAt(now) {
			continue
		}
		if a.IsPrimary {
			primaries++
		}
		active = append(active, a)
	}
	if primaries > 1 {
		log.Printf("roles: identity %s has %d primary roles; using the earliest granted", identityID, primaries)
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if a.IsPrimary && !a.GrantedAt.Equal(b.GrantedAt) {
			return a.GrantedAt.Before(b.GrantedAt)
		}
		if la, lb := a.RoleCode.Level(), b.RoleCode.Level(); la != lb {
			return la > lb
		}
		if !a.GrantedAt.Equal(b.GrantedAt) {
			return a.GrantedAt.Before(b.GrantedAt)
		}
		return a.RoleCode < b.RoleCode
	})

	roles := make([]domain.RoleCode, 0, len(active))
	seen := make(map[domain.RoleCode]bool, len(active))
	for _, a := range active {
		if seen[a.RoleCode] {
			continue
		}
		seen[a.RoleCode] = true
		roles = append(roles, a.RoleCode)
	}
	return roles, nil
}

// HasRole is the coarse level check: true if assigned is at least as privileged as required.
// It does not look at permission patterns.
func (r *Resolver) HasRole(assigned, required domain.RoleCode) bool {
	return assigned.AtLeast(required)
}

// HasPermission reports whether role grants permission. The super-role always does. Unknown
// roles and definition lookup failures deny.
func (r *Resolver) HasPermission(ctx context.Context, role domain.RoleCode, permission string) bool {
	if role == domain.SuperRole {
		return true
	}
	if permission == "" {
		return false
	}
	def, err := r.definition(ctx, role)
	if err != nil {
		log.Printf("roles: definition lookup for %s failed: %v", role, err)
		return false
	}
	if def == nil {
		return false
	}
	return Matches(def.Permissions, permission)
}

// HasAnyPermission is true if role grants at least one of permissions. Stops at the first grant.
func (r *Resolver) HasAnyPermission(ctx context.Context, role domain.RoleCode, permissions ...string) bool {
	for _, p := range permissions {
		if r.HasPermission(ctx, role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true if role grants every one of permissions. Stops at the first denial.
// An empty list is vacuously granted.
func (r *Resolver) HasAllPermissions(ctx context.Context, role domain.RoleCode, permissions ...string) bool {
	for _, p := range permissions {
		if !r.HasPermission(ctx, role, p) {
			return false
		}
	}
	return true
}

// Invalidate drops the in-process cache entry for each code, or everything when none are given.
func (r *Resolver) Invalidate(codes ...domain.RoleCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(codes) == 0 {
		r.cache = make(map[domain.RoleCode]cachedDefinition)
		return
	}
	for _, c := range codes {
		delete(r.cache, c)
	}
}

func (r *Resolver) definition(ctx context.Context, role domain.RoleCode) (*domain.Definition, error) {
	now := r.now()
	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.cache[role]
		r.mu.RUnlock()
		if ok && now.Before(entry.expiresAt) {
			return entry.def, nil
		}
	}
	storeCtx, cancel := r.withTimeout(ctx)
	def, err := r.definitions.GetDefinition(storeCtx, role)
	cancel()
	if err != nil {
		return nil, err
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[role] = cachedDefinition{def: def, expiresAt: now.Add(r.ttl)}
		r.mu.Unlock()
	}
	return def, nil
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

// Matches reports whether patterns grant permission: the literal wildcard, the permission
// verbatim, or "<prefix>.*" for any proper dot-separated prefix, longest prefix first.
func Matches(patterns []string, permission string) bool {
	if permission == "" {
		return false
	}
	set := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		set[p] = struct{}{}
	}
	if _, ok := set[domain.Wildcard]; ok {
		return true
	}
	if _, ok := set[permission]; ok {
		return true
	}
	prefix := permission
	for {
		i := strings.LastIndexByte(prefix, '.')
		if i <= 0 {
			return false
		}
		prefix = prefix[:i]
		if _, ok := set[prefix+".*"]; ok {
			return true
		}
	}
}
