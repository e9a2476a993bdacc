package interceptors

import (
	"context"

	sessiondomain "gathering-marketplace/backend/internal/session/domain"
)

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// WithPrincipal returns a context carrying p. Handlers read it via GetPrincipal.
func WithPrincipal(ctx context.Context, p sessiondomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the authenticated principal and true if set; otherwise a zero value, false.
func GetPrincipal(ctx context.Context) (sessiondomain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(sessiondomain.Principal)
	return p, ok
}

// GetIdentityID returns the principal's identity ID and true if set; otherwise "", false.
func GetIdentityID(ctx context.Context) (string, bool) {
	p, ok := GetPrincipal(ctx)
	if !ok || p.IdentityID == "" {
		return "", false
	}
	return p.IdentityID, true
}
