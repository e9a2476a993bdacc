package domain

import (
	"time"

	roledomain "gathering-marketplace/backend/internal/role/domain"
)

// Principal is the authenticated caller as asserted by a verified access credential. It is a
// value: handlers receive it explicitly or read it from the request context, never from
// process-wide state.
type Principal struct {
	IdentityID  string
	Email       string
	PrimaryRole roledomain.RoleCode
	Roles       []roledomain.RoleCode
}

// NewPrincipal copies roles so later changes to the slice do not leak into the principal.
func NewPrincipal(identityID, email string, primary roledomain.RoleCode, roles []roledomain.RoleCode) Principal {
	cp := make([]roledomain.RoleCode, len(roles))
	copy(cp, roles)
	return Principal{IdentityID: identityID, Email: email, PrimaryRole: primary, Roles: cp}
}

// HasRole reports whether code is among the principal's roles (exact match, no hierarchy).
func (p Principal) HasRole(code roledomain.RoleCode) bool {
	for _, r := range p.Roles {
		if r == code {
			return true
		}
	}
	return false
}

// Session is what Login and Refresh hand back to the client.
type Session struct {
	IdentityID       string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	PrimaryRole      roledomain.RoleCode
	Roles            []roledomain.RoleCode
}

// Client describes where a request came from. Both fields are informational.
type Client struct {
	DeviceInfo    string
	SourceAddress string
}
