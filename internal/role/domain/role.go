package domain

import (
	"strings"
	"time"
)

// RoleCode names a role. Known codes carry a fixed level used for "at least as privileged as"
// checks; permissions come from the role's Definition and are resolved separately.
type RoleCode string

const (
	RoleSuperAdmin RoleCode = "SUPER_ADMIN"
	RoleAdmin      RoleCode = "ADMIN"
	RoleModerator  RoleCode = "MODERATOR"
	RoleHost       RoleCode = "HOST"
	RoleUser       RoleCode = "USER"
)

// SuperRole holds the maximum level and is granted every permission without a definition lookup.
const SuperRole = RoleSuperAdmin

// Wildcard is the permission pattern that matches everything.
const Wildcard = "*"

// ParseRoleCode normalizes s (trimmed, upper case). The result may be unknown; check Known.
func ParseRoleCode(s string) RoleCode {
	return RoleCode(strings.ToUpper(strings.TrimSpace(s)))
}

// Level maps a role to its position in the static hierarchy. Unknown roles are 0.
func (r RoleCode) Level() int {
	switch r {
	case RoleSuperAdmin:
		return 100
	case RoleAdmin:
		return 80
	case RoleModerator:
		return 60
	case RoleHost:
		return 40
	case RoleUser:
		return 20
	default:
		return 0
	}
}

// AtLeast reports whether r meets or exceeds target in the level table. An unknown target never
// matches, so a typo in a guard cannot open it.
func (r RoleCode) AtLeast(target RoleCode) bool {
	return target.Known() && r.Level() >= target.Level()
}

// Known reports whether r is in the level table.
func (r RoleCode) Known() bool { return r.Level() > 0 }

func (r RoleCode) String() string { return string(r) }

// Assignment grants RoleCode to an identity. ExpiresAt nil means it never expires.
type Assignment struct {
	IdentityID string
	RoleCode   RoleCode
	IsPrimary  bool
	GrantedBy  string
	GrantedAt  time.Time
	ExpiresAt  *time.Time
}

// ActiveAt reports whether the assignment is in force at t.
func (a Assignment) ActiveAt(t time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(t)
}

// Definition is reference data for one role: an ordered permission-pattern list and a level.
type Definition struct {
	Code        RoleCode `json:"code" yaml:"code"`
	Level       int      `json:"level" yaml:"level"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// CodesToStrings converts role codes for token claims.
func CodesToStrings(codes []RoleCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

// CodesFromStrings parses claim values back into role codes.
func CodesFromStrings(ss []string) []RoleCode {
	out := make([]RoleCode, 0, len(ss))
	for _, s := range ss {
		if c := ParseRoleCode(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}
