package domain

import "time"

// DefaultTTL is how long a refresh record authorizes refreshes after issuance.
const DefaultTTL = 30 * 24 * time.Hour

// RefreshRecord is the durable trace of one issued refresh credential. Only the SHA-256 hash of
// the raw token is kept. Once revoked or expired a record never authorizes a refresh again.
type RefreshRecord struct {
	ID            string
	IdentityID    string
	TokenHash     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time // nil when not revoked
	DeviceInfo    string
	SourceAddress string
	LastUsedAt    *time.Time
}

// Revoked reports whether the record was rotated out or explicitly revoked.
func (r *RefreshRecord) Revoked() bool { return r.RevokedAt != nil }

// ExpiredAt reports whether the record is past its expiry at t.
func (r *RefreshRecord) ExpiredAt(t time.Time) bool { return !t.Before(r.ExpiresAt) }

// Live reports whether the record can still authorize a refresh at t.
func (r *RefreshRecord) Live(t time.Time) bool { return !r.Revoked() && !r.ExpiredAt(t) }
