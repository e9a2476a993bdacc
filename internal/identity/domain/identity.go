package domain

import (
	"errors"
	"strings"
	"time"
)

// Identity is an account that can establish a session: a unique e-mail, a password hash and
// verification/status flags. It is owned by the wider application and only read here.
type Identity struct {
	ID            string
	Email         string
	PasswordHash  string
	EmailVerified bool
	Status        IdentityStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type IdentityStatus string

const (
	IdentityStatusActive   IdentityStatus = "active"
	IdentityStatusDisabled IdentityStatus = "disabled"
)

// NormalizeEmail lowercases and trims e-mail so lookups and the unique index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the identity for persistence. Returns an error describing the first validation failure.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("id is required")
	}
	if i.Email == "" {
		return errors.New("email is required")
	}
	if i.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if i.Status == "" {
		i.Status = IdentityStatusActive
	}
	return nil
}

// Active reports whether the identity may sign in.
func (i *Identity) Active() bool {
	return i.Status == IdentityStatusActive
}
