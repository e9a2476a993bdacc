package domain

import "time"

// Reason classifies a login attempt. Clients never see it; it exists for the audit trail only.
type Reason string

const (
	ReasonSuccess          Reason = "success"
	ReasonIdentityNotFound Reason = "identity_not_found"
	ReasonWrongSecret      Reason = "wrong_secret"
	ReasonIdentityDisabled Reason = "identity_disabled"
	ReasonEmailUnverified  Reason = "email_unverified"
	ReasonNoRolesAssigned  Reason = "no_roles_assigned"
	ReasonRateLimited      Reason = "rate_limited"
	ReasonPersistenceError Reason = "persistence_error"
	ReasonInternalError    Reason = "internal_error"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// LoginAttempt is one audited login, successful or not. Email is the value the caller submitted;
// IdentityID is empty when no identity matched.
type LoginAttempt struct {
	ID            string
	Email         string
	IdentityID    string
	Reason        Reason
	SourceAddress string
	DeviceInfo    string
	CreatedAt     time.Time
}

// Outcome is "success" for ReasonSuccess and "failure" for everything else.
func (a *LoginAttempt) Outcome() string {
	if a.Reason == ReasonSuccess {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
