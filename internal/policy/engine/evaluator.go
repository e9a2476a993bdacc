// Package engine decides whether an authenticated identity may establish a session.
package engine

import (
	"context"

	identitydomain "gathering-marketplace/backend/internal/identity/domain"
)

// Denial reasons reported in Decision.Reason.
const (
	ReasonIdentityDisabled = "identity_disabled"
	ReasonEmailUnverified  = "email_unverified"
)

// Decision is the outcome of an admission check. Reason is empty when Allow is true.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator evaluates session admission policy using OPA or other engines.
type Evaluator interface {
	// EvaluateAdmission runs after the password check and before roles are resolved.
	EvaluateAdmission(ctx context.Context, identity *identitydomain.Identity) (Decision, error)
}
