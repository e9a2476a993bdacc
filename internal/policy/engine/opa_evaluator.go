package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/rego"

	identitydomain "gathering-marketplace/backend/internal/identity/domain"
)

const admissionQuery = "data.gathering.admission.decision"

// DefaultAdmissionPolicy denies disabled identities and, when require_verified_email is set,
// identities whose e-mail is unverified.
const DefaultAdmissionPolicy = `package gathering.admission

default allow := false
default reason := "identity_disabled"

unverified_blocked if {
	input.require_verified_email
	not input.identity.email_verified
}

allow if {
	input.identity.status == "active"
	not unverified_blocked
}

reason := "" if allow

reason := "email_unverified" if {
	input.identity.status == "active"
	unverified_blocked
}

decision := {"allow": allow, "reason": reason}
`

// OPAEvaluator evaluates admission with a Rego policy prepared once at construction.
type OPAEvaluator struct {
	query                rego.PreparedEvalQuery
	requireVerifiedEmail bool
}

// NewOPAEvaluator compiles policy (DefaultAdmissionPolicy when empty). The policy must define
// data.gathering.admission.decision as {"allow": bool, "reason": string}.
func NewOPAEvaluator(ctx context.Context, policy string, requireVerifiedEmail bool) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultAdmissionPolicy
	}
	q, err := rego.New(
		rego.Query(admissionQuery),
		rego.Module("admission.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	return &OPAEvaluator{query: q, requireVerifiedEmail: requireVerifiedEmail}, nil
}

// HealthCheck evaluates the prepared policy against an active, verified identity. Returns nil
// when the engine answers.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, &identitydomain.Identity{Status: identitydomain.IdentityStatusActive, EmailVerified: true})
	return err
}

// EvaluateAdmission returns the policy decision. A nil identity is never admitted. If the engine
// fails, the built-in rules decide and the error is logged.
func (e *OPAEvaluator) EvaluateAdmission(ctx context.Context, identity *identitydomain.Identity) (Decision, error) {
	if identity == nil {
		return Decision{Reason: ReasonIdentityDisabled}, nil
	}
	d, err := e.eval(ctx, identity)
	if err != nil {
		log.Printf("policy: admission evaluation failed for %s: %v, using built-in rules", identity.ID, err)
		return e.fallback(identity), nil
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, identity *identitydomain.Identity) (Decision, error) {
	input := map[string]interface{}{
		"require_verified_email": e.requireVerifiedEmail,
		"identity": map[string]interface{}{
			"id":             identity.ID,
			"status":         string(identity.Status),
			"email_verified": identity.EmailVerified,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("admission query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("admission decision has type %T", rs[0].Expressions[0].Value)
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	if allow {
		reason = ""
	} else if reason == "" {
		reason = ReasonIdentityDisabled
	}
	return Decision{Allow: allow, Reason: reason}, nil
}

func (e *OPAEvaluator) fallback(identity *identitydomain.Identity) Decision {
	if !identity.Active() {
		return Decision{Reason: ReasonIdentityDisabled}
	}
	if e.requireVerifiedEmail && !identity.EmailVerified {
		return Decision{Reason: ReasonEmailUnverified}
	}
	return Decision{Allow: true}
}
