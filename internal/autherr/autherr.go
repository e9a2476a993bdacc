// Package autherr is the error taxonomy shared by the credential codec, the refresh ledger,
// the role resolver and the session orchestrator. Components return these sentinels (wrapped
// with %w); boundaries compare with errors.Is and map to gRPC codes via GRPCStatus.
package autherr

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidCredentials covers unknown e-mail, wrong password and disabled identities.
	// Callers never learn which of those occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExpiredCredential is returned when a token's exp is in the past.
	ErrExpiredCredential = errors.New("credential expired")
	// ErrMalformedCredential is returned for bad signatures, wrong key class, bad claims or garbage input.
	ErrMalformedCredential = errors.New("credential malformed")
	// ErrRevokedOrUnknownRefreshToken is returned when the ledger has no live record for a refresh token.
	ErrRevokedOrUnknownRefreshToken = errors.New("refresh token revoked or unknown")
	// ErrNoRolesAssigned is returned when an identity holds no role. It is never downgraded to a default role.
	ErrNoRolesAssigned = errors.New("no roles assigned")
	// ErrPersistence wraps store failures and store timeouts.
	ErrPersistence = errors.New("persistence error")
	// ErrTooManyAttempts is returned when login throttling rejects a source address.
	ErrTooManyAttempts = errors.New("too many login attempts")
)

// IsReauthenticate reports whether err means "the client must log in again".
// These are recoverable outcomes, never server failures.
func IsReauthenticate(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrExpiredCredential) ||
		errors.Is(err, ErrMalformedCredential) ||
		errors.Is(err, ErrRevokedOrUnknownRefreshToken)
}

// GRPCStatus maps an auth error to a gRPC status error. Unknown errors map to Internal
// without leaking the underlying message.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsReauthenticate(err):
		return status.Error(codes.Unauthenticated, "please re-authenticate")
	case errors.Is(err, ErrNoRolesAssigned):
		return status.Error(codes.PermissionDenied, "no roles assigned")
	case errors.Is(err, ErrTooManyAttempts):
		return status.Error(codes.ResourceExhausted, "too many attempts")
	case errors.Is(err, ErrPersistence):
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
