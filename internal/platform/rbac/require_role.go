package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	roledomain "gathering-marketplace/backend/internal/role/domain"
	sessiondomain "gathering-marketplace/backend/internal/session/domain"
	"gathering-marketplace/backend/internal/server/interceptors"
)

// RoleChecker answers hierarchy checks. *service.Orchestrator implements it.
type RoleChecker interface {
	RequireRole(roles []roledomain.RoleCode, required roledomain.RoleCode) bool
}

// RequireRole ensures the caller is authenticated and holds a role at least as privileged as
// required. Returns the principal on success; returns a gRPC error (Unauthenticated or
// PermissionDenied) on failure.
func RequireRole(ctx context.Context, checker RoleChecker, required roledomain.RoleCode) (sessiondomain.Principal, error) {
	p, err := principal(ctx)
	if err != nil {
		return sessiondomain.Principal{}, err
	}
	if !checker.RequireRole(p.Roles, required) {
		return sessiondomain.Principal{}, status.Errorf(codes.PermissionDenied, "role %s or higher required", required)
	}
	return p, nil
}

func principal(ctx context.Context) (sessiondomain.Principal, error) {
	p, ok := interceptors.GetPrincipal(ctx)
	if !ok || p.IdentityID == "" {
		return sessiondomain.Principal{}, status.Error(codes.Unauthenticated, "authenticated caller required")
	}
	return p, nil
}
