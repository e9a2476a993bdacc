package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	roledomain "gathering-marketplace/backend/internal/role/domain"
	sessiondomain "gathering-marketplace/backend/internal/session/domain"
)

// PermissionChecker resolves role permissions. *service.Orchestrator implements it.
type PermissionChecker interface {
	RequirePermission(ctx context.Context, roles []roledomain.RoleCode, permission string) bool
}

// RequirePermission ensures the caller is authenticated and one of its roles grants permission.
// Returns the principal on success; returns a gRPC error (Unauthenticated or PermissionDenied) on failure.
func RequirePermission(ctx context.Context, checker PermissionChecker, permission string) (sessiondomain.Principal, error) {
	p, err := principal(ctx)
	if err != nil {
		return sessiondomain.Principal{}, err
	}
	if !checker.RequirePermission(ctx, p.Roles, permission) {
		return sessiondomain.Principal{}, status.Errorf(codes.PermissionDenied, "permission %s required", permission)
	}
	return p, nil
}
