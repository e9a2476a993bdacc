package interceptors

import (
	"context"
	"log"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"gathering-marketplace/backend/internal/autherr"
	roledomain "gathering-marketplace/backend/internal/role/domain"
	sessiondomain "gathering-marketplace/backend/internal/session/domain"
)

const bearerPrefix = "bearer "

// Authorizer verifies access credentials and checks permissions. *service.Orchestrator
// implements it.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (sessiondomain.Principal, error)
	RequirePermission(ctx context.Context, roles []roledomain.RoleCode, permission string) bool
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token from
// gRPC metadata and stores the resulting Principal in context.
// publicMethods is the set of full method names that do not require a Bearer token (e.g. health
// checks, Login, Refresh). permissions maps full method names to the permission the caller's
// roles must grant; methods absent from it only require authentication.
func AuthUnary(auth Authorizer, publicMethods map[string]bool, permissions map[string]string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		p, err := auth.Authorize(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			if !autherr.IsReauthenticate(err) {
				log.Printf("auth: authorize %s: %v", info.FullMethod, err)
			}
			return nil, autherr.GRPCStatus(err)
		}

		if perm, ok := permissions[info.FullMethod]; ok && !auth.RequirePermission(ctx, p.Roles, perm) {
			return nil, status.Errorf(codes.PermissionDenied, "permission %s required", perm)
		}
		return handler(WithPrincipal(ctx, p), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
