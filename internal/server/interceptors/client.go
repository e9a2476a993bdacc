package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	sessiondomain "gathering-marketplace/backend/internal/session/domain"
)

const maxDeviceInfoLen = 256

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

// DeviceInfo returns x-device-info, falling back to user-agent, truncated to 256 bytes.
func DeviceInfo(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, key := range []string{"x-device-info", "user-agent"} {
		if vals := md.Get(key); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if len(s) > maxDeviceInfoLen {
					s = s[:maxDeviceInfoLen]
				}
				return s
			}
		}
	}
	return ""
}

// ClientFromContext describes the caller for the refresh ledger and the audit trail.
func ClientFromContext(ctx context.Context) sessiondomain.Client {
	return sessiondomain.Client{DeviceInfo: DeviceInfo(ctx), SourceAddress: ClientIP(ctx)}
}
