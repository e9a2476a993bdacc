package interceptors

import (
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name string
		md   map[string]string
		want string
	}{
		{"x-forwarded-for", map[string]string{"x-forwarded-for": "192.168.1.1"}, "192.168.1.1"},
		{"x-forwarded-for with comma", map[string]string{"x-forwarded-for": "192.168.1.1, 10.0.0.1"}, "192.168.1.1"},
		{"x-real-ip", map[string]string{"x-real-ip": "192.168.1.2"}, "192.168.1.2"},
		{"forwarded wins", map[string]string{"x-forwarded-for": "192.168.1.1", "x-real-ip": "192.168.1.2"}, "192.168.1.1"},
		{"whitespace", map[string]string{"x-forwarded-for": "  192.168.1.1  "}, "192.168.1.1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.New(tc.md))
			if ip := ClientIP(ctx); ip != tc.want {
				t.Errorf("ip = %q, want %q", ip, tc.want)
			}
		})
	}
}

func TestClientIP_PeerAddress(t *testing.T) {
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.3"), Port: 12345},
	})
	if ip := ClientIP(ctx); ip != "192.168.1.3" {
		t.Errorf("ip = %q, want %q", ip, "192.168.1.3")
	}
}

func TestClientIP_Unknown(t *testing.T) {
	if ip := ClientIP(context.Background()); ip != "unknown" {
		t.Errorf("ip = %q, want %q", ip, "unknown")
	}
}

func TestDeviceInfo(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"user-agent":    "grpc-go/1.78",
		"x-device-info": "iPhone 15",
	}))
	if got := DeviceInfo(ctx); got != "iPhone 15" {
		t.Errorf("DeviceInfo = %q, want x-device-info", got)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{"user-agent": "grpc-go/1.78"}))
	if got := DeviceInfo(ctx); got != "grpc-go/1.78" {
		t.Errorf("DeviceInfo = %q, want user-agent fallback", got)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{"x-device-info": strings.Repeat("a", 1000)}))
	if got := DeviceInfo(ctx); len(got) != maxDeviceInfoLen {
		t.Errorf("len(DeviceInfo) = %d, want %d", len(got), maxDeviceInfoLen)
	}
	if got := DeviceInfo(context.Background()); got != "" {
		t.Errorf("DeviceInfo without metadata = %q", got)
	}
}

func TestClientFromContext(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"x-real-ip":     "10.1.1.1",
		"x-device-info": "android",
	}))
	c := ClientFromContext(ctx)
	if c.SourceAddress != "10.1.1.1" || c.DeviceInfo != "android" {
		t.Errorf("client = %+v", c)
	}
}
