package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gathering-marketplace/backend/internal/autherr"
)

func testSubject() Subject {
	return Subject{
		IdentityID:  "identity-1",
		Email:       "host@example.com",
		PrimaryRole: "HOST",
		Roles:       []string{"HOST", "USER"},
	}
}

func TestCodec_MintAndVerifyAccess(t *testing.T) {
	codec, err := NewTestCodec()
	if err != nil {
		t.Fatalf("NewTestCodec: %v", err)
	}
	token, expiresAt, err := codec.MintAccess(testSubject())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if token == "" {
		t.Fatal("MintAccess returned empty token")
	}
	if d := time.Until(expiresAt); d <= 14*time.Minute || d > 15*time.Minute {
		t.Errorf("access expiry %v out of range", d)
	}
	claims, err := codec.Verify(token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.IdentityID() != "identity-1" {
		t.Errorf("subject = %q, want identity-1", claims.IdentityID())
	}
	if claims.Email != "host@example.com" || claims.PrimaryRole != "HOST" {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "HOST" || claims.Roles[1] != "USER" {
		t.Errorf("roles = %v, want [HOST USER]", claims.Roles)
	}
	if claims.Type != KindAccess {
		t.Errorf("typ = %q, want access", claims.Type)
	}
}

func TestCodec_MintRefreshUsesRefreshTTL(t *testing.T) {
	codec, _ := NewTestCodec()
	token, expiresAt, err := codec.MintRefresh(testSubject())
	if err != nil {
		t.Fatalf("MintRefresh: %v", err)
	}
	if d := time.Until(expiresAt); d <= 29*24*time.Hour {
		t.Errorf("refresh expiry %v too short", d)
	}
	if codec.RefreshTTL() != 30*24*time.Hour {
		t.Errorf("RefreshTTL = %v", codec.RefreshTTL())
	}
	if _, err := codec.Verify(token, KindRefresh); err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
}

func TestCodec_TokensAreUnique(t *testing.T) {
	codec, _ := NewTestCodec()
	a, _, _ := codec.MintRefresh(testSubject())
	b, _, _ := codec.MintRefresh(testSubject())
	if a == b {
		t.Fatal("two refresh tokens minted for the same subject must differ")
	}
}

func TestCodec_KindsAreNotInterchangeable(t *testing.T) {
	codec, _ := NewTestCodec()
	access, _, _ := codec.MintAccess(testSubject())
	refresh, _, _ := codec.MintRefresh(testSubject())
	if _, err := codec.Verify(access, KindRefresh); !errors.Is(err, autherr.ErrMalformedCredential) {
		t.Errorf("access as refresh: want ErrMalformedCredential, got %v", err)
	}
	if _, err := codec.Verify(refresh, KindAccess); !errors.Is(err, autherr.ErrMalformedCredential) {
		t.Errorf("refresh as access: want ErrMalformedCredential, got %v", err)
	}
}

func TestCodec_Expired(t *testing.T) {
	codec, _ := NewTestCodec()
	past := time.Now().Add(-time.Hour)
	token, _, err := codec.WithClock(func() time.Time { return past }).MintAccess(testSubject())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if _, err := codec.Verify(token, KindAccess); !errors.Is(err, autherr.ErrExpiredCredential) {
		t.Errorf("want ErrExpiredCredential, got %v", err)
	}
}

func TestCodec_Malformed(t *testing.T) {
	codec, _ := NewTestCodec()
	token, _, _ := codec.MintAccess(testSubject())
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	testCases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"tampered signature", tampered},
		{"truncated", parts[0] + "." + parts[1]},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := codec.Verify(tc.token, KindAccess); !errors.Is(err, autherr.ErrMalformedCredential) {
				t.Errorf("want ErrMalformedCredential, got %v", err)
			}
		})
	}
}

func TestCodec_WrongIssuerOrAudience(t *testing.T) {
	codec, _ := NewTestCodec()
	access, _ := LoadKeyPair(testAccessPrivateKeyPEM, testAccessPublicKeyPEM)
	refresh, _ := LoadKeyPair(testRefreshPrivateKeyPEM, testRefreshPublicKeyPEM)
	other, err := NewCodec(access, refresh, "other-issuer", "other-audience", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, _ := other.MintAccess(testSubject())
	if _, err := codec.Verify(token, KindAccess); !errors.Is(err, autherr.ErrMalformedCredential) {
		t.Errorf("want ErrMalformedCredential, got %v", err)
	}
}

func TestNewCodec_Validation(t *testing.T) {
	access, _ := LoadKeyPair(testAccessPrivateKeyPEM, testAccessPublicKeyPEM)
	refresh, _ := LoadKeyPair(testRefreshPrivateKeyPEM, testRefreshPublicKeyPEM)

	testCases := []struct {
		name       string
		access     KeyPair
		refresh    KeyPair
		accessTTL  time.Duration
		refreshTTL time.Duration
	}{
		{"same key pair", access, access, time.Minute, time.Hour},
		{"missing refresh", access, KeyPair{}, time.Minute, time.Hour},
		{"zero access ttl", access, refresh, 0, time.Hour},
		{"negative refresh ttl", access, refresh, time.Minute, -time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCodec(tc.access, tc.refresh, "iss", "aud", tc.accessTTL, tc.refreshTTL); err == nil {
				t.Error("NewCodec: want error, got nil")
			}
		})
	}
}

func TestCodec_MintRequiresIdentity(t *testing.T) {
	codec, _ := NewTestCodec()
	if _, _, err := codec.MintAccess(Subject{}); err == nil {
		t.Error("MintAccess without identity: want error")
	}
}
