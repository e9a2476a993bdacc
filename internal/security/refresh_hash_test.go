package security

import (
	"testing"
)

func TestHashRefreshToken_Consistent(t *testing.T) {
	hash1 := HashRefreshToken("test-refresh-token-123")
	hash2 := HashRefreshToken("test-refresh-token-123")
	if hash1 != hash2 {
		t.Errorf("HashRefreshToken not consistent: %q vs %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func TestHashRefreshToken_DifferentTokens(t *testing.T) {
	if HashRefreshToken("token-1") == HashRefreshToken("token-2") {
		t.Error("HashRefreshToken produced same hash for different tokens")
	}
}

func TestHashRefreshToken_NeverRaw(t *testing.T) {
	raw := "raw-token"
	if HashRefreshToken(raw) == raw {
		t.Error("hash must not equal the raw token")
	}
}

func TestNewJTI_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		jti, err := newJTI()
		if err != nil {
			t.Fatalf("newJTI: %v", err)
		}
		if len(jti) != 32 {
			t.Fatalf("jti length = %d, want 32", len(jti))
		}
		if seen[jti] {
			t.Fatalf("duplicate jti %q", jti)
		}
		seen[jti] = true
	}
}
