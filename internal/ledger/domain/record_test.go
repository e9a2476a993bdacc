package domain

import (
	"testing"
	"time"
)

func TestRefreshRecord_Live(t *testing.T) {
	now := time.Now()
	revokedAt := now.Add(-time.Second)

	testCases := []struct {
		name string
		rec  RefreshRecord
		want bool
	}{
		{"active", RefreshRecord{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", RefreshRecord{ExpiresAt: now.Add(-time.Hour)}, false},
		{"expires exactly now", RefreshRecord{ExpiresAt: now}, false},
		{"revoked", RefreshRecord{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Live(now); got != tc.want {
				t.Errorf("Live = %v, want %v", got, tc.want)
			}
		})
	}
}
