package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleCode_AtLeast(t *testing.T) {
	testCases := []struct {
		assigned RoleCode
		required RoleCode
		want     bool
	}{
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleHost, RoleUser, true},
		{RoleUser, RoleHost, false},
		{RoleModerator, RoleAdmin, false},
		{RoleCode("GHOST"), RoleUser, false},
		{RoleSuperAdmin, RoleCode("GHOST"), false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.assigned)+">="+string(tc.required), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.assigned.AtLeast(tc.required))
		})
	}
}

func TestRoleCode_SuperRoleIsMaximum(t *testing.T) {
	for _, c := range []RoleCode{RoleAdmin, RoleModerator, RoleHost, RoleUser} {
		assert.Greater(t, SuperRole.Level(), c.Level())
	}
}

func TestParseRoleCode(t *testing.T) {
	assert.Equal(t, RoleHost, ParseRoleCode(" host "))
	assert.False(t, ParseRoleCode("guest").Known())
	assert.Equal(t, []RoleCode{RoleHost, RoleUser}, CodesFromStrings([]string{"HOST", "", "user"}))
	assert.Equal(t, []string{"HOST", "USER"}, CodesToStrings([]RoleCode{RoleHost, RoleUser}))
}

func TestAssignment_ActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Assignment{}.ActiveAt(now))
	assert.True(t, Assignment{ExpiresAt: &future}.ActiveAt(now))
	assert.False(t, Assignment{ExpiresAt: &past}.ActiveAt(now))
	assert.False(t, Assignment{ExpiresAt: &now}.ActiveAt(now))
}
