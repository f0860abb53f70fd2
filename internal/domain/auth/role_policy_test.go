package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignableRoles(t *testing.T) {
	profile := &CustomerProfile{ID: "p1", BirthYear: 1990}

	tests := []struct {
		name string
		user *User
		want []Role
	}{
		{name: "plain user", user: &User{Role: RoleUser}, want: []Role{RoleUser}},
		{name: "user with profile", user: &User{Role: RoleUser, Customer: profile}, want: []Role{RoleUser, RoleCustomer}},
		{name: "vendor with profile", user: &User{Role: RoleVendor, Customer: profile}, want: []Role{RoleVendor, RoleCustomer}},
		{name: "admin", user: &User{Role: RoleAdmin}, want: []Role{RoleAdmin}},
		{name: "customer base role", user: &User{Role: RoleCustomer, Customer: profile}, want: []Role{RoleCustomer}},
		{name: "nil user", user: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssignableRoles(tt.user))
		})
	}
}

func TestCheckRole(t *testing.T) {
	plain := &User{Role: RoleUser}

	assert.NoError(t, CheckRole(plain, RoleUser))

	err := CheckRole(plain, RoleCustomer)
	assert.ErrorIs(t, err, ErrCustomerProfileRequired)
	assert.False(t, errors.Is(err, ErrRoleNotAssignable))

	err = CheckRole(plain, RoleAdmin)
	assert.ErrorIs(t, err, ErrRoleNotAssignable)
	assert.Contains(t, err.Error(), "cannot authenticate as role admin")
	assert.Equal(t, "ROLE_NOT_ASSIGNABLE", ErrorCode(err))
}

func TestResolveActiveRole(t *testing.T) {
	profile := &CustomerProfile{ID: "p1"}

	tests := []struct {
		name       string
		user       *User
		requested  Role
		claimed    Role
		wantRole   Role
		wantSource RoleSource
	}{
		{
			name:       "request tier wins when assignable",
			user:       &User{Role: RoleVendor, Customer: profile},
			requested:  RoleCustomer,
			claimed:    RoleVendor,
			wantRole:   RoleCustomer,
			wantSource: RoleFromRequest,
		},
		{
			name:       "unassignable request falls to claim tier",
			user:       &User{Role: RoleVendor},
			requested:  RoleAdmin,
			claimed:    RoleVendor,
			wantRole:   RoleVendor,
			wantSource: RoleFromClaim,
		},
		{
			name:       "unassignable claim falls to profile tier",
			user:       &User{Role: RoleUser, Customer: profile},
			claimed:    RoleAdmin,
			wantRole:   RoleCustomer,
			wantSource: RoleFromProfile,
		},
		{
			name:       "profile tier only applies to plain users",
			user:       &User{Role: RoleVendor, Customer: profile},
			wantRole:   RoleVendor,
			wantSource: RoleFromBaseRole,
		},
		{
			name:       "base tier",
			user:       &User{Role: RoleUser},
			requested:  RoleCustomer,
			wantRole:   RoleUser,
			wantSource: RoleFromBaseRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, source := ResolveActiveRole(tt.user, tt.requested, tt.claimed)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("  Vendor ")
	assert.True(t, ok)
	assert.Equal(t, RoleVendor, role)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)
}
