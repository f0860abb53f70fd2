package auth

// AssignableRoles returns the roles u may legally assume: its base role,
// plus customer when a customer profile exists.
func AssignableRoles(u *User) []Role {
	if u == nil {
		return nil
	}
	roles := []Role{u.Role}
	if u.HasCustomerProfile() && u.Role != RoleCustomer {
		roles = append(roles, RoleCustomer)
	}
	return roles
}

// IsRoleAssignable reports whether u may act as role.
func IsRoleAssignable(u *User, role Role) bool {
	for _, candidate := range AssignableRoles(u) {
		if candidate == role {
			return true
		}
	}
	return false
}

// CheckRole returns nil when u may act as role, otherwise the error a caller
// should surface. Requesting customer without a profile is reported as
// ErrCustomerProfileRequired so clients can offer profile creation.
func CheckRole(u *User, role Role) error {
	if IsRoleAssignable(u, role) {
		return nil
	}
	if role == RoleCustomer && !u.HasCustomerProfile() {
		return ErrCustomerProfileRequired
	}
	return RoleError(role)
}

// RoleSource names the precedence tier that produced an active role.
type RoleSource string

const (
	RoleFromRequest  RoleSource = "request"
	RoleFromClaim    RoleSource = "claim"
	RoleFromProfile  RoleSource = "profile"
	RoleFromBaseRole RoleSource = "base"
)

// ResolveActiveRole picks the role a caller operates as, by precedence:
// an explicitly requested role, then a role claim carried by an external
// token, then customer for plain users holding a profile, then the base role.
// Requested and claimed roles are only honoured when assignable.
func ResolveActiveRole(u *User, requested, claimed Role) (Role, RoleSource) {
	tiers := []struct {
		source RoleSource
		role   Role
		ok     bool
	}{
		{RoleFromRequest, requested, requested != "" && IsRoleAssignable(u, requested)},
		{RoleFromClaim, claimed, claimed != "" && IsRoleAssignable(u, claimed)},
		{RoleFromProfile, RoleCustomer, u.HasCustomerProfile() && u.Role == RoleUser},
	}
	for _, tier := range tiers {
		if tier.ok {
			return tier.role, tier.source
		}
	}
	return u.Role, RoleFromBaseRole
}
