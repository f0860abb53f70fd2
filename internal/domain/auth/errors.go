package auth

import (
	"errors"
	"fmt"
)

// Error is a failure that carries a stable machine-readable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrInvalidCredentials indicates a login failure.
	ErrInvalidCredentials = &Error{Code: "INVALID_CREDENTIALS", Message: "invalid credentials"}
	// ErrEmailExists signals a duplicate email registration.
	ErrEmailExists = &Error{Code: "EMAIL_ALREADY_REGISTERED", Message: "email already registered"}
	// ErrTokenInvalid means a supplied token cannot be validated. It never says why.
	ErrTokenInvalid = &Error{Code: "TOKEN_INVALID", Message: "invalid or expired token"}
	// ErrRefreshTokenRevoked means the refresh record is gone, consumed or expired.
	ErrRefreshTokenRevoked = &Error{Code: "REFRESH_TOKEN_REVOKED", Message: "refresh token has been revoked or expired"}
	// ErrRefreshTokenStale means the owning user's token version moved on.
	ErrRefreshTokenStale = &Error{Code: "REFRESH_TOKEN_REVOKED", Message: "refresh token is no longer valid"}
	// ErrRefreshTokenOwnership means the caller tried to revoke a session it does not own.
	ErrRefreshTokenOwnership = &Error{Code: "REFRESH_TOKEN_OWNERSHIP_MISMATCH", Message: "refresh token does not belong to the caller"}
	// ErrRoleNotAssignable means the account may not act in the requested role.
	ErrRoleNotAssignable = &Error{Code: "ROLE_NOT_ASSIGNABLE", Message: "role not assignable"}
	// ErrCustomerProfileRequired means the customer role was requested without a profile.
	ErrCustomerProfileRequired = &Error{Code: "CUSTOMER_PROFILE_REQUIRED", Message: "customer profile required"}
	// ErrUserNotFound indicates missing user.
	ErrUserNotFound = &Error{Code: "USER_NOT_FOUND", Message: "user not found"}
	// ErrForbidden indicates the active role lacks privileges for the operation.
	ErrForbidden = &Error{Code: "FORBIDDEN", Message: "insufficient privileges"}
)

var (
	// ErrInvalidRole indicates the provided role is not supported.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = errors.New("email is invalid")
	// ErrWeakPassword indicates a password outside the accepted length.
	ErrWeakPassword = errors.New("password must be between 8 and 72 characters")
	// ErrInvalidBirthYear indicates an implausible birth year.
	ErrInvalidBirthYear = errors.New("birth year is invalid")
	// ErrPasswordMismatch indicates the current password is incorrect.
	ErrPasswordMismatch = errors.New("current password does not match")
	// ErrPasswordUnchanged indicates the new password matches the current one.
	ErrPasswordUnchanged = errors.New("new password must be different from current password")
	// ErrProfileExists indicates the user already has a customer profile.
	ErrProfileExists = errors.New("customer profile already exists")
	// ErrRefreshTokenNotFound is returned by stores when no record matches a hash.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	// ErrStaleTokenVersion is returned when a conditional write lost to a concurrent version bump.
	ErrStaleTokenVersion = errors.New("token version changed")
)

// RoleError wraps ErrRoleNotAssignable with the offending role.
func RoleError(role Role) error {
	return fmt.Errorf("%w: cannot authenticate as role %s", ErrRoleNotAssignable, role)
}

// ErrorCode extracts the stable code from err, if any.
func ErrorCode(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
