package auth

import (
	"context"

	domain "marketplace/identity/internal/domain/auth"
)

// Token type discriminators carried in the "type" claim.
const (
	TokenTypeRefresh       = "refresh"
	TokenTypePasswordReset = "password_reset"
)

// AccessPayload is the verified content of an access token.
type AccessPayload struct {
	Subject      string
	Email        string
	Role         domain.Role
	TokenVersion int
}

// RefreshPayload is the verified content of a refresh token.
type RefreshPayload struct {
	Subject      string
	Role         domain.Role
	TokenVersion int
}

// ResetPayload is the verified content of a password-reset token.
type ResetPayload struct {
	Subject      string
	Email        string
	TokenVersion int
}

// TokenManager abstracts token issuance and verification. Every Verify
// failure is reported as domain.ErrTokenInvalid.
type TokenManager interface {
	SignAccess(user *domain.User, role domain.Role) (string, int64, error)
	SignRefresh(user *domain.User, role domain.Role) (string, int64, error)
	SignReset(user *domain.User) (string, error)
	VerifyAccess(token string) (*AccessPayload, error)
	VerifyRefresh(token string) (*RefreshPayload, error)
	VerifyReset(token string) (*ResetPayload, error)
}

// ExternalClaims is what the external identity provider vouches for.
type ExternalClaims struct {
	Provider  string
	Subject   string
	Email     string
	Role      domain.Role
	FirstName string
	LastName  string
}

// ExternalTokenVerifier validates asymmetrically signed third-party tokens.
type ExternalTokenVerifier interface {
	Verify(ctx context.Context, token string) (*ExternalClaims, error)
}
