package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityVerifier turns a bearer token into a RequestUser.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string, requested domain.Role) (*domain.RequestUser, error)
}

// TokenKind is the verification path selected for a bearer token.
type TokenKind int

const (
	TokenUnknown TokenKind = iota
	TokenLocal
	TokenExternal
)

// ClassifyToken inspects the unverified header algorithm of token.
// HMAC tokens are local; RSA, RSA-PSS, ECDSA and EdDSA tokens are external.
func ClassifyToken(token string) TokenKind {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenUnknown
	}
	alg, _ := parsed.Header["alg"].(string)
	switch {
	case strings.HasPrefix(alg, "HS"):
		return TokenLocal
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"),
		strings.HasPrefix(alg, "ES"), alg == "EdDSA":
		return TokenExternal
	default:
		return TokenUnknown
	}
}

// LocalVerifier checks locally issued access tokens.
type LocalVerifier struct {
	tokens TokenManager
	users  domain.UserRepository
}

// NewLocalVerifier constructs a LocalVerifier.
func NewLocalVerifier(tokens TokenManager, users domain.UserRepository) *LocalVerifier {
	return &LocalVerifier{tokens: tokens, users: users}
}

var _ IdentityVerifier = (*LocalVerifier)(nil)

// Verify implements IdentityVerifier. The active role is the one embedded in
// the token; requested is not consulted.
func (v *LocalVerifier) Verify(ctx context.Context, token string, _ domain.Role) (*domain.RequestUser, error) {
	payload, err := v.tokens.VerifyAccess(token)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}

	user, err := v.users.GetByID(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, err
	}
	if user.TokenVersion != payload.TokenVersion {
		return nil, domain.ErrTokenInvalid
	}
	if !domain.IsRoleAssignable(user, payload.Role) {
		return nil, domain.ErrTokenInvalid
	}

	return &domain.RequestUser{
		ID:                 user.ID,
		Email:              user.Email,
		Role:               payload.Role,
		TokenVersion:       user.TokenVersion,
		HasCustomerProfile: user.HasCustomerProfile(),
	}, nil
}

// Authenticator is the per-request entry point dispatching bearer tokens to
// the local or external verifier.
type Authenticator struct {
	local    IdentityVerifier
	external IdentityVerifier
	logger   *slog.Logger
}

// NewAuthenticator constructs an Authenticator. external may be nil, in which
// case asymmetric tokens are rejected.
func NewAuthenticator(local, external IdentityVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{local: local, external: external, logger: logger}
}

// Resolve authenticates token. requestedRole is the raw value of the caller's
// role hint; unknown values are ignored. Every failure is ErrTokenInvalid.
func (a *Authenticator) Resolve(ctx context.Context, token, requestedRole string) (*domain.RequestUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrTokenInvalid
	}
	requested, _ := domain.ParseRole(requestedRole)

	var verifier IdentityVerifier
	switch ClassifyToken(token) {
	case TokenLocal:
		verifier = a.local
	case TokenExternal:
		verifier = a.external
	}
	if verifier == nil {
		return nil, domain.ErrTokenInvalid
	}

	user, err := verifier.Verify(ctx, token, requested)
	if err != nil {
		if !errors.Is(err, domain.ErrTokenInvalid) {
			a.logger.Warn("bearer token verification failed", "error", err)
		}
		return nil, domain.ErrTokenInvalid
	}
	return user, nil
}
