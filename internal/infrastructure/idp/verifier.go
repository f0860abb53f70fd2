// Package idp verifies tokens issued by a third-party identity provider.
package idp

import (
	"context"
	"errors"
	"strings"

	domain "marketplace/identity/internal/domain/auth"
	usecase "marketplace/identity/internal/usecase/auth"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultProvider names the linked identity provider when none is configured.
const DefaultProvider = "external"

var asymmetricMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// KeyProvider supplies the key lookup used while parsing a token.
type KeyProvider interface {
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// Config controls the expectations placed on external tokens.
type Config struct {
	Provider string
	// Issuer and Audience are only enforced when non-empty.
	Issuer   string
	Audience string
}

// Verifier validates asymmetrically signed tokens against a key set.
type Verifier struct {
	keys     KeyProvider
	provider string
	issuer   string
	audience string
}

var _ usecase.ExternalTokenVerifier = (*Verifier)(nil)

// NewVerifier constructs a Verifier.
func NewVerifier(keys KeyProvider, cfg Config) *Verifier {
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = DefaultProvider
	}
	return &Verifier{
		keys:     keys,
		provider: provider,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

type externalClaims struct {
	Email        string         `json:"email"`
	GivenName    string         `json:"given_name"`
	FamilyName   string         `json:"family_name"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Verify checks signature, expiry and the configured issuer and audience.
func (v *Verifier) Verify(ctx context.Context, token string) (*usecase.ExternalClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(asymmetricMethods),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &externalClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keys.Keyfunc(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("idp: token invalid")
	}

	return &usecase.ExternalClaims{
		Provider:  v.provider,
		Subject:   claims.Subject,
		Email:     claims.Email,
		Role:      metadataRole(claims.AppMetadata),
		FirstName: firstNonEmpty(claims.GivenName, metadataString(claims.UserMetadata, "first_name")),
		LastName:  firstNonEmpty(claims.FamilyName, metadataString(claims.UserMetadata, "last_name")),
	}, nil
}

// metadataRole reads the provider-managed role claim. User-editable metadata
// is never consulted for roles.
func metadataRole(appMetadata map[string]any) domain.Role {
	role, ok := domain.ParseRole(metadataString(appMetadata, "role"))
	if !ok {
		return ""
	}
	return role
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
