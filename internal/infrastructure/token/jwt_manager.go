package token

import (
	"errors"
	"fmt"
	"time"

	domain "marketplace/identity/internal/domain/auth"
	usecase "marketplace/identity/internal/usecase/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Fallback lifetimes used when configuration leaves a TTL unset.
const (
	DefaultAccessTTL  = 900 * time.Second
	DefaultRefreshTTL = 1209600 * time.Second
	DefaultResetTTL   = 900 * time.Second
)

// ErrMissingSecret is returned when a signing secret is not configured.
var ErrMissingSecret = errors.New("token: signing secret is required")

// Config holds signing secrets and lifetimes.
type Config struct {
	AccessSecret  string
	RefreshSecret string
	ResetSecret   string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// JWTManager issues and validates HS256 JWT tokens.
type JWTManager struct {
	accessSecret  []byte
	refreshSecret []byte
	resetSecret   []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	resetTTL      time.Duration
	nowFunc       func() time.Time
}

// Ensure JWTManager implements the TokenManager interface.
var _ usecase.TokenManager = (*JWTManager)(nil)

// NewJWTManager constructs a manager. Access and refresh secrets are required;
// the reset secret falls back to the access secret.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("%w: access", ErrMissingSecret)
	}
	if cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: refresh", ErrMissingSecret)
	}
	if cfg.ResetSecret == "" {
		cfg.ResetSecret = cfg.AccessSecret
	}
	return &JWTManager{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		resetSecret:   []byte(cfg.ResetSecret),
		issuer:        cfg.Issuer,
		accessTTL:     orDefault(cfg.AccessTTL, DefaultAccessTTL),
		refreshTTL:    orDefault(cfg.RefreshTTL, DefaultRefreshTTL),
		resetTTL:      orDefault(cfg.ResetTTL, DefaultResetTTL),
		nowFunc:       time.Now,
	}, nil
}

// Claims represents token claims shared by all three token purposes.
type Claims struct {
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	TokenVersion int    `json:"tv"`
	Type         string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// SignAccess creates an access token for user acting as role.
func (m *JWTManager) SignAccess(user *domain.User, role domain.Role) (string, int64, error) {
	claims := m.claims(user.ID, m.accessTTL)
	claims.Email = user.Email
	claims.Role = string(role)
	claims.TokenVersion = user.TokenVersion

	signed, err := sign(claims, m.accessSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.accessTTL.Seconds()), nil
}

// SignRefresh creates a refresh token for user acting as role.
func (m *JWTManager) SignRefresh(user *domain.User, role domain.Role) (string, int64, error) {
	claims := m.claims(user.ID, m.refreshTTL)
	claims.Role = string(role)
	claims.TokenVersion = user.TokenVersion
	claims.Type = usecase.TokenTypeRefresh

	signed, err := sign(claims, m.refreshSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(m.refreshTTL.Seconds()), nil
}

// SignReset creates a password-reset token bound to the user's token version.
func (m *JWTManager) SignReset(user *domain.User) (string, error) {
	claims := m.claims(user.ID, m.resetTTL)
	claims.Email = user.Email
	claims.TokenVersion = user.TokenVersion
	claims.Type = usecase.TokenTypePasswordReset
	return sign(claims, m.resetSecret)
}

// VerifyAccess validates an access token. Typed tokens are rejected.
func (m *JWTManager) VerifyAccess(tokenString string) (*usecase.AccessPayload, error) {
	claims, err := m.parse(tokenString, m.accessSecret)
	if err != nil || claims.Type != "" {
		return nil, domain.ErrTokenInvalid
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return &usecase.AccessPayload{
		Subject:      claims.Subject,
		Email:        claims.Email,
		Role:         role,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// VerifyRefresh validates a refresh token.
func (m *JWTManager) VerifyRefresh(tokenString string) (*usecase.RefreshPayload, error) {
	claims, err := m.parse(tokenString, m.refreshSecret)
	if err != nil || claims.Type != usecase.TokenTypeRefresh {
		return nil, domain.ErrTokenInvalid
	}
	role, _ := domain.ParseRole(claims.Role)
	return &usecase.RefreshPayload{
		Subject:      claims.Subject,
		Role:         role,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// VerifyReset validates a password-reset token.
func (m *JWTManager) VerifyReset(tokenString string) (*usecase.ResetPayload, error) {
	claims, err := m.parse(tokenString, m.resetSecret)
	if err != nil || claims.Type != usecase.TokenTypePasswordReset {
		return nil, domain.ErrTokenInvalid
	}
	return &usecase.ResetPayload{
		Subject:      claims.Subject,
		Email:        claims.Email,
		TokenVersion: claims.TokenVersion,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (m *JWTManager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (m *JWTManager) RefreshTTL() time.Duration { return m.refreshTTL }

func (m *JWTManager) claims(subject string, ttl time.Duration) Claims {
	now := m.nowFunc().UTC()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (m *JWTManager) parse(tokenString string, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.nowFunc),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func sign(claims Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
