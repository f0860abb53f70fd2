package token

import (
	"testing"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		ResetSecret:   "reset-secret",
		Issuer:        "identity-test",
	})
	require.NoError(t, err)
	return m
}

func testUser() *domain.User {
	return &domain.User{ID: "user-1", Email: "alice@example.com", Role: domain.RoleUser, TokenVersion: 3}
}

func TestNewJWTManagerRequiresSecrets(t *testing.T) {
	_, err := NewJWTManager(Config{RefreshSecret: "r"})
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = NewJWTManager(Config{AccessSecret: "a"})
	assert.ErrorIs(t, err, ErrMissingSecret)

	m, err := NewJWTManager(Config{AccessSecret: "a", RefreshSecret: "r"})
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTTL, m.AccessTTL())
	assert.Equal(t, DefaultRefreshTTL, m.RefreshTTL())
	assert.Equal(t, DefaultResetTTL, m.resetTTL)
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t)

	tok, expiresIn, err := m.SignAccess(testUser(), domain.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, int64(900), expiresIn)

	payload, err := m.VerifyAccess(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload.Subject)
	assert.Equal(t, "alice@example.com", payload.Email)
	assert.Equal(t, domain.RoleCustomer, payload.Role)
	assert.Equal(t, 3, payload.TokenVersion)
}

func TestRefreshRoundTrip(t *testing.T) {
	m := newTestManager(t)

	tok, expiresIn, err := m.SignRefresh(testUser(), domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1209600), expiresIn)

	payload, err := m.VerifyRefresh(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload.Subject)
	assert.Equal(t, domain.RoleUser, payload.Role)
	assert.Equal(t, 3, payload.TokenVersion)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	m := newTestManager(t)
	first, _, err := m.SignRefresh(testUser(), domain.RoleUser)
	require.NoError(t, err)
	second, _, err := m.SignRefresh(testUser(), domain.RoleUser)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestResetRoundTrip(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.SignReset(testUser())
	require.NoError(t, err)

	payload, err := m.VerifyReset(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", payload.Subject)
	assert.Equal(t, "alice@example.com", payload.Email)
	assert.Equal(t, 3, payload.TokenVersion)
}

func TestVerifyRejectsCrossPurposeTokens(t *testing.T) {
	m := newTestManager(t)
	user := testUser()

	access, _, err := m.SignAccess(user, domain.RoleUser)
	require.NoError(t, err)
	refresh, _, err := m.SignRefresh(user, domain.RoleUser)
	require.NoError(t, err)
	reset, err := m.SignReset(user)
	require.NoError(t, err)

	_, err = m.VerifyRefresh(access)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = m.VerifyAccess(refresh)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = m.VerifyAccess(reset)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = m.VerifyReset(refresh)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestTypeDiscriminatorFailsClosedWithSharedSecret(t *testing.T) {
	// Reset secret falls back to the access secret here, so only the type
	// claim separates the two purposes.
	m, err := NewJWTManager(Config{AccessSecret: "shared", RefreshSecret: "refresh"})
	require.NoError(t, err)

	reset, err := m.SignReset(testUser())
	require.NoError(t, err)
	_, err = m.VerifyAccess(reset)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	access, _, err := m.SignAccess(testUser(), domain.RoleUser)
	require.NoError(t, err)
	_, err = m.VerifyReset(access)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)
	issued := time.Now().Add(-time.Hour)
	m.nowFunc = func() time.Time { return issued }

	tok, _, err := m.SignAccess(testUser(), domain.RoleUser)
	require.NoError(t, err)

	m.nowFunc = time.Now
	_, err = m.VerifyAccess(tok)
	assert.Same(t, domain.ErrTokenInvalid, err)
}

func TestVerifyRejectsForeignSignatures(t *testing.T) {
	m := newTestManager(t)
	other, err := NewJWTManager(Config{AccessSecret: "other", RefreshSecret: "other-refresh", Issuer: "identity-test"})
	require.NoError(t, err)

	tok, _, err := other.SignAccess(testUser(), domain.RoleUser)
	require.NoError(t, err)
	_, err = m.VerifyAccess(tok)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = m.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(t)
	claims := m.claims("user-1", time.Minute)
	claims.Role = string(domain.RoleAdmin)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.VerifyAccess(tok)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	m := newTestManager(t)
	other, err := NewJWTManager(Config{AccessSecret: "access-secret", RefreshSecret: "refresh-secret", Issuer: "someone-else"})
	require.NoError(t, err)

	tok, _, err := other.SignAccess(testUser(), domain.RoleUser)
	require.NoError(t, err)
	_, err = m.VerifyAccess(tok)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}
