package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "marketplace/identity/internal/domain/auth"
	"marketplace/identity/internal/infrastructure/memory"
	"marketplace/identity/internal/infrastructure/token"
	"marketplace/identity/internal/usecase/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	store  *memory.Store
	audit  *memory.AuditLog
	mailer *memory.Mailer
	tasks  *auth.Background
	tokens *token.JWTManager
	svc    *auth.Service
	authn  *auth.Authenticator
}

type fixtureOption func(*auth.Dependencies, *auth.Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	tokens, err := token.NewJWTManager(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		ResetSecret:   "reset-secret",
		Issuer:        "identity-test",
	})
	require.NoError(t, err)

	f := &fixture{
		store:  memory.NewStore(),
		audit:  &memory.AuditLog{},
		mailer: &memory.Mailer{},
		tasks:  auth.NewBackground(nil, time.Second),
		tokens: tokens,
	}
	deps := auth.Dependencies{
		Users:         f.store.Users(),
		Profiles:      f.store.Profiles(),
		RefreshTokens: f.store.RefreshTokens(),
		Tokens:        tokens,
		Audit:         f.audit,
		Mailer:        f.mailer,
		Tasks:         f.tasks,
	}
	options := auth.Options{BcryptCost: bcrypt.MinCost, ExposeResetToken: true}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	f.svc = auth.NewService(deps, options)
	f.authn = auth.NewAuthenticator(auth.NewLocalVerifier(tokens, deps.Users), nil, nil)
	return f
}

// drain waits for background side effects. The runner rejects tasks afterwards.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.tasks.Wait(ctx))
}

func (f *fixture) register(t *testing.T, email, password string) *domain.TokenBundle {
	t.Helper()
	bundle, err := f.svc.Register(context.Background(), auth.RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return bundle
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered := f.register(t, "  Alice@Example.com ", "Secret123!")
	assert.Equal(t, "alice@example.com", registered.User.Email)
	assert.Equal(t, domain.RoleUser, registered.User.Role)
	assert.Equal(t, "Bearer", registered.TokenType)
	assert.Equal(t, int64(900), registered.ExpiresIn)
	assert.Equal(t, int64(1209600), registered.RefreshExpiresIn)

	bundle, err := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)

	caller, err := f.authn.Resolve(ctx, bundle.AccessToken, "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", caller.Email)
	assert.Equal(t, domain.RoleUser, caller.Role)
	assert.False(t, caller.HasCustomerProfile)

	me, err := f.svc.Me(ctx, *caller)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, me.ID)

	f.drain(t)
	assert.ElementsMatch(t, []string{auth.ActionRegister, auth.ActionLogin}, f.audit.Actions())
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "Secret123!")

	_, err := f.svc.Register(context.Background(), auth.RegisterInput{Email: "ALICE@example.com", Password: "Another123!"})
	assert.ErrorIs(t, err, domain.ErrEmailExists)
	assert.Equal(t, "EMAIL_ALREADY_REGISTERED", domain.ErrorCode(err))
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input auth.RegisterInput
		want  error
	}{
		{name: "empty email", input: auth.RegisterInput{Password: "Secret123!"}, want: domain.ErrInvalidEmail},
		{name: "malformed email", input: auth.RegisterInput{Email: "alice", Password: "Secret123!"}, want: domain.ErrInvalidEmail},
		{name: "display name", input: auth.RegisterInput{Email: "Alice <alice@example.com>", Password: "Secret123!"}, want: domain.ErrInvalidEmail},
		{name: "short password", input: auth.RegisterInput{Email: "alice@example.com", Password: "short"}, want: domain.ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	_, unknown := f.svc.Login(ctx, auth.LoginInput{Email: "bob@example.com", Password: "Secret123!"})
	_, wrong := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "wrong-password"})

	assert.Same(t, domain.ErrInvalidCredentials, unknown)
	assert.Same(t, domain.ErrInvalidCredentials, wrong)
}

func TestRefreshRotationIsOneTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := f.register(t, "alice@example.com", "Secret123!")

	rotated, err := f.svc.Refresh(ctx, original.RefreshToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, original.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, original.RefreshToken, rotated.RefreshToken)

	_, err = f.svc.Refresh(ctx, original.RefreshToken, "")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenRevoked)

	_, err = f.svc.Refresh(ctx, rotated.RefreshToken, "")
	assert.NoError(t, err)
}

func TestRefreshRejectsWrongTokenKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")

	_, err := f.svc.Refresh(ctx, bundle.AccessToken, "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = f.svc.Refresh(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestRefreshStoresOnlyDigest(t *testing.T) {
	f := newFixture(t)
	bundle := f.register(t, "alice@example.com", "Secret123!")

	records := f.store.RefreshTokens().Tokens(bundle.User.ID)
	require.Len(t, records, 1)
	assert.Equal(t, auth.HashToken(bundle.RefreshToken), records[0].TokenHash)
	assert.NotContains(t, records[0].TokenHash, bundle.RefreshToken)
	assert.Len(t, records[0].TokenHash, 64)
}

func TestRefreshKeepsRoleAndAllowsSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundle, err := f.svc.RegisterCustomer(ctx, auth.RegisterCustomerInput{
		RegisterInput: auth.RegisterInput{Email: "carol@example.com", Password: "Secret123!"},
		BirthYear:     1990,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, bundle.User.Role)
	require.NotNil(t, bundle.User.CustomerProfile)

	kept, err := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, kept.User.Role)

	switched, err := f.svc.Refresh(ctx, kept.RefreshToken, domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, switched.User.Role)

	_, err = f.svc.Refresh(ctx, switched.RefreshToken, domain.RoleVendor)
	assert.ErrorIs(t, err, domain.ErrRoleNotAssignable)

	// A rejected role switch does not consume the token.
	_, err = f.svc.Refresh(ctx, switched.RefreshToken, "")
	assert.NoError(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")
	userID := bundle.User.ID

	require.NoError(t, f.svc.Logout(ctx, bundle.RefreshToken, userID))
	require.NoError(t, f.svc.Logout(ctx, bundle.RefreshToken, userID))
	require.NoError(t, f.svc.Logout(ctx, "unknown-token", userID))

	_, err := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenRevoked)
}

func TestLogoutRejectsForeignToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "Secret123!")
	bob := f.register(t, "bob@example.com", "Secret123!")

	err := f.svc.Logout(ctx, alice.RefreshToken, bob.User.ID)
	assert.ErrorIs(t, err, domain.ErrRefreshTokenOwnership)

	_, err = f.svc.Refresh(ctx, alice.RefreshToken, "")
	assert.NoError(t, err)
}

func TestLoginCustomerAudience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "dave@example.com", "Secret123!")

	_, err := f.svc.Login(ctx, auth.LoginInput{Email: "dave@example.com", Password: "Secret123!", Audience: "customer"})
	require.ErrorIs(t, err, domain.ErrCustomerProfileRequired)
	assert.Equal(t, "CUSTOMER_PROFILE_REQUIRED", domain.ErrorCode(err))
	assert.False(t, errors.Is(err, domain.ErrRoleNotAssignable))

	year := 1990
	bundle, err := f.svc.Login(ctx, auth.LoginInput{
		Email:     "dave@example.com",
		Password:  "Secret123!",
		Audience:  "customer",
		BirthYear: &year,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, bundle.User.Role)
	require.NotNil(t, bundle.User.CustomerProfile)
	assert.Equal(t, 1990, bundle.User.CustomerProfile.BirthYear)

	caller, err := f.authn.Resolve(ctx, bundle.AccessToken, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, caller.Role)
	assert.True(t, caller.HasCustomerProfile)
}

func TestLoginRejectsUnassignableAudience(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	_, err := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "Secret123!", Audience: "admin"})
	assert.ErrorIs(t, err, domain.ErrRoleNotAssignable)
	assert.Contains(t, err.Error(), "cannot authenticate as role admin")

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "Secret123!", Audience: "superuser"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestPasswordResetInvalidatesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")

	reset := f.svc.RequestPasswordReset(ctx, "alice@example.com")
	require.True(t, reset.Success)
	require.NotEmpty(t, reset.Token)

	require.NoError(t, f.svc.ResetPassword(ctx, reset.Token, "NewSecret456!"))

	_, err := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenStale)

	_, err = f.authn.Resolve(ctx, bundle.AccessToken, "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	err = f.svc.ResetPassword(ctx, reset.Token, "Another789!")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "Secret123!"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "NewSecret456!"})
	assert.NoError(t, err)

	f.drain(t)
	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, reset.Token, sent[0].Token)
}

func TestRequestPasswordResetDoesNotLeakExistence(t *testing.T) {
	f := newFixture(t, func(_ *auth.Dependencies, opts *auth.Options) {
		opts.ExposeResetToken = false
	})
	ctx := context.Background()
	f.register(t, "alice@example.com", "Secret123!")

	known := f.svc.RequestPasswordReset(ctx, "alice@example.com")
	unknown := f.svc.RequestPasswordReset(ctx, "nobody@example.com")
	assert.Equal(t, unknown, known)
	assert.Equal(t, &auth.ResetRequest{Success: true}, known)

	f.drain(t)
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestRequestPasswordResetSwallowsMailFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.Err = errors.New("smtp down")
	f.register(t, "alice@example.com", "Secret123!")

	result := f.svc.RequestPasswordReset(context.Background(), "alice@example.com")
	assert.True(t, result.Success)
	f.drain(t)
	assert.Empty(t, f.mailer.Sent())
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")
	caller, err := f.authn.Resolve(ctx, bundle.AccessToken, "")
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, *caller, "wrong-password", "NewSecret456!")
	assert.ErrorIs(t, err, domain.ErrPasswordMismatch)
	_, err = f.svc.ChangePassword(ctx, *caller, "Secret123!", "Secret123!")
	assert.ErrorIs(t, err, domain.ErrPasswordUnchanged)

	fresh, err := f.svc.ChangePassword(ctx, *caller, "Secret123!", "NewSecret456!")
	require.NoError(t, err)

	_, err = f.authn.Resolve(ctx, bundle.AccessToken, "")
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	_, err = f.authn.Resolve(ctx, fresh.AccessToken, "")
	assert.NoError(t, err)
	_, err = f.svc.Refresh(ctx, bundle.RefreshToken, "")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenStale)
}

func TestIssueTokensPurgesExpiredRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")
	userID := bundle.User.ID

	require.NoError(t, f.store.RefreshTokens().Create(ctx, &domain.RefreshToken{
		ID:        "stale",
		UserID:    userID,
		TokenHash: "deadbeef",
		ExpiresAt: time.Now().Add(-time.Hour),
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}))

	_, err := f.svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "Secret123!"})
	require.NoError(t, err)

	for _, record := range f.store.RefreshTokens().Tokens(userID) {
		assert.NotEqual(t, "stale", record.ID)
	}
}

type failingPurge struct {
	*memory.RefreshTokenRepository
}

func (failingPurge) DeleteExpiredForUser(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestPurgeFailureDoesNotFailIssuance(t *testing.T) {
	f := newFixture(t, func(deps *auth.Dependencies, _ *auth.Options) {
		deps.RefreshTokens = failingPurge{deps.RefreshTokens.(*memory.RefreshTokenRepository)}
	})
	ctx := context.Background()

	bundle := f.register(t, "alice@example.com", "Secret123!")
	_, err := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	assert.NoError(t, err)
}

func TestRefreshRejectsExpiredRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.register(t, "alice@example.com", "Secret123!")

	// The JWT itself is still valid; only the stored record has lapsed.
	f.svc.SetNow(func() time.Time { return time.Now().Add(15 * 24 * time.Hour) })
	_, err := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	assert.ErrorIs(t, err, domain.ErrRefreshTokenRevoked)
}
