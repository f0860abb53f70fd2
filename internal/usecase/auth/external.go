package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ExternalBridge verifies third-party tokens and maps them onto local
// accounts, provisioning an account on first sight.
type ExternalBridge struct {
	verifier   ExternalTokenVerifier
	users      domain.UserRepository
	audit      domain.AuditSink
	tasks      *Background
	logger     *slog.Logger
	bcryptCost int
	nowFunc    func() time.Time
}

// ExternalBridgeConfig groups ExternalBridge collaborators.
type ExternalBridgeConfig struct {
	Verifier   ExternalTokenVerifier
	Users      domain.UserRepository
	Audit      domain.AuditSink
	Tasks      *Background
	Logger     *slog.Logger
	BcryptCost int
}

// NewExternalBridge constructs a bridge.
func NewExternalBridge(cfg ExternalBridgeConfig) *ExternalBridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	return &ExternalBridge{
		verifier:   cfg.Verifier,
		users:      cfg.Users,
		audit:      cfg.Audit,
		tasks:      cfg.Tasks,
		logger:     logger,
		bcryptCost: cost,
		nowFunc:    time.Now,
	}
}

var _ IdentityVerifier = (*ExternalBridge)(nil)

// Verify implements IdentityVerifier.
func (b *ExternalBridge) Verify(ctx context.Context, token string, requested domain.Role) (*domain.RequestUser, error) {
	claims, err := b.verifier.Verify(ctx, token)
	if err != nil {
		b.logger.Debug("external token rejected", "error", err)
		return nil, domain.ErrTokenInvalid
	}
	if claims.Subject == "" || domain.NormalizeEmail(claims.Email) == "" {
		return nil, domain.ErrTokenInvalid
	}

	user, err := b.resolveUser(ctx, claims)
	if err != nil {
		return nil, err
	}

	role, source := domain.ResolveActiveRole(user, requested, claims.Role)
	b.logger.Debug("external identity resolved", "user_id", user.ID, "role", role, "role_source", source)
	return &domain.RequestUser{
		ID:                 user.ID,
		Email:              user.Email,
		Role:               role,
		TokenVersion:       user.TokenVersion,
		HasCustomerProfile: user.HasCustomerProfile(),
	}, nil
}

// resolveUser finds the account linked to claims, links an account with a
// matching email, or provisions a new one.
func (b *ExternalBridge) resolveUser(ctx context.Context, claims *ExternalClaims) (*domain.User, error) {
	user, err := b.users.GetByExternalIdentity(ctx, claims.Provider, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	identity := domain.ExternalIdentity{Provider: claims.Provider, Subject: claims.Subject}
	email := domain.NormalizeEmail(claims.Email)

	user, err = b.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return b.link(ctx, user, identity)
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, err
	}

	user, err = b.provision(ctx, claims, email, identity)
	if errors.Is(err, domain.ErrEmailExists) {
		// Lost a race with a concurrent first sight of the same email.
		if user, err = b.users.GetByEmail(ctx, email); err != nil {
			return nil, err
		}
		return b.link(ctx, user, identity)
	}
	return user, err
}

// link attaches identity to an account matched by email. An account already
// linked to another subject is never taken over.
func (b *ExternalBridge) link(ctx context.Context, user *domain.User, identity domain.ExternalIdentity) (*domain.User, error) {
	if user.External != nil {
		if *user.External == identity {
			return user, nil
		}
		b.logger.Warn("external identity conflicts with existing link",
			"user_id", user.ID,
			"provider", identity.Provider,
			"linked_provider", user.External.Provider,
		)
		return nil, domain.ErrTokenInvalid
	}
	if err := b.users.LinkExternalIdentity(ctx, user.ID, identity); err != nil {
		return nil, err
	}
	user.External = &identity
	return user, nil
}

func (b *ExternalBridge) provision(ctx context.Context, claims *ExternalClaims, email string, identity domain.ExternalIdentity) (*domain.User, error) {
	placeholder, err := randomPasswordHash(b.bcryptCost)
	if err != nil {
		return nil, err
	}
	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}

	now := b.nowFunc().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(claims.FirstName),
		LastName:     strings.TrimSpace(claims.LastName),
		PasswordHash: placeholder,
		Role:         role,
		External:     &identity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.users.Create(ctx, user); err != nil {
		return nil, err
	}

	dispatchAudit(ctx, b.tasks, b.audit, domain.AuditEntry{
		ID:           uuid.NewString(),
		ActorID:      user.ID,
		Action:       ActionProvisioned,
		ResourceType: "user",
		ResourceID:   user.ID,
		Metadata:     map[string]any{"provider": identity.Provider, "role": role},
		CreatedAt:    now,
	})
	return user, nil
}

func randomPasswordHash(cost int) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
