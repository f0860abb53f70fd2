package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// TokenTypeBearer is the token_type reported in every bundle.
const TokenTypeBearer = "Bearer"

// IssueTokens mints an access/refresh pair for user. An empty requested role
// selects the base role; otherwise the role must be assignable.
func (s *Service) IssueTokens(ctx context.Context, user *domain.User, requested domain.Role) (*domain.TokenBundle, error) {
	s.purgeExpired(ctx, user.ID)

	role := user.Role
	if requested != "" {
		if err := domain.CheckRole(user, requested); err != nil {
			return nil, err
		}
		role = requested
	}

	var (
		accessToken, refreshToken string
		accessTTL, refreshTTL     int64
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		accessToken, accessTTL, err = s.tokens.SignAccess(user, role)
		return err
	})
	g.Go(func() error {
		var err error
		refreshToken, refreshTTL, err = s.tokens.SignRefresh(user, role)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sign tokens: %w", err)
	}

	now := s.now()
	record := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: now.Add(time.Duration(refreshTTL) * time.Second),
		CreatedAt: now,
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &domain.TokenBundle{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        accessTTL,
		RefreshExpiresIn: refreshTTL,
		User:             domain.NewPublicUser(user, role),
	}, nil
}

// Refresh consumes a refresh token and returns a rotated bundle. Without a
// requested role the role carried by the refresh token is kept when still
// assignable.
func (s *Service) Refresh(ctx context.Context, rawToken string, requested domain.Role) (*domain.TokenBundle, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.ErrTokenInvalid
	}
	payload, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}

	record, err := s.refresh.FindByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrRefreshTokenNotFound) {
			return nil, domain.ErrRefreshTokenRevoked
		}
		return nil, err
	}
	now := s.now()
	if !record.Usable(now) {
		return nil, domain.ErrRefreshTokenRevoked
	}
	if record.UserID != payload.Subject {
		return nil, domain.ErrTokenInvalid
	}

	user := record.User
	if user == nil || requested != "" {
		// Reload so a role switch sees a freshly created customer profile.
		if user, err = s.users.GetByID(ctx, record.UserID); err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return nil, domain.ErrTokenInvalid
			}
			return nil, err
		}
	}
	if user.TokenVersion != payload.TokenVersion {
		return nil, domain.ErrRefreshTokenStale
	}

	role := requested
	if role == "" {
		if payload.Role != "" && domain.IsRoleAssignable(user, payload.Role) {
			role = payload.Role
		}
	} else if err := domain.CheckRole(user, role); err != nil {
		return nil, err
	}

	if err := s.refresh.Revoke(ctx, record.ID, now); err != nil {
		return nil, err
	}

	bundle, err := s.IssueTokens(ctx, user, role)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, ActionRefresh, user.ID, map[string]any{"role": bundle.User.Role})
	return bundle, nil
}

// Logout revokes the session behind rawToken. Unknown, unverifiable or
// already revoked tokens are treated as logged out.
func (s *Service) Logout(ctx context.Context, rawToken, callerID string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	payload, err := s.tokens.VerifyRefresh(rawToken)
	if err != nil {
		return nil
	}
	if callerID != "" && payload.Subject != callerID {
		return domain.ErrRefreshTokenOwnership
	}

	record, err := s.refresh.FindByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrRefreshTokenNotFound) {
			return nil
		}
		return err
	}
	if record.RevokedAt != nil {
		return nil
	}
	if err := s.refresh.Revoke(ctx, record.ID, s.now()); err != nil && !errors.Is(err, domain.ErrRefreshTokenRevoked) {
		return err
	}
	s.recordAudit(ctx, payload.Subject, ActionLogout, payload.Subject, nil)
	return nil
}

// purgeExpired drops expired refresh rows for userID. Failures are logged only.
func (s *Service) purgeExpired(ctx context.Context, userID string) {
	removed, err := s.refresh.DeleteExpiredForUser(ctx, userID, s.now())
	if err != nil {
		s.logger.Warn("purge expired refresh tokens failed", "user_id", userID, "error", err)
		return
	}
	if removed > 0 {
		s.logger.Debug("purged expired refresh tokens", "user_id", userID, "count", removed)
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
