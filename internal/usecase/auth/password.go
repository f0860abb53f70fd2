package auth

import (
	"context"
	"errors"
	"strings"

	domain "marketplace/identity/internal/domain/auth"

	"golang.org/x/crypto/bcrypt"
)

// ResetRequest is the outcome of RequestPasswordReset. Token is only set
// when the service runs with ExposeResetToken and the account exists.
type ResetRequest struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

// RequestPasswordReset starts a reset for email. The result is identical
// whether or not the account exists; lookup and delivery failures are logged.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) *ResetRequest {
	result := &ResetRequest{Success: true}

	email = domain.NormalizeEmail(email)
	if email == "" {
		return result
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warn("password reset lookup failed", "error", err)
		}
		return result
	}

	token, err := s.tokens.SignReset(user)
	if err != nil {
		s.logger.Error("sign password reset token failed", "user_id", user.ID, "error", err)
		return result
	}

	if s.mailer != nil {
		to := user.Email
		s.tasks.Go(ctx, "mail:password_reset", func(ctx context.Context) error {
			return s.mailer.SendPasswordResetEmail(ctx, to, token)
		})
	}
	if s.exposeResetToken {
		result.Token = token
	}
	return result
}

// ResetPassword sets a new password from a reset token and bumps the token
// version, invalidating every outstanding session of the user.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	payload, err := s.tokens.VerifyReset(strings.TrimSpace(token))
	if err != nil {
		return domain.ErrTokenInvalid
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrTokenInvalid
		}
		return err
	}
	if user.TokenVersion != payload.TokenVersion {
		return domain.ErrTokenInvalid
	}

	hashed, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed, payload.TokenVersion, s.now()); err != nil {
		if errors.Is(err, domain.ErrStaleTokenVersion) {
			return domain.ErrTokenInvalid
		}
		return err
	}

	s.purgeExpired(ctx, user.ID)
	s.recordAudit(ctx, user.ID, ActionPasswordReset, user.ID, nil)
	return nil
}

// ChangePassword replaces the caller's password after checking the current
// one. All existing sessions are invalidated and a fresh bundle is returned.
func (s *Service) ChangePassword(ctx context.Context, caller domain.RequestUser, currentPassword, newPassword string) (*domain.TokenBundle, error) {
	if currentPassword == "" {
		return nil, domain.ErrPasswordMismatch
	}
	if err := validatePassword(newPassword); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return nil, domain.ErrPasswordMismatch
	}
	if currentPassword == newPassword {
		return nil, domain.ErrPasswordUnchanged
	}

	hashed, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, hashed, user.TokenVersion, now); err != nil {
		if errors.Is(err, domain.ErrStaleTokenVersion) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, err
	}
	user.PasswordHash = hashed
	user.TokenVersion++
	user.UpdatedAt = now

	role := caller.Role
	if !domain.IsRoleAssignable(user, role) {
		role = ""
	}
	bundle, err := s.IssueTokens(ctx, user, role)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, ActionPasswordChange, user.ID, nil)
	return bundle, nil
}
