package auth

import (
	"context"
	"errors"
	"net/mail"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	minBirthYear      = 1900
)

// ValidateCredentials returns the user owning email when password matches.
// Unknown emails and wrong passwords yield the same ErrInvalidCredentials.
func (s *Service) ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.compareDummy(password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

func validateEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return domain.ErrWeakPassword
	}
	return nil
}

func validateBirthYear(year int, now time.Time) error {
	if year < minBirthYear || year > now.Year() {
		return domain.ErrInvalidBirthYear
	}
	return nil
}
