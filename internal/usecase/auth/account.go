package auth

import (
	"context"
	"errors"
	"strings"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/google/uuid"
)

// RegisterInput captures the fields accepted at sign-up.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegisterCustomerInput additionally creates a customer profile.
type RegisterCustomerInput struct {
	RegisterInput
	BirthYear int
}

// LoginInput carries credentials and the optional audience the caller wants
// to act as. BirthYear lets a customer login create the missing profile.
type LoginInput struct {
	Email     string
	Password  string
	Audience  string
	BirthYear *int
}

// Register creates a plain user and opens a session for it.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*domain.TokenBundle, error) {
	user, err := s.newUser(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	bundle, err := s.IssueTokens(ctx, user, "")
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, ActionRegister, user.ID, map[string]any{"role": user.Role})
	return bundle, nil
}

// RegisterCustomer creates a user together with its customer profile and
// opens a session in the customer role.
func (s *Service) RegisterCustomer(ctx context.Context, input RegisterCustomerInput) (*domain.TokenBundle, error) {
	if err := validateBirthYear(input.BirthYear, s.now()); err != nil {
		return nil, err
	}
	user, err := s.newUser(ctx, input.RegisterInput)
	if err != nil {
		return nil, err
	}
	profile := &domain.CustomerProfile{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		BirthYear: input.BirthYear,
		CreatedAt: user.CreatedAt,
	}
	if err := s.users.CreateWithCustomerProfile(ctx, user, profile); err != nil {
		return nil, err
	}
	user.Customer = profile

	bundle, err := s.IssueTokens(ctx, user, domain.RoleCustomer)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, ActionRegister, user.ID, map[string]any{"role": domain.RoleCustomer})
	return bundle, nil
}

// Login validates credentials and opens a session. With audience "customer"
// and no profile, the call fails with ErrCustomerProfileRequired unless a
// birth year is supplied, in which case the profile is created inline.
func (s *Service) Login(ctx context.Context, input LoginInput) (*domain.TokenBundle, error) {
	user, err := s.ValidateCredentials(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	var requested domain.Role
	if audience := strings.TrimSpace(input.Audience); audience != "" {
		role, ok := domain.ParseRole(audience)
		if !ok {
			return nil, domain.ErrInvalidRole
		}
		requested = role
	}

	if requested == domain.RoleCustomer && !domain.IsRoleAssignable(user, domain.RoleCustomer) {
		if input.BirthYear == nil {
			return nil, domain.ErrCustomerProfileRequired
		}
		profile, err := s.createProfile(ctx, user, *input.BirthYear)
		if err != nil {
			return nil, err
		}
		user.Customer = profile
	}

	bundle, err := s.IssueTokens(ctx, user, requested)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, user.ID, ActionLogin, user.ID, map[string]any{"role": bundle.User.Role})
	return bundle, nil
}

// Me returns the public view of the caller in its active role.
func (s *Service) Me(ctx context.Context, caller domain.RequestUser) (*domain.PublicUser, error) {
	user, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	view := domain.NewPublicUser(user, caller.Role)
	return &view, nil
}

func (s *Service) newUser(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email, err := validateEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		PasswordHash: hashed,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Service) createProfile(ctx context.Context, user *domain.User, birthYear int) (*domain.CustomerProfile, error) {
	now := s.now()
	if err := validateBirthYear(birthYear, now); err != nil {
		return nil, err
	}
	profile := &domain.CustomerProfile{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		BirthYear: birthYear,
		CreatedAt: now,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if !errors.Is(err, domain.ErrProfileExists) {
			return nil, err
		}
		return s.profiles.GetByUserID(ctx, user.ID)
	}
	return profile, nil
}
