package user

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/google/uuid"
)

// Audit actions recorded by administrative workflows.
const (
	ActionRoleChange  = "user.role_change"
	ActionForceLogout = "user.force_logout"
)

// TaskRunner dispatches fire-and-forget side effects.
type TaskRunner interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

// Service provides user management use cases for self-service and
// administrative workflows.
type Service struct {
	repo    domain.UserRepository
	refresh domain.RefreshTokenRepository
	audit   domain.AuditSink
	tasks   TaskRunner
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewService constructs a user service around the provided repositories.
func NewService(repo domain.UserRepository, refresh domain.RefreshTokenRepository, audit domain.AuditSink, tasks TaskRunner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		refresh: refresh,
		audit:   audit,
		tasks:   tasks,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Filter captures supported filters for listing users.
type Filter struct {
	Role string
}

// UpdateProfileInput defines the self-service profile fields.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
}

// List returns users matching the supplied filter, viewed in their base role.
func (s *Service) List(ctx context.Context, filter Filter) ([]domain.PublicUser, error) {
	domainFilter := domain.UserFilter{}
	if strings.TrimSpace(filter.Role) != "" {
		role, err := ensureRole(filter.Role)
		if err != nil {
			return nil, err
		}
		domainFilter.Role = role
	}

	users, err := s.repo.List(ctx, domainFilter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, domain.NewPublicUser(u, u.Role))
	}
	return out, nil
}

// Get retrieves a single user by its identifier.
func (s *Service) Get(ctx context.Context, id string) (*domain.PublicUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("user id is required")
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := domain.NewPublicUser(u, u.Role)
	return &view, nil
}

// UpdateProfile changes the caller's name fields.
func (s *Service) UpdateProfile(ctx context.Context, caller domain.RequestUser, input UpdateProfileInput) (*domain.PublicUser, error) {
	u, err := s.repo.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if input.FirstName != nil {
		u.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		u.LastName = strings.TrimSpace(*input.LastName)
	}
	u.UpdatedAt = s.nowFunc().UTC()
	if err := s.repo.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	view := domain.NewPublicUser(u, caller.Role)
	return &view, nil
}

// ChangeRole sets the base role of the target account, e.g. when onboarding
// a vendor. Outstanding tokens carrying a role the account can no longer
// assume stop verifying.
func (s *Service) ChangeRole(ctx context.Context, actorID, targetID, rawRole string) (*domain.PublicUser, error) {
	role, err := ensureRole(rawRole)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, strings.TrimSpace(targetID))
	if err != nil {
		return nil, err
	}
	previous := u.Role
	if previous == role {
		view := domain.NewPublicUser(u, role)
		return &view, nil
	}

	now := s.nowFunc().UTC()
	if err := s.repo.UpdateRole(ctx, u.ID, role, now); err != nil {
		return nil, err
	}
	u.Role = role
	u.UpdatedAt = now

	s.recordAudit(ctx, actorID, ActionRoleChange, u.ID, map[string]any{"from": previous, "to": role})
	view := domain.NewPublicUser(u, role)
	return &view, nil
}

// ForceLogout invalidates every session of the target account.
func (s *Service) ForceLogout(ctx context.Context, actorID, targetID string) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return errors.New("user id is required")
	}
	now := s.nowFunc().UTC()
	if err := s.repo.BumpTokenVersion(ctx, targetID, now); err != nil {
		return err
	}
	if err := s.refresh.RevokeAllForUser(ctx, targetID, now); err != nil {
		// The version bump already invalidated every token.
		s.logger.Warn("revoke refresh tokens failed", "user_id", targetID, "error", err)
	}
	s.recordAudit(ctx, actorID, ActionForceLogout, targetID, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, userID string, metadata map[string]any) {
	if s.audit == nil || s.tasks == nil {
		return
	}
	entry := domain.AuditEntry{
		ID:           uuid.NewString(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID,
		Metadata:     metadata,
		CreatedAt:    s.nowFunc().UTC(),
	}
	s.tasks.Go(ctx, action, func(ctx context.Context) error {
		return s.audit.Record(ctx, entry)
	})
}

func ensureRole(raw string) (domain.Role, error) {
	role, ok := domain.ParseRole(raw)
	if !ok {
		return "", domain.ErrInvalidRole
	}
	return role, nil
}
