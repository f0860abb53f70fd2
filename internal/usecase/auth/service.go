package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when Options leaves the cost unset.
const DefaultBcryptCost = 12

// Audit actions recorded by the auth workflows.
const (
	ActionRegister       = "auth.register"
	ActionLogin          = "auth.login"
	ActionLogout         = "auth.logout"
	ActionRefresh        = "auth.refresh"
	ActionPasswordReset  = "auth.password_reset"
	ActionPasswordChange = "auth.password_change"
	ActionProvisioned    = "user.provisioned_external"
)

// Dependencies groups the collaborators required by Service.
type Dependencies struct {
	Users         domain.UserRepository
	Profiles      domain.CustomerProfileRepository
	RefreshTokens domain.RefreshTokenRepository
	Tokens        TokenManager
	Audit         domain.AuditSink
	Mailer        domain.MailSender
	Tasks         *Background
	Logger        *slog.Logger
}

// Options tunes Service behaviour.
type Options struct {
	BcryptCost int
	// ExposeResetToken echoes password-reset tokens in API responses.
	// Only enabled outside production.
	ExposeResetToken bool
}

// Service coordinates authentication workflows between domain and infrastructure.
type Service struct {
	users    domain.UserRepository
	profiles domain.CustomerProfileRepository
	refresh  domain.RefreshTokenRepository
	tokens   TokenManager
	audit    domain.AuditSink
	mailer   domain.MailSender
	tasks    *Background
	logger   *slog.Logger

	bcryptCost       int
	exposeResetToken bool
	nowFunc          func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService constructs an auth service.
func NewService(deps Dependencies, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tasks := deps.Tasks
	if tasks == nil {
		tasks = NewBackground(logger, 0)
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	return &Service{
		users:            deps.Users,
		profiles:         deps.Profiles,
		refresh:          deps.RefreshTokens,
		tokens:           deps.Tokens,
		audit:            deps.Audit,
		mailer:           deps.Mailer,
		tasks:            tasks,
		logger:           logger,
		bcryptCost:       cost,
		exposeResetToken: opts.ExposeResetToken,
		nowFunc:          time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.nowFunc().UTC()
}

func (s *Service) hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// compareDummy runs a bcrypt comparison against a throwaway hash of the same
// cost. Used on the unknown-email path.
func (s *Service) compareDummy(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.bcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func (s *Service) recordAudit(ctx context.Context, actorID, action, userID string, metadata map[string]any) {
	dispatchAudit(ctx, s.tasks, s.audit, domain.AuditEntry{
		ID:           uuid.NewString(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	})
}

func dispatchAudit(ctx context.Context, tasks *Background, sink domain.AuditSink, entry domain.AuditEntry) {
	if sink == nil || tasks == nil {
		return
	}
	tasks.Go(ctx, entry.Action, func(ctx context.Context) error {
		return sink.Record(ctx, entry)
	})
}
