package auth

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for auth users.
// Lookups return users with their customer profile and vendor summary resolved.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	CreateWithCustomerProfile(ctx context.Context, user *User, profile *CustomerProfile) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByExternalIdentity(ctx context.Context, provider, subject string) (*User, error)
	LinkExternalIdentity(ctx context.Context, id string, identity ExternalIdentity) error
	List(ctx context.Context, filter UserFilter) ([]*User, error)
	UpdateProfile(ctx context.Context, user *User) error
	UpdateRole(ctx context.Context, id string, role Role, updatedAt time.Time) error
	// UpdatePassword stores a new hash and increments the token version, but
	// only while the stored version still equals expectedVersion.
	UpdatePassword(ctx context.Context, id, passwordHash string, expectedVersion int, updatedAt time.Time) error
	BumpTokenVersion(ctx context.Context, id string, updatedAt time.Time) error
}

// CustomerProfileRepository owns customer profiles.
type CustomerProfileRepository interface {
	Create(ctx context.Context, profile *CustomerProfile) error
	GetByUserID(ctx context.Context, userID string) (*CustomerProfile, error)
}

// RefreshTokenRepository persists hashed refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	// FindByHash returns the record with its owning user resolved.
	FindByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// Revoke sets revoked_at only if it is still unset. A record that was
	// already revoked yields ErrRefreshTokenRevoked.
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
	DeleteExpiredForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

// AuditSink records audit events.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// MailSender delivers transactional email.
type MailSender interface {
	SendPasswordResetEmail(ctx context.Context, to, token string) error
}
