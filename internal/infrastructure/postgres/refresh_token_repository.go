package postgres

import (
	"context"
	"errors"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepository persists hashed refresh tokens.
type RefreshTokenRepository struct {
	db    DBTX
	users *UserRepository
}

// NewRefreshTokenRepository constructs a repository. users resolves the
// owning account on lookup.
func NewRefreshTokenRepository(db DBTX, users *UserRepository) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, users: users}
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	const query = `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.RevokedAt,
		token.CreatedAt,
	)
	return err
}

// FindByHash looks up a record by digest and resolves its owner.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	const query = `
SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
FROM refresh_tokens WHERE token_hash = $1
`
	var t domain.RefreshToken
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRefreshTokenNotFound
		}
		return nil, err
	}

	owner, err := r.users.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	t.User = owner
	return &t, nil
}

// Revoke marks the record consumed. Only the first caller wins; later ones
// get ErrRefreshTokenRevoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	const query = `
UPDATE refresh_tokens SET revoked_at = $2
WHERE id = $1 AND revoked_at IS NULL
`
	ct, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrRefreshTokenRevoked
	}
	return nil
}

// RevokeAllForUser revokes every outstanding refresh token of userID.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	const query = `
UPDATE refresh_tokens SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`
	_, err := r.db.Exec(ctx, query, userID, at)
	return err
}

// DeleteExpiredForUser removes lapsed records of userID.
func (r *RefreshTokenRepository) DeleteExpiredForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1 AND expires_at < $2`
	ct, err := r.db.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
