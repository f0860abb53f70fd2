package postgres

import (
	"context"
	"errors"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/jackc/pgx/v5"
)

// CustomerProfileRepository persists customer profiles.
type CustomerProfileRepository struct {
	db DBTX
}

// NewCustomerProfileRepository constructs a repository.
func NewCustomerProfileRepository(db DBTX) *CustomerProfileRepository {
	return &CustomerProfileRepository{db: db}
}

var _ domain.CustomerProfileRepository = (*CustomerProfileRepository)(nil)

// Create inserts a profile. A second profile for the same user yields ErrProfileExists.
func (r *CustomerProfileRepository) Create(ctx context.Context, profile *domain.CustomerProfile) error {
	return insertProfile(ctx, r.db, profile)
}

func insertProfile(ctx context.Context, db execer, profile *domain.CustomerProfile) error {
	const query = `
INSERT INTO customer_profiles (id, user_id, birth_year, created_at)
VALUES ($1, $2, $3, $4)
`
	_, err := db.Exec(ctx, query, profile.ID, profile.UserID, profile.BirthYear, profile.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProfileExists
		}
		return err
	}
	return nil
}

// GetByUserID fetches the profile owned by userID.
func (r *CustomerProfileRepository) GetByUserID(ctx context.Context, userID string) (*domain.CustomerProfile, error) {
	const query = `
SELECT id, user_id, birth_year, created_at
FROM customer_profiles WHERE user_id = $1
`
	var p domain.CustomerProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.ID, &p.UserID, &p.BirthYear, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &p, nil
}
