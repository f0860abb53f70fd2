package postgres

import (
	"context"
	"errors"
	"time"

	domain "marketplace/identity/internal/domain/auth"

	"github.com/jackc/pgx/v5"
)

const selectUserSQL = `
SELECT u.id, u.email, u.first_name, u.last_name, u.password_hash, u.role, u.token_version,
       u.external_provider, u.external_subject, u.created_at, u.updated_at,
       cp.id, cp.birth_year, cp.created_at,
       v.id, v.name, v.status
FROM users u
LEFT JOIN customer_profiles cp ON cp.user_id = u.id
LEFT JOIN vendors v ON v.owner_user_id = u.id
`

// UserRepository persists users in PostgreSQL.
type UserRepository struct {
	db DBTX
}

// NewUserRepository constructs a repository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

var _ domain.UserRepository = (*UserRepository)(nil)

const insertUserSQL = `
INSERT INTO users (id, email, first_name, last_name, password_hash, role, token_version,
                   external_provider, external_subject, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// Create inserts a new user record.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return insertUser(ctx, r.db, user)
}

func insertUser(ctx context.Context, db execer, user *domain.User) error {
	var provider, subject any
	if user.External != nil {
		provider, subject = user.External.Provider, user.External.Subject
	}
	_, err := db.Exec(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.Role,
		user.TokenVersion,
		provider,
		subject,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEmailExists
		}
		return err
	}
	return nil
}

// CreateWithCustomerProfile inserts the user and its customer profile atomically.
func (r *UserRepository) CreateWithCustomerProfile(ctx context.Context, user *domain.User, profile *domain.CustomerProfile) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}
	if err := insertProfile(ctx, tx, profile); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByEmail fetches a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, selectUserSQL+"WHERE u.email = $1", email)
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, selectUserSQL+"WHERE u.id = $1", id)
}

// GetByExternalIdentity retrieves the user linked to a provider subject.
func (r *UserRepository) GetByExternalIdentity(ctx context.Context, provider, subject string) (*domain.User, error) {
	return r.getOne(ctx, selectUserSQL+"WHERE u.external_provider = $1 AND u.external_subject = $2", provider, subject)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// LinkExternalIdentity attaches a provider subject to an existing user.
func (r *UserRepository) LinkExternalIdentity(ctx context.Context, id string, identity domain.ExternalIdentity) error {
	const query = `
UPDATE users
SET external_provider = $2, external_subject = $3, updated_at = NOW()
WHERE id = $1
`
	ct, err := r.db.Exec(ctx, query, id, identity.Provider, identity.Subject)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// List returns users filtered by the provided criteria.
func (r *UserRepository) List(ctx context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	query := selectUserSQL
	var args []any
	if filter.Role != "" {
		query += "WHERE u.role = $1 "
		args = append(args, filter.Role)
	}
	query += "ORDER BY u.created_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateProfile writes the user's name fields.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *domain.User) error {
	const query = `
UPDATE users
SET first_name = $2, last_name = $3, updated_at = $4
WHERE id = $1
`
	ct, err := r.db.Exec(ctx, query, user.ID, user.FirstName, user.LastName, user.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateRole changes the user's base role.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role domain.Role, updatedAt time.Time) error {
	const query = `
UPDATE users
SET role = $2, updated_at = $3
WHERE id = $1
`
	ct, err := r.db.Exec(ctx, query, id, role, updatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdatePassword stores a new hash and bumps the token version, guarded by
// the expected current version.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, expectedVersion int, updatedAt time.Time) error {
	const query = `
UPDATE users
SET password_hash = $2, token_version = token_version + 1, updated_at = $4
WHERE id = $1 AND token_version = $3
`
	ct, err := r.db.Exec(ctx, query, id, passwordHash, expectedVersion, updatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrStale(ctx, id)
	}
	return nil
}

// BumpTokenVersion invalidates every token issued to the user.
func (r *UserRepository) BumpTokenVersion(ctx context.Context, id string, updatedAt time.Time) error {
	const query = `
UPDATE users
SET token_version = token_version + 1, updated_at = $2
WHERE id = $1
`
	ct, err := r.db.Exec(ctx, query, id, updatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) missingOrStale(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrUserNotFound
	}
	return domain.ErrStaleTokenVersion
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u                         domain.User
		provider, subject         *string
		profileID                 *string
		birthYear                 *int
		profileCreatedAt          *time.Time
		vendorID, vendorName, vst *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.Role,
		&u.TokenVersion,
		&provider,
		&subject,
		&u.CreatedAt,
		&u.UpdatedAt,
		&profileID,
		&birthYear,
		&profileCreatedAt,
		&vendorID,
		&vendorName,
		&vst,
	)
	if err != nil {
		return nil, err
	}

	if provider != nil && subject != nil {
		u.External = &domain.ExternalIdentity{Provider: *provider, Subject: *subject}
	}
	if profileID != nil {
		u.Customer = &domain.CustomerProfile{ID: *profileID, UserID: u.ID}
		if birthYear != nil {
			u.Customer.BirthYear = *birthYear
		}
		if profileCreatedAt != nil {
			u.Customer.CreatedAt = *profileCreatedAt
		}
	}
	if vendorID != nil {
		u.Vendor = &domain.VendorSummary{ID: *vendorID}
		if vendorName != nil {
			u.Vendor.Name = *vendorName
		}
		if vst != nil {
			u.Vendor.Status = *vst
		}
	}
	return &u, nil
}
