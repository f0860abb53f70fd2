// Package memory provides in-process implementations of the auth
// repositories and collaborators. It backs tests and local experiments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "marketplace/identity/internal/domain/auth"
)

// Store holds every table in memory behind a single lock.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	profiles map[string]*domain.CustomerProfile // keyed by user id
	vendors  map[string]*domain.VendorSummary   // keyed by owner user id
	tokens   map[string]*domain.RefreshToken
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		profiles: make(map[string]*domain.CustomerProfile),
		vendors:  make(map[string]*domain.VendorSummary),
		tokens:   make(map[string]*domain.RefreshToken),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{store: s} }

// Profiles returns the customer profile repository view of the store.
func (s *Store) Profiles() *CustomerProfileRepository { return &CustomerProfileRepository{store: s} }

// RefreshTokens returns the refresh token repository view of the store.
func (s *Store) RefreshTokens() *RefreshTokenRepository { return &RefreshTokenRepository{store: s} }

// PutVendor attaches a storefront summary to a vendor account.
func (s *Store) PutVendor(ownerID string, vendor domain.VendorSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[ownerID] = &vendor
}

// hydrate returns a detached copy of u with its relations resolved.
// Callers must hold the lock.
func (s *Store) hydrate(u *domain.User) *domain.User {
	out := *u
	if u.External != nil {
		ext := *u.External
		out.External = &ext
	}
	out.Customer = nil
	if p, ok := s.profiles[u.ID]; ok {
		profile := *p
		out.Customer = &profile
	}
	out.Vendor = nil
	if v, ok := s.vendors[u.ID]; ok {
		vendor := *v
		out.Vendor = &vendor
	}
	return &out
}

// UserRepository implements domain.UserRepository.
type UserRepository struct {
	store *Store
}

var _ domain.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertUser(user)
}

func (s *Store) insertUser(user *domain.User) error {
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return domain.ErrEmailExists
		}
	}
	stored := *user
	stored.Customer = nil
	stored.Vendor = nil
	s.users[user.ID] = &stored
	return nil
}

func (r *UserRepository) CreateWithCustomerProfile(_ context.Context, user *domain.User, profile *domain.CustomerProfile) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertUser(user); err != nil {
		return err
	}
	stored := *profile
	s.profiles[user.ID] = &stored
	return nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return s.hydrate(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return s.hydrate(u), nil
}

func (r *UserRepository) GetByExternalIdentity(_ context.Context, provider, subject string) (*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.External != nil && u.External.Provider == provider && u.External.Subject == subject {
			return s.hydrate(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *UserRepository) LinkExternalIdentity(_ context.Context, id string, identity domain.ExternalIdentity) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.External = &identity
	return nil
}

func (r *UserRepository) List(_ context.Context, filter domain.UserFilter) ([]*domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.User
	for _, u := range s.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		out = append(out, s.hydrate(u))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *UserRepository) UpdateProfile(_ context.Context, user *domain.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.FirstName = user.FirstName
	u.LastName = user.LastName
	u.UpdatedAt = user.UpdatedAt
	return nil
}

func (r *UserRepository) UpdateRole(_ context.Context, id string, role domain.Role, updatedAt time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Role = role
	u.UpdatedAt = updatedAt
	return nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string, expectedVersion int, updatedAt time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if u.TokenVersion != expectedVersion {
		return domain.ErrStaleTokenVersion
	}
	u.PasswordHash = passwordHash
	u.TokenVersion++
	u.UpdatedAt = updatedAt
	return nil
}

func (r *UserRepository) BumpTokenVersion(_ context.Context, id string, updatedAt time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.TokenVersion++
	u.UpdatedAt = updatedAt
	return nil
}

// CustomerProfileRepository implements domain.CustomerProfileRepository.
type CustomerProfileRepository struct {
	store *Store
}

var _ domain.CustomerProfileRepository = (*CustomerProfileRepository)(nil)

func (r *CustomerProfileRepository) Create(_ context.Context, profile *domain.CustomerProfile) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[profile.UserID]; !ok {
		return domain.ErrUserNotFound
	}
	if _, ok := s.profiles[profile.UserID]; ok {
		return domain.ErrProfileExists
	}
	stored := *profile
	s.profiles[profile.UserID] = &stored
	return nil
}

func (r *CustomerProfileRepository) GetByUserID(_ context.Context, userID string) (*domain.CustomerProfile, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *p
	return &out, nil
}

// RefreshTokenRepository implements domain.RefreshTokenRepository.
type RefreshTokenRepository struct {
	store *Store
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

func (r *RefreshTokenRepository) Create(_ context.Context, token *domain.RefreshToken) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *token
	stored.User = nil
	s.tokens[token.ID] = &stored
	return nil
}

func (r *RefreshTokenRepository) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.TokenHash != hash {
			continue
		}
		out := *t
		if t.RevokedAt != nil {
			revoked := *t.RevokedAt
			out.RevokedAt = &revoked
		}
		if u, ok := s.users[t.UserID]; ok {
			out.User = s.hydrate(u)
		}
		return &out, nil
	}
	return nil, domain.ErrRefreshTokenNotFound
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, id string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.RevokedAt != nil {
		return domain.ErrRefreshTokenRevoked
	}
	t.RevokedAt = &at
	return nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			revokedAt := at
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpiredForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, t := range s.tokens {
		if t.UserID == userID && t.ExpiresAt.Before(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

// Tokens returns a snapshot of stored refresh records for userID.
func (r *RefreshTokenRepository) Tokens(userID string) []domain.RefreshToken {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}
