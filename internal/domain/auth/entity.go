package auth

import (
	"strings"
	"time"
)

// Role identifies the privileges a caller operates with.
type Role string

const (
	// RoleAdmin represents an administrative user.
	RoleAdmin Role = "admin"
	// RoleUser represents a standard application user.
	RoleUser Role = "user"
	// RoleVendor represents a user onboarded as a seller.
	RoleVendor Role = "vendor"
	// RoleCustomer represents a shopper; granted by a customer profile.
	RoleCustomer Role = "customer"
)

// ParseRole normalises raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	switch role {
	case RoleAdmin, RoleUser, RoleVendor, RoleCustomer:
		return role, true
	default:
		return "", false
	}
}

// ExternalIdentity links a local account to a subject at a third-party provider.
type ExternalIdentity struct {
	Provider string
	Subject  string
}

// User models the identity record persisted in storage.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	TokenVersion int
	External     *ExternalIdentity
	// Customer is nil when the account has no customer profile.
	Customer  *CustomerProfile
	Vendor    *VendorSummary
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCustomerProfile reports whether the customer role is unlocked.
func (u *User) HasCustomerProfile() bool {
	return u != nil && u.Customer != nil
}

// CustomerProfile is the 1:1 optional customer extension of a user.
type CustomerProfile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	BirthYear int       `json:"birthYear"`
	CreatedAt time.Time `json:"createdAt"`
}

// VendorSummary is the storefront owned by a vendor account.
type VendorSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RefreshToken is the persisted record of an issued refresh token.
// Only the SHA-256 digest of the raw token is kept.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	User      *User
}

// Usable reports whether the record may still mint a new session.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t != nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// RequestUser is the authenticated identity attached to a request.
type RequestUser struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Role               Role   `json:"role"`
	TokenVersion       int    `json:"tokenVersion"`
	HasCustomerProfile bool   `json:"hasCustomerProfile"`
}

// PublicUser is the client-facing view of an account in its active role.
type PublicUser struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Role            Role             `json:"role"`
	FirstName       string           `json:"firstName,omitempty"`
	LastName        string           `json:"lastName,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Vendor          *VendorSummary   `json:"vendor,omitempty"`
	CustomerProfile *CustomerProfile `json:"customerProfile,omitempty"`
}

// NewPublicUser builds the public view of u acting as activeRole.
func NewPublicUser(u *User, activeRole Role) PublicUser {
	view := PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		Role:            activeRole,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		CustomerProfile: u.Customer,
	}
	if activeRole == RoleVendor || u.Role == RoleVendor {
		view.Vendor = u.Vendor
	}
	return view
}

// TokenBundle is returned by every successful login, registration or refresh.
type TokenBundle struct {
	AccessToken      string     `json:"accessToken"`
	RefreshToken     string     `json:"refreshToken"`
	TokenType        string     `json:"tokenType"`
	ExpiresIn        int64      `json:"expiresIn"`
	RefreshExpiresIn int64      `json:"refreshExpiresIn"`
	User             PublicUser `json:"user"`
}

// Credentials captures raw credential input for login.
type Credentials struct {
	Email    string
	Password string
}

// AuditEntry is a single fire-and-forget audit event.
type AuditEntry struct {
	ID           string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// UserFilter allows narrowing user queries.
type UserFilter struct {
	Role Role
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
