package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// ============================================================
// Profile: application-level user record
// ============================================================

// Role is the closed set of application roles.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleManager Role = "Manager"
	RoleUser    Role = "User"
)

// DefaultRole is assigned to profiles created without an explicit role.
const DefaultRole = RoleUser

// ParseRole maps a stored role string onto the closed set, case-insensitively.
// Unknown or empty values fall back to DefaultRole.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin
	case "manager":
		return RoleManager
	case "user":
		return RoleUser
	}
	return DefaultRole
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleUser
}

// Profile is the normalized application user.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Company   string    `json:"company"`
	Role      Role      `json:"role"`
	Avatar    string    `json:"avatar,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProfileRow is the persisted shape of a profile, keyed by principal id.
// Nullable columns are pointers.
type ProfileRow struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName *string    `json:"first_name"`
	LastName  *string    `json:"last_name"`
	Company   *string    `json:"company"`
	Role      *string    `json:"role"`
	AvatarURL *string    `json:"avatar_url"`
	IsActive  *bool      `json:"is_active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ProfileUpdate is a partial profile edit. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Company   *string `json:"company,omitempty"`
	Role      *Role   `json:"role,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
	IsActive  *bool   `json:"isActive,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Company == nil &&
		u.Role == nil && u.Avatar == nil && u.IsActive == nil
}

// Privileged reports whether the update touches admin-only fields.
func (u ProfileUpdate) Privileged() bool {
	return u.Role != nil || u.IsActive != nil
}

// Validate checks the update before it reaches the profile store.
func (u ProfileUpdate) Validate() error {
	if u.Empty() {
		return &ErrValidation{Field: "profile", Message: "no fields to update"}
	}
	if u.Role != nil && !u.Role.Valid() {
		return &ErrValidation{Field: "role", Message: "must be one of Admin, Manager, User"}
	}
	return nil
}

// ============================================================
// Auth: request / response types
// ============================================================

// MinPasswordLength mirrors the auth backend's default password policy.
const MinPasswordLength = 6

// MaxNameLength caps each sign-up attribute.
const MaxNameLength = 100

// SignUpMetadata is the closed set of attributes collected at registration.
type SignUpMetadata struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
}

// Validate trims and checks the sign-up attributes.
func (m *SignUpMetadata) Validate() error {
	m.FirstName = strings.TrimSpace(m.FirstName)
	m.LastName = strings.TrimSpace(m.LastName)
	m.Company = strings.TrimSpace(m.Company)
	if m.FirstName == "" {
		return &ErrValidation{Field: "firstName", Message: "is required"}
	}
	if m.LastName == "" {
		return &ErrValidation{Field: "lastName", Message: "is required"}
	}
	for _, f := range [...]struct{ name, value string }{
		{"firstName", m.FirstName},
		{"lastName", m.LastName},
		{"company", m.Company},
	} {
		if utf8.RuneCountInString(f.value) > MaxNameLength {
			return &ErrValidation{Field: f.name, Message: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
		}
	}
	return nil
}

// UserMetadata converts the sign-up attributes to principal metadata.
func (m SignUpMetadata) UserMetadata() UserMetadata {
	meta := UserMetadata{
		FirstName: &m.FirstName,
		LastName:  &m.LastName,
	}
	if m.Company != "" {
		meta.Company = &m.Company
	}
	return meta
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body for POST /v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SignUpMetadata
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address shape before contacting the backend.
func ValidateEmail(email string) error {
	if email == "" {
		return &ErrValidation{Field: "email", Message: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ErrValidation{Field: "email", Message: "is not a valid address"}
	}
	return nil
}
