package identity

import (
	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }

// MapRowToProfile normalizes a stored row. A missing role becomes the
// default role and a missing active flag means active.
func MapRowToProfile(row domain.ProfileRow) domain.Profile {
	p := domain.Profile{
		ID:        row.ID,
		Email:     row.Email,
		FirstName: deref(row.FirstName),
		LastName:  deref(row.LastName),
		Company:   deref(row.Company),
		Role:      domain.ParseRole(deref(row.Role)),
		Avatar:    deref(row.AvatarURL),
		IsActive:  true,
	}
	if row.IsActive != nil {
		p.IsActive = *row.IsActive
	}
	if row.CreatedAt != nil {
		p.CreatedAt = *row.CreatedAt
	}
	return p
}

// MapPrincipalToProfile builds a profile from principal metadata alone,
// applying the same defaults as MapRowToProfile.
func MapPrincipalToProfile(pr domain.Principal) domain.Profile {
	m := pr.Metadata
	p := domain.Profile{
		ID:        pr.ID,
		Email:     pr.Email,
		FirstName: deref(m.FirstName),
		LastName:  deref(m.LastName),
		Company:   deref(m.Company),
		Role:      domain.ParseRole(deref(m.Role)),
		Avatar:    deref(m.Avatar),
		IsActive:  true,
		CreatedAt: pr.CreatedAt,
	}
	if m.IsActive != nil {
		p.IsActive = *m.IsActive
	}
	return p
}

// MapProfileUpdatesToMetadata carries exactly the fields set on u. Feeding
// the result through MapPrincipalToProfile reproduces them.
func MapProfileUpdatesToMetadata(u domain.ProfileUpdate) domain.UserMetadata {
	meta := domain.UserMetadata{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Company:   u.Company,
		Avatar:    u.Avatar,
		IsActive:  u.IsActive,
	}
	if u.Role != nil {
		meta.Role = ptr(string(*u.Role))
	}
	return meta
}

// NewProfileRow is the row created for a principal that has none yet.
// Names and company come from sign-up metadata; role and active flag take
// their defaults.
func NewProfileRow(pr domain.Principal) *domain.ProfileRow {
	return &domain.ProfileRow{
		ID:        pr.ID,
		Email:     pr.Email,
		FirstName: pr.Metadata.FirstName,
		LastName:  pr.Metadata.LastName,
		Company:   pr.Metadata.Company,
		Role:      ptr(string(domain.DefaultRole)),
		IsActive:  ptr(true),
	}
}
