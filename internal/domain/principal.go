package domain

import "time"

// ============================================================
// Principal & Session: identity issued by the auth backend
// ============================================================

// UserMetadata is the metadata stored on a principal at sign-up and kept in
// sync with profile edits. Nil fields were never set.
type UserMetadata struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Company   *string `json:"company,omitempty"`
	Role      *string `json:"role,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
	IsActive  *bool   `json:"is_active,omitempty"`
}

// Principal is the authenticated identity owned by the auth backend.
type Principal struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	CreatedAt time.Time    `json:"created_at"`
	Metadata  UserMetadata `json:"user_metadata"`
}

// Session is a token pair bound to a principal.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"` // unix seconds
	Principal    Principal `json:"user"`
}

// Expired reports whether the access token expires within leeway of now.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return now.Add(leeway).After(time.Unix(s.ExpiresAt, 0))
}

// SignOutScope selects which sessions a sign-out invalidates.
type SignOutScope string

const (
	SignOutLocal  SignOutScope = "local"
	SignOutGlobal SignOutScope = "global"
	SignOutOthers SignOutScope = "others"
)

// SessionEventType names session change notifications.
type SessionEventType string

const (
	EventSignedIn       SessionEventType = "SIGNED_IN"
	EventSignedOut      SessionEventType = "SIGNED_OUT"
	EventTokenRefreshed SessionEventType = "TOKEN_REFRESHED"
	EventUserUpdated    SessionEventType = "USER_UPDATED"
)

// SessionEvent is delivered to session change subscribers.
// Session is nil when no session remains active.
type SessionEvent struct {
	Type    SessionEventType
	Session *Session
}
