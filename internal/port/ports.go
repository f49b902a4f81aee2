// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the session and
// identity layers from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

// SessionStore is the per-client view of the authentication backend.
// Implementations persist the active session in a Storage and notify
// subscribers of every session change.
type SessionStore interface {
	// GetCurrentSession returns the active session, refreshing it when the
	// access token has expired. A nil session and nil error means no one is
	// signed in.
	GetCurrentSession(ctx context.Context) (*domain.Session, error)
	GetCurrentPrincipal(ctx context.Context) (*domain.Principal, error)

	// OnSessionChange registers fn and returns its unsubscribe func.
	OnSessionChange(fn func(domain.SessionEvent)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string, meta domain.UserMetadata) (*domain.Principal, error)
	SignOut(ctx context.Context, scope domain.SignOutScope) error
	UpdateMetadata(ctx context.Context, meta domain.UserMetadata) (*domain.Principal, error)
}

// ProfileStore reads and writes application profiles keyed by principal id.
// Select returns *domain.ErrNotFound when no row exists and Insert returns
// *domain.ErrUniqueViolation when the id is already taken.
type ProfileStore interface {
	SelectProfileByID(ctx context.Context, id string) (*domain.ProfileRow, error)
	InsertProfile(ctx context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error)
	UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.ProfileRow, error)
}

// ProfileResolver turns a principal into its application profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, principal domain.Principal) (*domain.Profile, error)
}

// Storage is a string key/value store for per-client state.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// Navigator moves the user between pages.
type Navigator interface {
	// Navigate performs a soft, in-app route change.
	Navigate(path string)
	// HardRedirect discards all in-memory client state and reloads at path.
	HardRedirect(path string)
}

// HealthChecker reports the reachability of a dependency.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}
