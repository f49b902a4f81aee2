package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/events"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

// refreshLeeway renews access tokens shortly before they expire.
const refreshLeeway = 30 * time.Second

// SessionStore keeps one browser client's session in storage under the
// project's auth-token key. It implements port.SessionStore.
type SessionStore struct {
	client  *Client
	storage port.Storage
	key     string
	bus     *events.Bus[domain.SessionEvent]
	logger  *zap.Logger
	now     func() time.Time

	// refreshMu serializes refreshes so one refresh token is spent once.
	refreshMu sync.Mutex
}

// NewSessionStore creates a store over the given client storage.
func NewSessionStore(client *Client, storage port.Storage, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		client:  client,
		storage: storage,
		key:     client.StorageKey(),
		bus:     events.NewBus[domain.SessionEvent](),
		logger:  logger,
		now:     time.Now,
	}
}

func invalidSession(msg string) error {
	return &domain.ErrAuth{Status: http.StatusUnauthorized, Code: domain.AuthCodeInvalidSession, Message: msg}
}

// --- persistence ---

func (s *SessionStore) load(ctx context.Context) (*domain.Session, error) {
	raw, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.AccessToken == "" {
		s.logger.Warn("discarding unreadable stored session", zap.String("key", s.key), zap.Error(err))
		_ = s.storage.Delete(ctx, s.key)
		return nil, invalidSession("stored session is unreadable")
	}
	return &sess, nil
}

func (s *SessionStore) persist(ctx context.Context, sess *domain.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.storage.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *SessionStore) remove(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// --- port.SessionStore ---

// OnSessionChange registers fn for every session change.
func (s *SessionStore) OnSessionChange(fn func(domain.SessionEvent)) func() {
	return s.bus.Subscribe(fn)
}

// GetCurrentSession returns the stored session, refreshing it when the access
// token is about to expire. A refresh token the backend rejects ends the
// session without an error.
func (s *SessionStore) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	sess, ev, err := s.currentSession(ctx)
	if ev != nil {
		s.bus.Publish(*ev)
	}
	return sess, err
}

func (s *SessionStore) currentSession(ctx context.Context) (*domain.Session, *domain.SessionEvent, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	sess, err := s.load(ctx)
	if err != nil || sess == nil {
		return nil, nil, err
	}

	claims, err := s.client.parseAccessToken(sess.AccessToken)
	if err == nil && claims.Subject != "" && sess.Principal.ID != "" && claims.Subject != sess.Principal.ID {
		err = errTokenSubject
	}
	if err != nil {
		s.logger.Warn("stored session rejected", zap.String("user_id", sess.Principal.ID), zap.Error(err))
		_ = s.remove(ctx)
		return nil, nil, invalidSession(err.Error())
	}
	if sess.ExpiresAt == 0 && claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Unix()
	}

	if !sess.Expired(s.now(), refreshLeeway) {
		return sess, nil, nil
	}

	refreshed, err := s.client.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		var authErr *domain.ErrAuth
		if errors.As(err, &authErr) {
			s.logger.Info("refresh token rejected, ending session",
				zap.String("user_id", sess.Principal.ID),
				zap.String("code", authErr.Code),
			)
			_ = s.remove(ctx)
			return nil, &domain.SessionEvent{Type: domain.EventSignedOut}, nil
		}
		return nil, nil, err
	}

	if err := s.persist(ctx, refreshed); err != nil {
		return nil, nil, err
	}
	return refreshed, &domain.SessionEvent{Type: domain.EventTokenRefreshed, Session: refreshed}, nil
}

// GetCurrentPrincipal asks the backend who the current token belongs to.
func (s *SessionStore) GetCurrentPrincipal(ctx context.Context) (*domain.Principal, error) {
	sess, err := s.GetCurrentSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return s.client.GetUser(ctx, sess.AccessToken)
}

// SignInWithPassword authenticates and persists the new session.
func (s *SessionStore) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	sess, err := s.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.bus.Publish(domain.SessionEvent{Type: domain.EventSignedIn, Session: sess})
	return sess, nil
}

// SignUp registers a principal and persists its session when one is issued.
func (s *SessionStore) SignUp(ctx context.Context, email, password string, meta domain.UserMetadata) (*domain.Principal, error) {
	principal, sess, err := s.client.SignUp(ctx, email, password, meta)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if err := s.persist(ctx, sess); err != nil {
			return nil, err
		}
		s.bus.Publish(domain.SessionEvent{Type: domain.EventSignedIn, Session: sess})
	}
	return principal, nil
}

// SignOut revokes the session server-side and always clears it locally.
func (s *SessionStore) SignOut(ctx context.Context, scope domain.SignOutScope) error {
	sess, _ := s.load(ctx)

	var revokeErr error
	if sess != nil {
		revokeErr = s.client.SignOut(ctx, sess.AccessToken, scope)
	}
	removeErr := s.remove(ctx)

	s.bus.Publish(domain.SessionEvent{Type: domain.EventSignedOut})
	return errors.Join(revokeErr, removeErr)
}

// UpdateMetadata merges meta into the principal and stores the result.
func (s *SessionStore) UpdateMetadata(ctx context.Context, meta domain.UserMetadata) (*domain.Principal, error) {
	sess, err := s.GetCurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &domain.ErrUnauthorized{Message: "no active session"}
	}

	principal, err := s.client.UpdateUser(ctx, sess.AccessToken, meta)
	if err != nil {
		return nil, err
	}
	sess.Principal = *principal
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	s.bus.Publish(domain.SessionEvent{Type: domain.EventUserUpdated, Session: sess})
	return principal, nil
}
