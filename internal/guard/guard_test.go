package guard_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/events"
	"github.com/boddenberg/tradedesk-bfa-go/internal/guard"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

func TestEvaluate(t *testing.T) {
	assert.Equal(t, guard.Decision{Kind: guard.Wait}, guard.Evaluate(session.Initializing(), "/login"))
	assert.Equal(t, guard.Decision{Kind: guard.Render}, guard.Evaluate(session.Authenticated(domain.Profile{ID: "u-1"}), "/login"))
	assert.Equal(t, guard.Decision{Kind: guard.Redirect, Target: "/login"}, guard.Evaluate(session.Unauthenticated(), "/login"))
}

type fakeSource struct {
	mu  sync.Mutex
	st  session.State
	bus *events.Bus[session.State]
}

func newSource(st session.State) *fakeSource {
	return &fakeSource{st: st, bus: events.NewBus[session.State]()}
}

func (s *fakeSource) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *fakeSource) Subscribe(fn func(session.State)) func() { return s.bus.Subscribe(fn) }

func (s *fakeSource) set(st session.State) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	s.bus.Publish(st)
}

type recordingNav struct {
	mu   sync.Mutex
	soft []string
}

func (n *recordingNav) Navigate(p string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.soft = append(n.soft, p)
}

func (n *recordingNav) HardRedirect(string) {}

func TestWatch_NavigatesOnTransitionIntoRedirect(t *testing.T) {
	src := newSource(session.Initializing())
	nav := &recordingNav{}
	g := guard.New("/login", nav, zap.NewNop())

	stop := g.Watch(src)
	assert.Empty(t, nav.soft, "initializing waits")

	src.set(session.Authenticated(domain.Profile{ID: "u-1"}))
	assert.Empty(t, nav.soft)

	src.set(session.Unauthenticated())
	src.set(session.Unauthenticated())
	assert.Equal(t, []string{"/login"}, nav.soft, "one navigation per transition")

	stop()
	src.set(session.Authenticated(domain.Profile{ID: "u-1"}))
	src.set(session.Unauthenticated())
	assert.Len(t, nav.soft, 1)
}

func TestWatch_ImmediateRedirectWhenAlreadySignedOut(t *testing.T) {
	nav := &recordingNav{}
	g := guard.New("", nav, zap.NewNop())

	g.Watch(newSource(session.Unauthenticated()))

	assert.Equal(t, []string{session.DefaultLoginPath}, nav.soft)
}

type fixedAwaiter struct {
	st    session.State
	block bool
}

func (a fixedAwaiter) Await(ctx context.Context) (session.State, error) {
	if a.block {
		<-ctx.Done()
		return session.Initializing(), ctx.Err()
	}
	return a.st, nil
}

func protected(t *testing.T, a guard.Awaiter) http.Handler {
	t.Helper()
	resolve := func(*http.Request) guard.Awaiter { return a }
	if a == nil {
		resolve = func(*http.Request) guard.Awaiter { return nil }
	}
	mw := guard.RequireSession(resolve, "/login", 30*time.Millisecond, zap.NewNop())
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := guard.StateFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(st.User.ID))
	}))
}

func TestRequireSession_RendersWhenAuthenticated(t *testing.T) {
	h := protected(t, fixedAwaiter{st: session.Authenticated(domain.Profile{ID: "u-1"})})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-1", rec.Body.String())
}

func TestRequireSession_PageRedirects(t *testing.T) {
	h := protected(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequireSession_APIGets401(t *testing.T) {
	h := protected(t, fixedAwaiter{st: session.Unauthenticated()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthenticated", body["error"])
	assert.Equal(t, "/login", body["redirect"])
}

func TestRequireSession_StillInitializing(t *testing.T) {
	h := protected(t, fixedAwaiter{block: true})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Loading")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_initializing")
}

func TestIsAPIRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	assert.False(t, guard.IsAPIRequest(r))
	r.Header.Set("Accept", "application/json")
	assert.True(t, guard.IsAPIRequest(r))
	assert.True(t, guard.IsAPIRequest(httptest.NewRequest(http.MethodPost, "/api/auth/clear", nil)))
}
