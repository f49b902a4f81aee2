package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/events"
	"github.com/boddenberg/tradedesk-bfa-go/internal/identity"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
)

// ============================================================
// Fakes
// ============================================================

type fakeSessions struct {
	mu        sync.Mutex
	session   *domain.Session
	getErr    error
	signInErr error
	signUpErr error
	// issueOnSignUp controls whether sign-up returns a session.
	issueOnSignUp bool
	signOutErr    error
	scopes        []domain.SignOutScope
	metadata      []domain.UserMetadata
	// expireOnUpdate ends the session while metadata is being written.
	expireOnUpdate bool

	bus *events.Bus[domain.SessionEvent]
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{bus: events.NewBus[domain.SessionEvent]()}
}

func sessionFor(id string) *domain.Session {
	return &domain.Session{AccessToken: "at", RefreshToken: "rt", Principal: domain.Principal{ID: id, Email: id + "@example.com"}}
}

func (f *fakeSessions) GetCurrentSession(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.getErr
}

func (f *fakeSessions) GetCurrentPrincipal(ctx context.Context) (*domain.Principal, error) {
	s, err := f.GetCurrentSession(ctx)
	if s == nil || err != nil {
		return nil, err
	}
	return &s.Principal, nil
}

func (f *fakeSessions) OnSessionChange(fn func(domain.SessionEvent)) func() {
	return f.bus.Subscribe(fn)
}

func (f *fakeSessions) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	if f.signInErr != nil {
		err := f.signInErr
		f.mu.Unlock()
		return nil, err
	}
	f.session = sessionFor("u-1")
	s := f.session
	f.mu.Unlock()
	f.bus.Publish(domain.SessionEvent{Type: domain.EventSignedIn, Session: s})
	return s, nil
}

func (f *fakeSessions) SignUp(ctx context.Context, email, password string, meta domain.UserMetadata) (*domain.Principal, error) {
	f.mu.Lock()
	if f.signUpErr != nil {
		err := f.signUpErr
		f.mu.Unlock()
		return nil, err
	}
	p := domain.Principal{ID: "u-new", Email: email, Metadata: meta}
	var s *domain.Session
	if f.issueOnSignUp {
		s = &domain.Session{AccessToken: "at", Principal: p}
		f.session = s
	}
	f.mu.Unlock()
	if s != nil {
		f.bus.Publish(domain.SessionEvent{Type: domain.EventSignedIn, Session: s})
	}
	return &p, nil
}

func (f *fakeSessions) SignOut(ctx context.Context, scope domain.SignOutScope) error {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.session = nil
	err := f.signOutErr
	f.mu.Unlock()
	f.bus.Publish(domain.SessionEvent{Type: domain.EventSignedOut})
	return err
}

func (f *fakeSessions) UpdateMetadata(ctx context.Context, meta domain.UserMetadata) (*domain.Principal, error) {
	f.mu.Lock()
	f.metadata = append(f.metadata, meta)
	if f.expireOnUpdate {
		f.session = nil
	}
	s := f.session
	f.mu.Unlock()
	if f.expireOnUpdate {
		f.bus.Publish(domain.SessionEvent{Type: domain.EventSignedOut})
		return nil, errors.New("session expired")
	}
	if s == nil {
		return nil, errors.New("no session")
	}
	f.bus.Publish(domain.SessionEvent{Type: domain.EventUserUpdated, Session: s})
	return &s.Principal, nil
}

func (f *fakeSessions) signOutScopes() []domain.SignOutScope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SignOutScope(nil), f.scopes...)
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	fn    func(domain.Principal) (*domain.Profile, error)
}

func (r *fakeResolver) Resolve(ctx context.Context, p domain.Principal) (*domain.Profile, error) {
	r.mu.Lock()
	r.calls++
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return &domain.Profile{ID: p.ID, Email: p.Email, Role: domain.RoleUser, IsActive: true}, nil
}

func failWith(reason domain.LoginReason) func(domain.Principal) (*domain.Profile, error) {
	return func(p domain.Principal) (*domain.Profile, error) {
		return nil, &identity.Failure{Reason: reason, PrincipalID: p.ID, Err: errors.New(string(reason))}
	}
}

type fakeProfiles struct {
	row *domain.ProfileRow
	err error
	got domain.ProfileUpdate
}

func (p *fakeProfiles) SelectProfileByID(context.Context, string) (*domain.ProfileRow, error) {
	return p.row, p.err
}

func (p *fakeProfiles) InsertProfile(_ context.Context, row *domain.ProfileRow) (*domain.ProfileRow, error) {
	return row, nil
}

func (p *fakeProfiles) UpdateProfile(_ context.Context, id string, u domain.ProfileUpdate) (*domain.ProfileRow, error) {
	p.got = u
	if p.err != nil {
		return nil, p.err
	}
	row := *p.row
	if u.FirstName != nil {
		row.FirstName = u.FirstName
	}
	if u.Role != nil {
		r := string(*u.Role)
		row.Role = &r
	}
	return &row, nil
}

type fakeNav struct {
	mu    sync.Mutex
	soft  []string
	hards []string
}

func (n *fakeNav) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.soft = append(n.soft, path)
}

func (n *fakeNav) HardRedirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hards = append(n.hards, path)
}

func (n *fakeNav) redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.hards...)
}

type fixture struct {
	sessions *fakeSessions
	resolver *fakeResolver
	profiles *fakeProfiles
	nav      *fakeNav
	metrics  *observability.Metrics
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: newFakeSessions(),
		resolver: &fakeResolver{},
		profiles: &fakeProfiles{},
		nav:      &fakeNav{},
		metrics:  observability.NewMetrics(),
	}
	f.ctrl = NewController(f.sessions, f.resolver, f.profiles, f.nav, Options{ProvisioningDelay: time.Millisecond}, f.metrics, zap.NewNop())
	t.Cleanup(f.ctrl.Close)
	return f
}

func strp(s string) *string { return &s }

// ============================================================
// Bootstrap
// ============================================================

func TestStart_NoSession(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.ctrl.State().IsLoading)

	f.ctrl.Start(context.Background())

	st := f.ctrl.State()
	assert.Equal(t, PhaseUnauthenticated, st.Phase())
	assert.Empty(t, f.nav.redirects())
}

func TestStart_RestoresSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")

	f.ctrl.Start(context.Background())

	st := f.ctrl.State()
	require.Equal(t, PhaseAuthenticated, st.Phase())
	assert.Equal(t, "u-1", st.User.ID)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
}

func TestStart_ReconcileFailureForcesSignOut(t *testing.T) {
	for _, reason := range []domain.LoginReason{domain.ReasonProfileMissing, domain.ReasonProfileError, domain.ReasonTimeout} {
		t.Run(string(reason), func(t *testing.T) {
			f := newFixture(t)
			f.sessions.session = sessionFor("u-1")
			f.resolver.fn = failWith(reason)

			f.ctrl.Start(context.Background())

			assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
			assert.Equal(t, []string{"/login?error=" + string(reason)}, f.nav.redirects())
			assert.Equal(t, []domain.SignOutScope{domain.SignOutLocal}, f.sessions.signOutScopes())
			assert.Equal(t, int64(1), f.metrics.GetAuthSnapshot().ForcedSignOuts[string(reason)])
		})
	}
}

func TestStart_SessionError(t *testing.T) {
	f := newFixture(t)
	f.sessions.getErr = &domain.ErrExternalService{Service: "supabase/auth", Err: errors.New("dial tcp")}

	f.ctrl.Start(context.Background())

	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
	assert.Equal(t, []string{"/login?error=session_error"}, f.nav.redirects())
}

func TestStart_InvalidStoredSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.getErr = &domain.ErrAuth{Status: 401, Code: domain.AuthCodeInvalidSession, Message: "bad jwt"}

	f.ctrl.Start(context.Background())

	assert.Equal(t, []string{"/login?error=session_invalid"}, f.nav.redirects())
}

func TestStart_PrincipalWithoutID(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = &domain.Session{AccessToken: "at"}

	f.ctrl.Start(context.Background())

	assert.Equal(t, []string{"/login?error=session_invalid"}, f.nav.redirects())
	assert.Equal(t, 0, f.resolver.calls)
}

func TestStart_RunsOnce(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")

	f.ctrl.Start(context.Background())
	f.ctrl.Start(context.Background())

	assert.Equal(t, 1, f.resolver.calls)
	assert.Equal(t, 1, f.sessions.bus.Len())
}

func TestAwait_ReturnsAfterBootstrap(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")

	go f.ctrl.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := f.ctrl.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseAuthenticated, st.Phase())
}

// ============================================================
// Change notifications
// ============================================================

func TestSessionChange_SignedOutClearsState(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.ctrl.Start(context.Background())
	require.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase())

	f.sessions.bus.Publish(domain.SessionEvent{Type: domain.EventSignedOut})

	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
	assert.Empty(t, f.nav.redirects(), "an external sign-out is not a forced one")
}

func TestSessionChange_TokenRefreshedReResolves(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())

	f.sessions.bus.Publish(domain.SessionEvent{Type: domain.EventTokenRefreshed, Session: sessionFor("u-2")})

	st := f.ctrl.State()
	require.Equal(t, PhaseAuthenticated, st.Phase())
	assert.Equal(t, "u-2", st.User.ID)
}

func TestSessionChange_FailureRedirects(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())
	f.resolver.fn = failWith(domain.ReasonProfileMissing)

	f.sessions.bus.Publish(domain.SessionEvent{Type: domain.EventSignedIn, Session: sessionFor("u-1")})

	assert.Equal(t, []string{"/login?error=profile_missing"}, f.nav.redirects())
}

func TestClose_StopsStateChanges(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())
	f.ctrl.Close()

	assert.Equal(t, 0, f.sessions.bus.Len(), "subscription dropped")

	f.ctrl.Login(context.Background(), "ada@example.com", "secret1")
	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
}

func TestClose_InFlightBootstrapDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	entered := make(chan struct{})
	release := make(chan struct{})
	f.resolver.fn = func(p domain.Principal) (*domain.Profile, error) {
		close(entered)
		<-release
		return nil, &identity.Failure{Reason: domain.ReasonTimeout, PrincipalID: p.ID, Err: context.DeadlineExceeded}
	}

	done := make(chan struct{})
	go func() {
		f.ctrl.Start(context.Background())
		close(done)
	}()
	<-entered
	f.ctrl.Close()
	close(release)
	<-done

	assert.True(t, f.ctrl.State().IsLoading)
	assert.Empty(t, f.nav.redirects())
	assert.Empty(t, f.sessions.signOutScopes())
}

// ============================================================
// Commands
// ============================================================

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())

	var phases []Phase
	f.ctrl.Subscribe(func(st State) { phases = append(phases, st.Phase()) })

	res := f.ctrl.Login(context.Background(), "  Ada@Example.com ", "secret1")

	require.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.User)
	assert.Equal(t, "u-1", res.User.ID)
	assert.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase())
	assert.Equal(t, []Phase{PhaseAuthenticated}, phases)
	assert.Equal(t, int64(1), f.metrics.GetAuthSnapshot().LoginsSucceeded)
}

func TestLogin_ErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"invalid credentials", &domain.ErrAuth{Status: 400, Code: domain.AuthCodeInvalidCredentials}, msgInvalidCredentials},
		{"email not confirmed", &domain.ErrAuth{Status: 400, Code: domain.AuthCodeEmailNotConfirmed}, msgEmailNotConfirmed},
		{"rate limited", &domain.ErrAuth{Status: 429, Code: domain.AuthCodeRateLimited}, msgRateLimited},
		{"network", &domain.ErrExternalService{Service: "supabase/auth", Err: errors.New("connection refused")}, msgNetwork},
		{"circuit open", &domain.ErrCircuitOpen{Service: "supabase/auth"}, msgNetwork},
		{"not configured", domain.ErrNotConfigured, msgNotConfigured},
		{"unknown", &domain.ErrAuth{Status: 400, Code: domain.AuthCodeUnknown}, msgLoginFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.ctrl.Start(context.Background())
			f.sessions.signInErr = tc.err

			res := f.ctrl.Login(context.Background(), "ada@example.com", "secret1")

			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Error)
			assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
		})
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	res := f.ctrl.Login(context.Background(), " ", "secret1")
	assert.Equal(t, msgMissingCredentials, res.Error)
}

func TestLogin_ReconcileFailureSignsOutWithoutRedirect(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())
	f.resolver.fn = failWith(domain.ReasonProfileError)

	res := f.ctrl.Login(context.Background(), "ada@example.com", "secret1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.LoginMessage(string(domain.ReasonProfileError)), res.Error)
	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
	assert.Equal(t, []domain.SignOutScope{domain.SignOutLocal}, f.sessions.signOutScopes())
	assert.Empty(t, f.nav.redirects(), "the login page shows the error inline")
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())
	f.sessions.issueOnSignUp = true

	res := f.ctrl.Register(context.Background(), domain.RegisterRequest{
		Email:          "grace@example.com",
		Password:       "hunter22",
		SignUpMetadata: domain.SignUpMetadata{FirstName: " Grace ", LastName: "Hopper"},
	})

	require.True(t, res.Success, res.Error)
	assert.False(t, res.ConfirmationRequired)
	assert.Equal(t, "u-new", res.User.ID)
	assert.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase())
}

func TestRegister_ConfirmationRequired(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())

	res := f.ctrl.Register(context.Background(), domain.RegisterRequest{
		Email:          "grace@example.com",
		Password:       "hunter22",
		SignUpMetadata: domain.SignUpMetadata{FirstName: "Grace", LastName: "Hopper"},
	})

	assert.True(t, res.Success)
	assert.True(t, res.ConfirmationRequired)
	assert.Nil(t, res.User)
	assert.Equal(t, 0, f.resolver.calls)
}

func TestRegister_SessionLookupFailsAfterSignUp(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start(context.Background())
	f.sessions.issueOnSignUp = true
	f.sessions.getErr = &domain.ErrExternalService{Service: "supabase", Err: errors.New("connection reset")}

	res := f.ctrl.Register(context.Background(), domain.RegisterRequest{
		Email:          "grace@example.com",
		Password:       "hunter22",
		SignUpMetadata: domain.SignUpMetadata{FirstName: "Grace", LastName: "Hopper"},
	})

	assert.False(t, res.Success)
	assert.False(t, res.ConfirmationRequired)
	assert.Equal(t, msgNetwork, res.Error)
	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
	assert.Equal(t, []domain.SignOutScope{domain.SignOutLocal}, f.sessions.signOutScopes())
	assert.Equal(t, 0, f.resolver.calls)
}

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name string
		req  domain.RegisterRequest
		want string
	}{
		{"bad email", domain.RegisterRequest{Email: "nope", Password: "hunter22", SignUpMetadata: domain.SignUpMetadata{FirstName: "G", LastName: "H"}}, msgInvalidEmail},
		{"short password", domain.RegisterRequest{Email: "g@example.com", Password: "abc", SignUpMetadata: domain.SignUpMetadata{FirstName: "G", LastName: "H"}}, msgWeakPassword},
		{"missing name", domain.RegisterRequest{Email: "g@example.com", Password: "hunter22", SignUpMetadata: domain.SignUpMetadata{FirstName: "  "}}, msgNameRequired},
		{"long company", domain.RegisterRequest{Email: "g@example.com", Password: "hunter22", SignUpMetadata: domain.SignUpMetadata{FirstName: "G", LastName: "H", Company: strings.Repeat("c", 101)}}, msgNameTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.ctrl.Register(context.Background(), tc.req)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Error)
		})
	}
}

func TestRegister_BackendErrors(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{domain.AuthCodeUserExists, msgUserExists},
		{domain.AuthCodeWeakPassword, msgWeakPassword},
		{domain.AuthCodeInvalidEmail, msgInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.signUpErr = &domain.ErrAuth{Status: 422, Code: tc.code}

			res := f.ctrl.Register(context.Background(), domain.RegisterRequest{
				Email:          "grace@example.com",
				Password:       "hunter22",
				SignUpMetadata: domain.SignUpMetadata{FirstName: "Grace", LastName: "Hopper"},
			})
			assert.Equal(t, tc.want, res.Error)
		})
	}
}

func TestLogout_Unconditional(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.ctrl.Start(context.Background())
	f.sessions.signOutErr = errors.New("network down")

	f.ctrl.Logout(context.Background())

	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase())
	assert.Equal(t, []domain.SignOutScope{domain.SignOutGlobal}, f.sessions.signOutScopes())
}

func TestLogout_WinsOverOlderFlow(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	entered := make(chan struct{})
	release := make(chan struct{})
	f.resolver.fn = func(p domain.Principal) (*domain.Profile, error) {
		close(entered)
		<-release
		return &domain.Profile{ID: p.ID}, nil
	}

	done := make(chan struct{})
	go func() {
		f.ctrl.Start(context.Background())
		close(done)
	}()
	<-entered
	f.ctrl.Logout(context.Background())
	close(release)
	<-done

	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase(), "stale bootstrap must not resurrect the session")
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.profiles.row = &domain.ProfileRow{ID: "u-1", Email: "u-1@example.com", FirstName: strp("Ada"), Role: strp("User")}
	f.ctrl.Start(context.Background())

	res := f.ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{FirstName: strp("Augusta")})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Augusta", res.User.FirstName)
	assert.Equal(t, "Augusta", f.ctrl.State().User.FirstName)
	require.Len(t, f.sessions.metadata, 1)
	assert.Equal(t, "Augusta", *f.sessions.metadata[0].FirstName)
}

func TestUpdateProfile_SignedOutDuringCommandClearsState(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.profiles.row = &domain.ProfileRow{ID: "u-1", Email: "u-1@example.com", FirstName: strp("Ada"), Role: strp("User")}
	f.ctrl.Start(context.Background())
	require.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase())
	f.sessions.expireOnUpdate = true

	f.ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{FirstName: strp("Augusta")})

	assert.Equal(t, PhaseUnauthenticated, f.ctrl.State().Phase(), "a sign-out seen mid-command must not be lost")
	assert.Nil(t, f.ctrl.State().User)
}

func TestSessionChange_SameUserDuringCommandIsNotReplayed(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.profiles.row = &domain.ProfileRow{ID: "u-1", Email: "u-1@example.com", FirstName: strp("Ada"), Role: strp("User")}
	f.ctrl.Start(context.Background())
	before := f.resolver.calls

	res := f.ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{FirstName: strp("Augusta")})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, before, f.resolver.calls, "USER_UPDATED for the committed user needs no reconcile")
	assert.Equal(t, "Augusta", f.ctrl.State().User.FirstName)
}

func TestUpdateProfile_Rules(t *testing.T) {
	admin := domain.RoleAdmin
	cases := []struct {
		name   string
		signed bool
		update domain.ProfileUpdate
		want   string
	}{
		{"not signed in", false, domain.ProfileUpdate{FirstName: strp("x")}, msgNotSignedIn},
		{"empty", true, domain.ProfileUpdate{}, msgNothingToUpdate},
		{"role needs admin", true, domain.ProfileUpdate{Role: &admin}, msgAdminOnly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.signed {
				f.sessions.session = sessionFor("u-1")
			}
			f.ctrl.Start(context.Background())

			res := f.ctrl.UpdateProfile(context.Background(), tc.update)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Error)
		})
	}
}

func TestUpdateProfile_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.sessions.session = sessionFor("u-1")
	f.profiles.err = errors.New("db down")
	f.ctrl.Start(context.Background())

	res := f.ctrl.UpdateProfile(context.Background(), domain.ProfileUpdate{FirstName: strp("x")})

	assert.Equal(t, msgUpdateFailed, res.Error)
	assert.Empty(t, f.sessions.metadata)
	assert.Equal(t, PhaseAuthenticated, f.ctrl.State().Phase())
}

func TestStateInvariantHoldsAcrossTransitions(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []State
	f.ctrl.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	f.ctrl.Start(context.Background())
	f.ctrl.Login(context.Background(), "ada@example.com", "secret1")
	f.ctrl.Logout(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, st := range seen {
		assert.Equal(t, st.User != nil, st.IsAuthenticated)
		assert.False(t, st.IsLoading)
	}
}
