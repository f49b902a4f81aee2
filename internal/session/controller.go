// Package session owns the per-client authentication lifecycle: it bootstraps
// from the stored session, runs the login, register and logout commands, and
// keeps the observable State in step with session change notifications.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/identity"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

var tracer = otel.Tracer("session")

// Defaults for Options.
const (
	DefaultLoginPath         = "/login"
	DefaultProvisioningDelay = time.Second
	DefaultFlowTimeout       = 15 * time.Second
)

// Options tunes a Controller.
type Options struct {
	LoginPath string
	// ProvisioningDelay is waited after sign-up so the provisioning trigger
	// can create the profile before reconciliation looks for it.
	ProvisioningDelay time.Duration
	// FlowTimeout bounds flows triggered by session change notifications.
	FlowTimeout time.Duration
	LogoutScope domain.SignOutScope
}

func (o *Options) defaults() {
	if o.LoginPath == "" {
		o.LoginPath = DefaultLoginPath
	}
	if o.ProvisioningDelay < 0 {
		o.ProvisioningDelay = 0
	}
	if o.FlowTimeout <= 0 {
		o.FlowTimeout = DefaultFlowTimeout
	}
	if o.LogoutScope == "" {
		o.LogoutScope = domain.SignOutGlobal
	}
}

// Result is the outcome of a user command.
type Result struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	User    *domain.Profile `json:"user,omitempty"`
	// ConfirmationRequired is set when sign-up succeeded but the account
	// must be confirmed by email before the first sign-in.
	ConfirmationRequired bool `json:"confirmationRequired,omitempty"`
}

func failure(msg string) Result { return Result{Error: msg} }

// Controller drives one client's session.
type Controller struct {
	sessions port.SessionStore
	resolver port.ProfileResolver
	profiles port.ProfileStore
	nav      port.Navigator
	state    *Store
	opts     Options
	metrics  *observability.Metrics
	logger   *zap.Logger

	// mu guards epoch, inflight, pending and closed. Commits check epoch and
	// closed under it.
	mu       sync.Mutex
	epoch    uint64
	inflight int
	closed   bool
	// pending is the latest session change seen while a flow was in flight.
	pending *domain.SessionEvent

	startOnce   sync.Once
	closeOnce   sync.Once
	unsubscribe func()
}

// NewController wires a controller. Call Start to bootstrap.
func NewController(sessions port.SessionStore, resolver port.ProfileResolver, profiles port.ProfileStore, nav port.Navigator, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	opts.defaults()
	return &Controller{
		sessions:    sessions,
		resolver:    resolver,
		profiles:    profiles,
		nav:         nav,
		state:       NewStore(),
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		unsubscribe: func() {},
	}
}

// ============================================================
// Observation
// ============================================================

// State returns the current session state.
func (c *Controller) State() State { return c.state.Get() }

// Subscribe registers fn for every state change.
func (c *Controller) Subscribe(fn func(State)) func() { return c.state.Subscribe(fn) }

// Await blocks until bootstrap has settled the state or ctx is done.
func (c *Controller) Await(ctx context.Context) (State, error) { return c.state.Await(ctx) }

// ============================================================
// Flow bookkeeping
// ============================================================

// begin starts a user command. Flows started earlier can no longer commit.
// The caller must release.
func (c *Controller) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.inflight++
	return c.epoch
}

// hold marks a flow in flight without invalidating older ones.
func (c *Controller) hold() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight++
	return c.epoch
}

// release ends a flow. The last flow out replays a session change that
// arrived meanwhile, unless the committed state already matches it.
func (c *Controller) release() {
	c.mu.Lock()
	c.inflight--
	var ev *domain.SessionEvent
	if c.inflight == 0 {
		ev, c.pending = c.pending, nil
	}
	c.mu.Unlock()

	if ev != nil && !c.reflects(*ev) {
		c.onSessionChange(*ev)
	}
}

// reflects reports whether the committed state already agrees with ev.
func (c *Controller) reflects(ev domain.SessionEvent) bool {
	st := c.state.Get()
	if ev.Session == nil {
		return !st.IsAuthenticated
	}
	return st.User != nil && st.User.ID == ev.Session.Principal.ID
}

// live reports whether a flow started at epoch may still act.
func (c *Controller) live(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.epoch == epoch
}

// commit publishes st unless the controller closed or a newer command began.
func (c *Controller) commit(epoch uint64, st State) bool {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	c.state.swap(st)
	c.mu.Unlock()

	c.state.notify()
	return true
}

// ============================================================
// Lifecycle
// ============================================================

// Start subscribes to session changes and runs the bootstrap flow once.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		unsub := c.sessions.OnSessionChange(c.onSessionChange)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			unsub()
			return
		}
		c.unsubscribe = unsub
		c.mu.Unlock()

		c.bootstrap(ctx)
	})
}

// Close stops the controller. In-flight flows finish without touching state.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		unsub := c.unsubscribe
		c.mu.Unlock()
		unsub()
	})
}

func (c *Controller) bootstrap(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Controller.bootstrap")
	defer span.End()

	epoch := c.hold()
	defer c.release()

	sess, err := c.sessions.GetCurrentSession(ctx)
	if err != nil {
		reason := domain.ReasonSessionError
		if domain.IsAuthCode(err, domain.AuthCodeInvalidSession) {
			reason = domain.ReasonSessionInvalid
		}
		c.forceSignOut(ctx, epoch, reason, err)
		return
	}
	if sess == nil {
		c.commit(epoch, Unauthenticated())
		return
	}
	if sess.Principal.ID == "" {
		c.forceSignOut(ctx, epoch, domain.ReasonSessionInvalid, errors.New("stored session has no user"))
		return
	}

	span.SetAttributes(attribute.String("user.id", sess.Principal.ID))
	c.resolve(ctx, epoch, sess.Principal)
}

// onSessionChange re-derives state from the session carried by ev. While a
// flow is in flight the event is kept and replayed when the flow ends.
func (c *Controller) onSessionChange(ev domain.SessionEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.inflight > 0 {
		c.pending = &ev
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	c.mu.Unlock()

	if ev.Session == nil {
		c.commit(epoch, Unauthenticated())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FlowTimeout)
	defer cancel()
	c.resolve(ctx, epoch, ev.Session.Principal)
}

// resolve reconciles principal and commits the outcome, forcing a sign-out
// when no profile can be produced.
func (c *Controller) resolve(ctx context.Context, epoch uint64, principal domain.Principal) {
	profile, err := c.resolver.Resolve(ctx, principal)
	if err != nil {
		c.forceSignOut(ctx, epoch, identity.ReasonOf(err), err)
		return
	}
	c.commit(epoch, Authenticated(*profile))
}

// forceSignOut invalidates the session server-side and reloads the login page
// with reason. Stale flows do nothing.
func (c *Controller) forceSignOut(ctx context.Context, epoch uint64, reason domain.LoginReason, cause error) {
	if !c.live(epoch) {
		c.logger.Debug("dropping stale forced sign-out", zap.String("reason", string(reason)))
		return
	}

	c.logger.Warn("forcing sign-out",
		zap.String("reason", string(reason)),
		zap.Error(cause),
	)
	c.metrics.IncrForcedSignOut(string(reason))

	if err := c.sessions.SignOut(ctx, domain.SignOutLocal); err != nil {
		c.logger.Warn("forced sign-out failed at session store", zap.Error(err))
	}
	if !c.live(epoch) {
		return
	}
	// The redirect is queued before the state settles so that anyone woken
	// by the commit already sees it.
	c.nav.HardRedirect(domain.LoginURL(c.opts.LoginPath, reason))
	c.commit(epoch, Unauthenticated())
}

// ============================================================
// Commands
// ============================================================

// Login signs in and resolves the profile before reporting success.
func (c *Controller) Login(ctx context.Context, email, password string) Result {
	ctx, span := tracer.Start(ctx, "Controller.Login")
	defer span.End()

	epoch := c.begin()
	defer c.release()
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		c.metrics.IncrAuthCommand(observability.CommandLogin, false)
		return failure(msgMissingCredentials)
	}

	sess, err := c.sessions.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		c.metrics.IncrAuthCommand(observability.CommandLogin, false)
		return failure(loginErrorMessage(err))
	}
	span.SetAttributes(attribute.String("user.id", sess.Principal.ID))

	return c.settle(ctx, epoch, observability.CommandLogin, sess.Principal)
}

// Register creates the principal, waits for provisioning and resolves.
func (c *Controller) Register(ctx context.Context, req domain.RegisterRequest) Result {
	ctx, span := tracer.Start(ctx, "Controller.Register")
	defer span.End()

	epoch := c.begin()
	defer c.release()
	email := domain.NormalizeEmail(req.Email)
	meta := req.SignUpMetadata
	if res, ok := c.validateRegistration(email, req.Password, &meta); !ok {
		return res
	}

	principal, err := c.sessions.SignUp(ctx, email, req.Password, meta.UserMetadata())
	if err != nil {
		c.logger.Warn("registration failed", zap.String("email", email), zap.Error(err))
		c.metrics.IncrAuthCommand(observability.CommandRegister, false)
		return failure(registerErrorMessage(err))
	}
	span.SetAttributes(attribute.String("user.id", principal.ID))

	if c.opts.ProvisioningDelay > 0 {
		timer := time.NewTimer(c.opts.ProvisioningDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.metrics.IncrAuthCommand(observability.CommandRegister, false)
			return failure(msgNetwork)
		case <-timer.C:
		}
	}

	sess, err := c.sessions.GetCurrentSession(ctx)
	if err != nil {
		c.logger.Warn("session unavailable after sign-up", zap.String("user_id", principal.ID), zap.Error(err))
		if soErr := c.sessions.SignOut(ctx, domain.SignOutLocal); soErr != nil {
			c.logger.Warn("sign-out after failed sign-up", zap.Error(soErr))
		}
		c.commit(epoch, Unauthenticated())
		c.metrics.IncrAuthCommand(observability.CommandRegister, false)
		return failure(registerErrorMessage(err))
	}
	if sess == nil {
		// Email confirmation pending: nobody is signed in yet.
		c.commit(epoch, Unauthenticated())
		c.metrics.IncrAuthCommand(observability.CommandRegister, true)
		return Result{Success: true, ConfirmationRequired: true}
	}

	return c.settle(ctx, epoch, observability.CommandRegister, *principal)
}

func (c *Controller) validateRegistration(email, password string, meta *domain.SignUpMetadata) (Result, bool) {
	var verr *domain.ErrValidation
	err := domain.ValidateEmail(email)
	if err == nil && len(password) < domain.MinPasswordLength {
		err = &domain.ErrValidation{Field: "password", Message: "too short"}
	}
	if err == nil {
		err = meta.Validate()
	}
	if err == nil {
		return Result{}, true
	}
	c.metrics.IncrAuthCommand(observability.CommandRegister, false)
	if errors.As(err, &verr) {
		return failure(validationMessage(verr)), false
	}
	return failure(msgRegistrationFailed), false
}

// settle resolves principal after a successful sign-in or sign-up. On
// failure the new session is discarded so no half-authenticated state
// remains.
func (c *Controller) settle(ctx context.Context, epoch uint64, command string, principal domain.Principal) Result {
	profile, err := c.resolver.Resolve(ctx, principal)
	if err != nil {
		reason := identity.ReasonOf(err)
		c.logger.Warn("profile unavailable after sign-in",
			zap.String("command", command),
			zap.String("user_id", principal.ID),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)
		if soErr := c.sessions.SignOut(ctx, domain.SignOutLocal); soErr != nil {
			c.logger.Warn("sign-out after failed resolve", zap.Error(soErr))
		}
		c.commit(epoch, Unauthenticated())
		c.metrics.IncrAuthCommand(command, false)
		return failure(domain.LoginMessage(string(reason)))
	}

	c.commit(epoch, Authenticated(*profile))
	c.metrics.IncrAuthCommand(command, true)
	c.logger.Info("session established",
		zap.String("command", command),
		zap.String("user_id", profile.ID),
		zap.String("role", string(profile.Role)),
	)
	return Result{Success: true, User: profile}
}

// Logout signs out and clears state regardless of the backend outcome.
func (c *Controller) Logout(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Controller.Logout")
	defer span.End()

	epoch := c.begin()
	defer c.release()
	if err := c.sessions.SignOut(ctx, c.opts.LogoutScope); err != nil {
		c.logger.Warn("logout failed at session store, clearing locally", zap.Error(err))
	}
	c.commit(epoch, Unauthenticated())
	c.metrics.IncrAuthCommand(observability.CommandLogout, true)
}

// UpdateProfile writes the profile row and mirrors the change into principal
// metadata. Role and active flag are admin-only.
func (c *Controller) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) Result {
	ctx, span := tracer.Start(ctx, "Controller.UpdateProfile")
	defer span.End()

	epoch := c.begin()
	defer c.release()
	current := c.state.Get()
	if current.User == nil {
		c.metrics.IncrAuthCommand(observability.CommandUpdate, false)
		return failure(msgNotSignedIn)
	}
	if err := update.Validate(); err != nil {
		c.metrics.IncrAuthCommand(observability.CommandUpdate, false)
		var verr *domain.ErrValidation
		if errors.As(err, &verr) {
			return failure(validationMessage(verr))
		}
		return failure(msgUpdateFailed)
	}
	if update.Privileged() && current.User.Role != domain.RoleAdmin {
		c.metrics.IncrAuthCommand(observability.CommandUpdate, false)
		return failure(msgAdminOnly)
	}

	row, err := c.profiles.UpdateProfile(ctx, current.User.ID, update)
	if err != nil {
		c.logger.Warn("profile update failed", zap.String("user_id", current.User.ID), zap.Error(err))
		c.metrics.IncrAuthCommand(observability.CommandUpdate, false)
		return failure(msgUpdateFailed)
	}
	profile := identity.MapRowToProfile(*row)

	c.commit(epoch, Authenticated(profile))
	if _, err := c.sessions.UpdateMetadata(ctx, identity.MapProfileUpdatesToMetadata(update)); err != nil {
		c.logger.Warn("profile metadata mirror failed", zap.String("user_id", profile.ID), zap.Error(err))
	}

	c.metrics.IncrAuthCommand(observability.CommandUpdate, true)
	return Result{Success: true, User: &profile}
}
