// Package service hosts the per-browser client registry: every browser gets
// its own session controller, storage namespace and navigator.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/observability"
	"github.com/boddenberg/tradedesk-bfa-go/internal/infra/storage"
	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
	"github.com/boddenberg/tradedesk-bfa-go/internal/reset"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

// Registry defaults.
const (
	DefaultIdleTTL          = 30 * time.Minute
	DefaultBootstrapTimeout = 15 * time.Second
)

// RegistryOptions tunes a ClientRegistry.
type RegistryOptions struct {
	// MaxClients caps live clients; the least recently used is evicted.
	// Zero means unbounded.
	MaxClients int
	// IdleTTL drops clients not seen for this long.
	IdleTTL time.Duration
	// BootstrapTimeout bounds each client's initial session restore.
	BootstrapTimeout time.Duration
	Session          session.Options
}

// SessionStoreFactory builds a session store over one client's storage.
type SessionStoreFactory func(port.Storage) port.SessionStore

// Client is everything the server holds for one browser.
type Client struct {
	ID         string
	Controller *session.Controller
	Sessions   port.SessionStore
	Storage    port.Storage
	Nav        *Navigator
}

// ClientRegistry owns all live clients.
type ClientRegistry struct {
	opts        RegistryOptions
	newSessions SessionStoreFactory
	base        port.Storage
	resolver    port.ProfileResolver
	profiles    port.ProfileStore
	metrics     *observability.Metrics
	logger      *zap.Logger

	mu      sync.Mutex // serializes client creation
	clients *expirable.LRU[string, *Client]
	active  atomic.Int64
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(opts RegistryOptions, newSessions SessionStoreFactory, base port.Storage, resolver port.ProfileResolver, profiles port.ProfileStore, metrics *observability.Metrics, logger *zap.Logger) *ClientRegistry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if opts.MaxClients < 0 {
		opts.MaxClients = 0
	}

	r := &ClientRegistry{
		opts:        opts,
		newSessions: newSessions,
		base:        base,
		resolver:    resolver,
		profiles:    profiles,
		metrics:     metrics,
		logger:      logger,
	}
	// The callback runs under the LRU's lock and must not call back into it.
	r.clients = expirable.NewLRU[string, *Client](opts.MaxClients, r.evicted, opts.IdleTTL)
	return r
}

func (r *ClientRegistry) evicted(id string, c *Client) {
	c.Controller.Close()
	r.metrics.SetActiveClients(int(r.active.Add(-1)))
	r.logger.Debug("client released", zap.String("client_id", id))
}

// Acquire returns the client for id, creating and bootstrapping it on first
// use. Each access renews the idle timer.
func (r *ClientRegistry) Acquire(id string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients.Get(id); ok {
		r.clients.Add(id, c)
		return c
	}

	c := r.build(id)
	r.clients.Add(id, c)
	r.metrics.SetActiveClients(int(r.active.Add(1)))
	r.logger.Debug("client created", zap.String("client_id", id))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.BootstrapTimeout)
		defer cancel()
		c.Controller.Start(ctx)
	}()
	return c
}

func (r *ClientRegistry) build(id string) *Client {
	store := storage.Namespace(r.base, id)
	sessions := r.newSessions(store)
	nav := NewNavigator(func() { r.Discard(id) })
	ctrl := session.NewController(sessions, r.resolver, r.profiles, nav, r.opts.Session, r.metrics,
		r.logger.With(zap.String("client_id", id)))
	return &Client{ID: id, Controller: ctrl, Sessions: sessions, Storage: store, Nav: nav}
}

// Lookup returns the live client for id without creating one.
func (r *ClientRegistry) Lookup(id string) (*Client, bool) {
	return r.clients.Peek(id)
}

// Discard drops the client for id. Its storage is kept.
func (r *ClientRegistry) Discard(id string) {
	r.clients.Remove(id)
}

// SignOutClient signs out whatever session id holds, live or only stored.
func (r *ClientRegistry) SignOutClient(ctx context.Context, id string) error {
	sessions := r.newSessions(storage.Namespace(r.base, id))
	if c, ok := r.clients.Peek(id); ok {
		sessions = c.Sessions
	}
	return sessions.SignOut(ctx, domain.SignOutGlobal)
}

// HardReset wipes every session artifact of id, using the live client when
// there is one, and then discards it.
func (r *ClientRegistry) HardReset(ctx context.Context, id string, cookies reset.CookieEraser) reset.Report {
	var (
		sessions port.SessionStore
		store    port.Storage
		nav      port.Navigator
	)
	if c, ok := r.clients.Peek(id); ok {
		sessions, store, nav = c.Sessions, c.Storage, c.Nav
	} else {
		store = storage.Namespace(r.base, id)
		sessions = r.newSessions(store)
		nav = NewNavigator(nil)
	}

	rs := &reset.Resetter{
		ServerClear: func(ctx context.Context) error { return sessions.SignOut(ctx, domain.SignOutGlobal) },
		Sessions:    sessions,
		Storage:     store,
		Cookies:     cookies,
		Nav:         nav,
		LoginPath:   r.loginPath(),
		Metrics:     r.metrics,
		Logger:      r.logger.With(zap.String("client_id", id)),
	}
	report := rs.Run(ctx)
	r.Discard(id)
	return report
}

func (r *ClientRegistry) loginPath() string {
	if r.opts.Session.LoginPath != "" {
		return r.opts.Session.LoginPath
	}
	return session.DefaultLoginPath
}

// Len returns the number of live clients.
func (r *ClientRegistry) Len() int {
	return r.clients.Len()
}

// Close releases every client.
func (r *ClientRegistry) Close() {
	r.clients.Purge()
}
