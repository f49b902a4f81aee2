// Package guard decides whether a protected page may render for the current
// session state, and sends unauthenticated users to the login page.
package guard

import (
	"sync"

	"go.uber.org/zap"

	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
	"github.com/boddenberg/tradedesk-bfa-go/internal/session"
)

// Kind is what a protected page should do.
type Kind int

const (
	// Wait shows a loading indicator and renders nothing protected.
	Wait Kind = iota
	Render
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Render:
		return "render"
	default:
		return "redirect"
	}
}

// Decision is the outcome of evaluating a state. Target is set for Redirect.
type Decision struct {
	Kind   Kind
	Target string
}

// Evaluate maps st to a decision for a page protected by loginPath.
func Evaluate(st session.State, loginPath string) Decision {
	switch st.Phase() {
	case session.PhaseInitializing:
		return Decision{Kind: Wait}
	case session.PhaseAuthenticated:
		return Decision{Kind: Render}
	default:
		return Decision{Kind: Redirect, Target: loginPath}
	}
}

// Source is an observable session state.
type Source interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Guard watches a session and steers navigation for an open protected page.
type Guard struct {
	loginPath string
	nav       port.Navigator
	logger    *zap.Logger
}

// New creates a guard redirecting to loginPath through nav.
func New(loginPath string, nav port.Navigator, logger *zap.Logger) *Guard {
	if loginPath == "" {
		loginPath = session.DefaultLoginPath
	}
	return &Guard{loginPath: loginPath, nav: nav, logger: logger}
}

// Evaluate applies the guard's login path to st.
func (g *Guard) Evaluate(st session.State) Decision {
	return Evaluate(st, g.loginPath)
}

// Watch evaluates src now and on every change, soft-navigating to the login
// page each time the decision turns into Redirect. The returned func stops
// watching.
func (g *Guard) Watch(src Source) (stop func()) {
	var mu sync.Mutex
	last := Decision{Kind: Wait}

	apply := func(st session.State) {
		d := g.Evaluate(st)
		mu.Lock()
		entered := d.Kind == Redirect && last.Kind != Redirect
		last = d
		mu.Unlock()

		if entered {
			g.logger.Debug("guard redirecting", zap.String("target", d.Target))
			g.nav.Navigate(d.Target)
		}
	}

	unsub := src.Subscribe(apply)
	apply(src.State())
	return unsub
}
