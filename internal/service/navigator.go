package service

import (
	"sync"

	"github.com/boddenberg/tradedesk-bfa-go/internal/events"
)

// Navigation is an instruction for the browser. Hard navigations reload the
// page and drop every piece of in-memory client state.
type Navigation struct {
	Path string `json:"path"`
	Hard bool   `json:"hard"`
}

// Navigator implements port.Navigator for one browser client. Navigations
// are queued until the client's next request collects them and are pushed to
// live subscribers at once.
type Navigator struct {
	mu      sync.Mutex
	pending *Navigation
	bus     *events.Bus[Navigation]
	// discard runs when a hard navigation is delivered.
	discard func()
}

// NewNavigator creates a navigator. discard may be nil.
func NewNavigator(discard func()) *Navigator {
	if discard == nil {
		discard = func() {}
	}
	return &Navigator{bus: events.NewBus[Navigation](), discard: discard}
}

// Navigate queues a soft route change. It never replaces a queued hard one.
func (n *Navigator) Navigate(path string) {
	n.mu.Lock()
	if n.pending != nil && n.pending.Hard {
		n.mu.Unlock()
		return
	}
	nav := Navigation{Path: path}
	n.pending = &nav
	n.mu.Unlock()
	n.bus.Publish(nav)
}

// HardRedirect queues a full reload at path.
func (n *Navigator) HardRedirect(path string) {
	nav := Navigation{Path: path, Hard: true}
	n.mu.Lock()
	n.pending = &nav
	n.mu.Unlock()
	n.bus.Publish(nav)
}

// Take returns and clears the queued navigation. Taking a hard navigation
// discards the client.
func (n *Navigator) Take() *Navigation {
	n.mu.Lock()
	nav := n.pending
	n.pending = nil
	n.mu.Unlock()

	if nav != nil && nav.Hard {
		n.discard()
	}
	return nav
}

// Delivered reports that nav reached the browser by another route, such as a
// websocket push.
func (n *Navigator) Delivered(nav Navigation) {
	n.mu.Lock()
	if n.pending != nil && *n.pending == nav {
		n.pending = nil
	}
	n.mu.Unlock()
	if nav.Hard {
		n.discard()
	}
}

// Subscribe registers fn for every navigation.
func (n *Navigator) Subscribe(fn func(Navigation)) func() {
	return n.bus.Subscribe(fn)
}
