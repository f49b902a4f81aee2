package session

import (
	"context"
	"sync"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
	"github.com/boddenberg/tradedesk-bfa-go/internal/events"
)

// Phase is the coarse session phase derived from State.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseAuthenticated
	PhaseUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// State is what the rest of the application sees. Only the three
// constructors below produce values; IsAuthenticated is true exactly when
// User is set.
type State struct {
	User            *domain.Profile `json:"user"`
	IsLoading       bool            `json:"isLoading"`
	IsAuthenticated bool            `json:"isAuthenticated"`
}

// Initializing is the state before the first bootstrap completes.
func Initializing() State {
	return State{IsLoading: true}
}

// Authenticated holds a copy of p.
func Authenticated(p domain.Profile) State {
	return State{User: &p, IsAuthenticated: true}
}

// Unauthenticated has no user and is not loading.
func Unauthenticated() State {
	return State{}
}

// Phase classifies s.
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseInitializing
	case s.IsAuthenticated && s.User != nil:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// Store holds the current State and notifies subscribers of changes.
type Store struct {
	mu      sync.RWMutex
	state   State
	settled chan struct{}
	bus     *events.Bus[State]
}

// NewStore starts Initializing.
func NewStore() *Store {
	return &Store{
		state:   Initializing(),
		settled: make(chan struct{}),
		bus:     events.NewBus[State](),
	}
}

// Get returns the current state. The returned User is a copy.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// swap replaces the state without notifying.
func (s *Store) swap(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	if !st.IsLoading {
		select {
		case <-s.settled:
		default:
			close(s.settled)
		}
	}
}

// notify delivers the latest state to subscribers. Callers invoke it after
// releasing their own locks, so a slow subscriber only ever sees the newest
// value.
func (s *Store) notify() {
	s.bus.Publish(s.Get())
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(State)) func() {
	return s.bus.Subscribe(fn)
}

// Await blocks until the state has left Initializing or ctx is done.
func (s *Store) Await(ctx context.Context) (State, error) {
	s.mu.RLock()
	settled := s.settled
	s.mu.RUnlock()

	select {
	case <-settled:
		return s.Get(), nil
	case <-ctx.Done():
		return s.Get(), ctx.Err()
	}
}
