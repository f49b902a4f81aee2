// Package storage provides the key/value backends that hold per-client
// session state: an in-memory TTL map for single-node deployments and
// Redis for shared ones.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemory is a thread-safe in-memory store with optional TTL.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewInMemory creates a store whose entries expire after ttl.
// A zero ttl keeps entries until they are deleted.
func NewInMemory(ttl time.Duration) *InMemory {
	s := &InMemory{
		items: make(map[string]entry),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanup()
	}
	return s
}

// Get retrieves a value. Returns false if not found or expired.
func (s *InMemory) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores a value with the configured TTL.
func (s *InMemory) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	s.items[key] = e
	return nil
}

// Delete removes a value.
func (s *InMemory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// Keys lists live keys starting with prefix, sorted.
func (s *InMemory) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	keys := make([]string, 0)
	for k, e := range s.items {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every entry.
func (s *InMemory) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]entry)
	return nil
}

// Name implements port.HealthChecker.
func (s *InMemory) Name() string { return "storage-memory" }

// Ping implements port.HealthChecker.
func (s *InMemory) Ping(context.Context) error { return nil }

// Close stops the cleanup goroutine.
func (s *InMemory) Close() {
	s.once.Do(func() { close(s.done) })
}

// cleanup periodically removes expired entries.
func (s *InMemory) cleanup() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for k, v := range s.items {
			if v.expired(now) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}
