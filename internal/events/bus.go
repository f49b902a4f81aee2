// Package events provides a typed in-process observer list.
package events

import "sync"

// Handler receives a published value.
type Handler[T any] func(T)

type subscription[T any] struct {
	id uint64
	fn Handler[T]
}

// Bus is a simple synchronous dispatcher. Handlers run on the publishing
// goroutine in subscription order.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[T]
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn. The returned func removes it and is safe to call
// more than once.
func (b *Bus[T]) Subscribe(fn Handler[T]) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler registered at the time of the call.
// Handlers may subscribe, unsubscribe or publish re-entrantly.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	handlers := append([]subscription[T]{}, b.subs...)
	b.mu.RUnlock()

	for _, s := range handlers {
		s.fn(v)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Reset drops every subscription.
func (b *Bus[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}
