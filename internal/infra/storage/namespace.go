package storage

import (
	"context"
	"strings"

	"github.com/boddenberg/tradedesk-bfa-go/internal/port"
)

// Namespaced confines a shared store to keys under one client's prefix.
type Namespaced struct {
	base   port.Storage
	prefix string
}

// Namespace returns a view of base that prepends "client:<id>:" to every key.
func Namespace(base port.Storage, id string) *Namespaced {
	return &Namespaced{base: base, prefix: "client:" + id + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.base.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.base.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.base.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.base.Keys(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}

// Clear removes only this namespace's keys. It keeps going past individual
// delete failures and returns the first one.
func (n *Namespaced) Clear(ctx context.Context) error {
	keys, err := n.base.Keys(ctx, n.prefix)
	if err != nil {
		return err
	}
	var first error
	for _, k := range keys {
		if err := n.base.Delete(ctx, k); err != nil && first == nil {
			first = err
		}
	}
	return first
}
