// Package plugin adapts the versioned plugin API (package api) into the stable shapes the
// engine consumes. Five read-only adapters share one api.Registry and recompute every
// lookup live, so plugins registered later are visible immediately.
package plugin

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Lookup for unregistered names.
var ErrNotFound = errors.New("plugin not found")

// Registry is a read-only mapping from plugin name to descriptor.
type Registry[K comparable, V any] interface {
	Get(key K) (V, bool)
	Names() []K
}

// Lookup returns the descriptor for key or an error wrapping ErrNotFound.
func Lookup[K comparable, V any](r Registry[K, V], key K) (V, error) {
	v, ok := r.Get(key)
	if !ok {
		return v, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return v, nil
}
