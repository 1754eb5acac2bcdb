// Package valuestore keeps the per-service scratch space check plugins use for
// stateful computations across check cycles.
//
// A namespace is keyed by (host, service id) and is leased to exactly one plugin
// invocation at a time. Values must be JSON serializable; numbers come back as float64
// after a round trip through a persistent backend.
package valuestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"checkengine/internal/model"
)

// ErrNamespaceBusy is returned by TryAcquire when the namespace is leased.
var ErrNamespaceBusy = errors.New("value store namespace is in use")

// Backend persists namespaces.
type Backend interface {
	Load(ctx context.Context, host model.HostName, service string) (map[string]any, error)
	Save(ctx context.Context, host model.HostName, service string, values map[string]any) error
}

// Manager hands out exclusive leases on namespaces.
type Manager struct {
	backend Backend
	mu      sync.Mutex
	leases  map[string]chan struct{}
	logger  zerolog.Logger
}

// NewManager creates a manager over the given backend.
func NewManager(backend Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		backend: backend,
		leases:  make(map[string]chan struct{}),
		logger:  logger.With().Str("component", "valuestore").Logger(),
	}
}

func (m *Manager) lease(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok {
		l = make(chan struct{}, 1)
		m.leases[key] = l
	}
	return l
}

// Acquire leases the namespace of a service, waiting until it is free or ctx is done.
// The returned release function persists changes and frees the lease; it must be
// called exactly once.
func (m *Manager) Acquire(ctx context.Context, host model.HostName, id model.ServiceID) (*Namespace, func(), error) {
	l := m.lease(leaseKey(host, id))
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return m.open(ctx, host, id, l)
}

// TryAcquire is like Acquire but fails with ErrNamespaceBusy instead of waiting.
func (m *Manager) TryAcquire(ctx context.Context, host model.HostName, id model.ServiceID) (*Namespace, func(), error) {
	l := m.lease(leaseKey(host, id))
	select {
	case l <- struct{}{}:
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrNamespaceBusy, leaseKey(host, id))
	}
	return m.open(ctx, host, id, l)
}

func (m *Manager) open(ctx context.Context, host model.HostName, id model.ServiceID, l chan struct{}) (*Namespace, func(), error) {
	service := id.String()
	values, err := m.backend.Load(ctx, host, service)
	if err != nil {
		<-l
		return nil, nil, fmt.Errorf("failed to load value store of %s on %s: %w", service, host, err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	ns := &Namespace{values: values}

	var once sync.Once
	release := func() {
		once.Do(func() {
			defer func() { <-l }()
			if !ns.dirty {
				return
			}
			if err := m.backend.Save(context.WithoutCancel(ctx), host, service, ns.values); err != nil {
				m.logger.Error().Err(err).Str("host", host).Str("service", service).Msg("failed to persist value store")
			}
		})
	}
	return ns, release, nil
}

func leaseKey(host model.HostName, id model.ServiceID) string {
	return host + "\x00" + id.String()
}

// Namespace is one service's key/value scratch space. It implements api.ValueStore
// and is not safe for concurrent use; the lease guarantees a single user.
type Namespace struct {
	values map[string]any
	dirty  bool
	parent *Namespace
	node   string
}

// Get returns the value stored under key.
func (n *Namespace) Get(key string) (any, bool) {
	v, ok := n.data()[key]
	return v, ok
}

// Set stores a value.
func (n *Namespace) Set(key string, value any) {
	n.ensure()[key] = value
	n.markDirty()
}

// Delete removes a key.
func (n *Namespace) Delete(key string) {
	data := n.data()
	if _, ok := data[key]; !ok {
		return
	}
	delete(data, key)
	n.markDirty()
}

// Keys returns the stored keys in sorted order. Node sub-namespaces are not included.
func (n *Namespace) Keys() []string {
	var keys []string
	for k := range n.data() {
		if n.parent == nil && isNodeKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the stored values.
func (n *Namespace) Snapshot() map[string]any {
	return maps.Clone(n.data())
}

// Sub returns the sub-namespace of one cluster node.
func (n *Namespace) Sub(node model.HostName) *Namespace {
	return &Namespace{parent: n, node: node}
}

const nodeKeyPrefix = "node:"

func isNodeKey(k string) bool {
	return strings.HasPrefix(k, nodeKeyPrefix)
}

func (n *Namespace) data() map[string]any {
	if n.parent == nil {
		return n.values
	}
	sub, _ := n.parent.values[nodeKeyPrefix+n.node].(map[string]any)
	return sub
}

func (n *Namespace) ensure() map[string]any {
	if n.parent == nil {
		return n.values
	}
	key := nodeKeyPrefix + n.node
	sub, ok := n.parent.values[key].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		n.parent.values[key] = sub
	}
	return sub
}

func (n *Namespace) markDirty() {
	if n.parent != nil {
		n.parent.dirty = true
		return
	}
	n.dirty = true
}
