package valuestore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkengine/internal/model"
)

var svcID = model.ServiceID{PluginName: "if", Item: "eth0"}

func TestManager_PersistsAcrossLeases(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"memory": func(*testing.T) Backend { return NewMemoryBackend() },
		"file":   func(t *testing.T) Backend { return NewFileBackend(t.TempDir()) },
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "vs.db"))
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			m := NewManager(newBackend(t), zerolog.Nop())
			ctx := context.Background()

			ns, release, err := m.Acquire(ctx, "h1", svcID)
			require.NoError(t, err)
			ns.Set("rate.in", 42.0)
			ns.Set("seen", "yes")
			ns.Sub("node-a").Set("counter", 1.0)
			release()

			ns, release, err = m.Acquire(ctx, "h1", svcID)
			require.NoError(t, err)
			defer release()

			v, ok := ns.Get("rate.in")
			assert.True(t, ok)
			assert.Equal(t, 42.0, v)
			assert.Equal(t, []string{"rate.in", "seen"}, ns.Keys())

			node, ok := ns.Sub("node-a").Get("counter")
			assert.True(t, ok)
			assert.Equal(t, 1.0, node)
			_, ok = ns.Sub("node-b").Get("counter")
			assert.False(t, ok)

			other, releaseOther, err := m.Acquire(ctx, "h1", model.ServiceID{PluginName: "if", Item: "eth1"})
			require.NoError(t, err)
			defer releaseOther()
			assert.Empty(t, other.Keys())
		})
	}
}

func TestManager_LeaseIsExclusive(t *testing.T) {
	m := NewManager(NewMemoryBackend(), zerolog.Nop())
	ctx := context.Background()

	_, release, err := m.Acquire(ctx, "h1", svcID)
	require.NoError(t, err)

	_, _, err = m.TryAcquire(ctx, "h1", svcID)
	assert.True(t, errors.Is(err, ErrNamespaceBusy))

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, _, err = m.Acquire(waitCtx, "h1", svcID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	_, release2, err := m.TryAcquire(ctx, "h1", svcID)
	require.NoError(t, err)
	release2()
}

func TestManager_ConcurrentHoldersNeverOverlap(t *testing.T) {
	m := NewManager(NewMemoryBackend(), zerolog.Nop())
	var (
		holders int32
		maxSeen int32
		wg      sync.WaitGroup
	)

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ns, release, err := m.Acquire(context.Background(), "h1", svcID)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&holders, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			v, _ := ns.Get("count")
			f, _ := v.(float64)
			ns.Set("count", f+1)
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	ns, release, err := m.Acquire(context.Background(), "h1", svcID)
	require.NoError(t, err)
	defer release()
	v, _ := ns.Get("count")
	assert.Equal(t, 20.0, v)
}

func TestNamespace_UnchangedIsNotSaved(t *testing.T) {
	b := &countingBackend{Backend: NewMemoryBackend()}
	m := NewManager(b, zerolog.Nop())

	ns, release, err := m.Acquire(context.Background(), "h1", svcID)
	require.NoError(t, err)
	ns.Get("x")
	ns.Delete("missing")
	release()

	assert.Zero(t, b.saves)
}

type countingBackend struct {
	Backend
	saves int
}

func (b *countingBackend) Save(ctx context.Context, host model.HostName, service string, values map[string]any) error {
	b.saves++
	return b.Backend.Save(ctx, host, service, values)
}
