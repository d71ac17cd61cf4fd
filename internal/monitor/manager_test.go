package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/scanning"
)

func newTestManager(s Scanner, opts ...ManagerOption) *Manager {
	opts = append([]ManagerOption{WithManagerLogger(logging.NewDiscard())}, opts...)
	return NewManager(s, testConfig(time.Hour), opts...)
}

func TestManager_AddRejectsDuplicateKey(t *testing.T) {
	m := newTestManager(&fakeScanner{})
	t.Cleanup(func() { _ = m.StopAll(context.Background(), false) })

	_, err := m.Add(scanning.NewRequest("10.0.0.9"))
	require.NoError(t, err)

	_, err = m.Add(scanning.NewRequest("10.0.0.9"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeBusy))

	udp := scanning.NewRequest("10.0.0.9")
	udp.Protocol = scanning.ProtocolUDP
	_, err = m.Add(udp)
	require.NoError(t, err, "a different protocol is a different key")

	assert.Equal(t, 2, m.Len())
}

func TestManager_AddInvalidRequest(t *testing.T) {
	m := newTestManager(&fakeScanner{})

	req := scanning.NewRequest("10.0.0.9")
	req.MaxHops = 0
	_, err := m.Add(req)
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestManager_SnapshotsSortedByKey(t *testing.T) {
	m := newTestManager(&fakeScanner{})
	t.Cleanup(func() { _ = m.StopAll(context.Background(), false) })

	for _, target := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
		_, err := m.Add(scanning.NewRequest(target))
		require.NoError(t, err)
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "10.0.0.1", snaps[0].Key.Target)
	assert.Equal(t, "10.0.0.2", snaps[1].Key.Target)
	assert.Equal(t, "10.0.0.3", snaps[2].Key.Target)
}

func TestManager_HookFactory(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	factory := func(key scanning.Key) Hooks {
		return Hooks{OnScanComplete: func(*scanning.ScanResult) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, key.String())
			return nil
		}}
	}
	m := newTestManager(&fakeScanner{}, WithHookFactory(factory))
	t.Cleanup(func() { _ = m.StopAll(context.Background(), false) })

	_, err := m.Add(scanning.NewRequest("10.0.0.9"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "10.0.0.9:80/tcp", seen[0])
}

func TestManager_RemoveAndStopAll(t *testing.T) {
	m := newTestManager(&fakeScanner{})

	a, err := m.Add(scanning.NewRequest("10.0.0.1"))
	require.NoError(t, err)
	b, err := m.Add(scanning.NewRequest("10.0.0.2"))
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), a.Key(), true))
	assert.Equal(t, StateStopped, a.State())
	_, ok := m.Get(a.Key())
	assert.False(t, ok)

	require.NoError(t, m.Remove(context.Background(), a.Key(), true), "unknown keys are ignored")

	require.NoError(t, m.StopAll(context.Background(), true))
	assert.Equal(t, StateStopped, b.State())

	got, ok := m.Get(b.Key())
	require.True(t, ok, "stopped monitors stay registered")
	assert.Same(t, b, got)

	_, err = m.Add(scanning.NewRequest("10.0.0.1"))
	require.NoError(t, err, "a removed key can be added again")
	require.NoError(t, m.StopAll(context.Background(), false))
}

func TestChainFactories(t *testing.T) {
	var calls []string
	first := func(key scanning.Key) Hooks {
		return Hooks{OnReachabilityChanged: func(bool) error {
			calls = append(calls, "first")
			return assert.AnError
		}}
	}
	second := func(key scanning.Key) Hooks {
		return Hooks{
			OnReachabilityChanged: func(bool) error {
				calls = append(calls, "second")
				return nil
			},
			OnSustainedFailure: func(n int) error {
				calls = append(calls, "sustained")
				return nil
			},
		}
	}

	hooks := ChainFactories(first, nil, second)(scanning.NewRequest("10.0.0.9").Key())

	err := hooks.OnReachabilityChanged(true)
	require.ErrorIs(t, err, assert.AnError)
	require.NoError(t, hooks.OnSustainedFailure(3))
	require.NoError(t, hooks.OnScanComplete(nil))
	assert.Equal(t, []string{"first", "second", "sustained"}, calls)
}
