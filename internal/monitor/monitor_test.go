package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/scanning"
)

// fakeScanner returns scripted results and tracks overlapping calls.
type fakeScanner struct {
	mu     sync.Mutex
	calls  int
	active int
	peak   int
	delay  time.Duration
	script func(n int) (*scanning.ScanResult, error)
}

func (f *fakeScanner) TryScan(ctx context.Context, req scanning.Request) (*scanning.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			err := errors.ErrScanCanceled(req.Target, ctx.Err())
			return scanning.NewFailedResult(fmt.Sprint(n), req, time.Now(), 0, err), err
		}
	}
	if f.script == nil {
		return routeResult(fmt.Sprint(n), true, 1, "10.0.0.9"), nil
	}
	return f.script(n)
}

func (f *fakeScanner) stats() (calls, active, peak int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.active, f.peak
}

func testConfig(interval time.Duration) Config {
	return Config{Interval: interval, MaxHistory: 10, FailureThreshold: 3}
}

func newTestMonitor(t *testing.T, s Scanner, cfg Config, hooks Hooks) *Monitor {
	t.Helper()
	m, err := New(s, scanning.NewRequest("10.0.0.9"), cfg, WithHooks(hooks), WithLogger(logging.NewDiscard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background(), false) })
	return m
}

func TestNew_Validation(t *testing.T) {
	s := &fakeScanner{}

	_, err := New(s, scanning.NewRequest("10.0.0.9"), Config{Interval: 0})
	require.Error(t, err)

	bad := scanning.NewRequest("10.0.0.9")
	bad.Port = 0
	_, err = New(s, bad, DefaultConfig())
	require.Error(t, err)

	_, err = New(nil, scanning.NewRequest("10.0.0.9"), DefaultConfig())
	require.Error(t, err)

	m, err := New(s, scanning.NewRequest("10.0.0.9"), Config{Interval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxHistory, m.Snapshot().Capacity)
	assert.Equal(t, StateIdle, m.State())
}

func TestMonitor_FirstTickIsImmediate(t *testing.T) {
	s := &fakeScanner{}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool {
		return m.Snapshot().Counters.TotalScans == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop(context.Background(), true))
	snap := m.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	require.Len(t, snap.Entries, 1)
	assert.True(t, snap.Entries[0].Reached())
}

func TestMonitor_HooksAndTransitions(t *testing.T) {
	reached := []bool{true, true, false, false, true}
	s := &fakeScanner{script: func(n int) (*scanning.ScanResult, error) {
		return routeResult(fmt.Sprint(n), reached[n-1], float64(n), "10.0.0.9"), nil
	}}

	var (
		completed []string
		flips     []bool
	)
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{
		OnScanComplete: func(r *scanning.ScanResult) error {
			completed = append(completed, r.ID)
			return nil
		},
		OnReachabilityChanged: func(r bool) error {
			flips = append(flips, r)
			return nil
		},
	})

	for range reached {
		m.tick()
	}

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, completed)
	assert.Equal(t, []bool{false, true}, flips)

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.Rolling.ReachabilityTransitions)
	assert.Equal(t, 5, snap.Counters.TotalScans)
	assert.Equal(t, 3, snap.Counters.SuccessfulScans)
	assert.Equal(t, 2, snap.Counters.FailedScans)
	assert.InDelta(t, 0.6, snap.Counters.SuccessRate(), 1e-9)
	// Response figures cover reached ticks 1, 2 and 5.
	assert.InDelta(t, 8.0/3.0, snap.Counters.AverageResponse.Ms, 1e-9)
	assert.Equal(t, scanning.SomeRTT(1), snap.Counters.MinResponse)
	assert.Equal(t, scanning.SomeRTT(5), snap.Counters.MaxResponse)
}

func TestMonitor_FailedTicksAreRecorded(t *testing.T) {
	s := &fakeScanner{script: func(n int) (*scanning.ScanResult, error) {
		return nil, errors.ErrBinaryNotFound("nmap", stderrors.New("not on PATH"))
	}}

	var sustained []int
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{
		OnSustainedFailure: func(c int) error {
			sustained = append(sustained, c)
			return nil
		},
	})

	for i := 0; i < 5; i++ {
		m.tick()
	}

	snap := m.Snapshot()
	require.Len(t, snap.Entries, 5)
	for _, e := range snap.Entries {
		assert.True(t, e.Failed())
		assert.Equal(t, errors.CodeBinaryNotFound, e.Result.Failure)
	}
	assert.Equal(t, 5, snap.Counters.ConsecutiveFailures)
	assert.Equal(t, []int{3}, sustained, "raised once when the threshold is reached")
	assert.Equal(t, StateIdle, snap.State, "failures never stop the monitor")
}

func TestMonitor_ConsecutiveFailuresReset(t *testing.T) {
	s := &fakeScanner{script: func(n int) (*scanning.ScanResult, error) {
		if n == 3 {
			return routeResult("ok", true, 1, "10.0.0.9"), nil
		}
		err := errors.ErrScanTimeout("10.0.0.9", time.Second)
		return nil, err
	}}

	var sustained int
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{
		OnSustainedFailure: func(int) error { sustained++; return nil },
	})
	for i := 0; i < 5; i++ {
		m.tick()
	}

	assert.Equal(t, 2, m.Snapshot().Counters.ConsecutiveFailures)
	assert.Equal(t, 0, sustained)
}

func TestMonitor_HookFailuresAreContained(t *testing.T) {
	s := &fakeScanner{}
	calls := 0
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{
		OnScanComplete: func(*scanning.ScanResult) error {
			calls++
			if calls == 1 {
				panic("boom")
			}
			return stderrors.New("hook error")
		},
	})

	assert.NotPanics(t, func() {
		m.tick()
		m.tick()
	})
	assert.Equal(t, 2, calls)
	assert.Len(t, m.Snapshot().Entries, 2)
}

func TestMonitor_HistoryCap(t *testing.T) {
	s := &fakeScanner{}
	cfg := testConfig(time.Hour)
	cfg.MaxHistory = 3
	m := newTestMonitor(t, s, cfg, Hooks{})

	for i := 0; i < 5; i++ {
		m.tick()
	}

	snap := m.Snapshot()
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, "3", snap.Entries[0].Result.ID)
	assert.Equal(t, "5", snap.Entries[2].Result.ID)
	assert.Equal(t, 5, snap.Counters.TotalScans)
}

func TestMonitor_DropsOverlappingTicks(t *testing.T) {
	s := &fakeScanner{delay: 80 * time.Millisecond}
	m := newTestMonitor(t, s, testConfig(10*time.Millisecond), Hooks{})

	require.NoError(t, m.Start())
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, m.Stop(context.Background(), true))

	_, active, peak := s.stats()
	assert.Equal(t, 1, peak, "never more than one scan per key")
	assert.Equal(t, 0, active)

	snap := m.Snapshot()
	assert.Positive(t, snap.Counters.DroppedTicks)
	assert.Positive(t, snap.Counters.TotalScans)
	for i := 1; i < len(snap.Entries); i++ {
		assert.False(t, snap.Entries[i].CompletedAt.Before(snap.Entries[i-1].CompletedAt))
	}
}

func TestMonitor_BusyScannerDropsTick(t *testing.T) {
	s := &fakeScanner{script: func(int) (*scanning.ScanResult, error) {
		return nil, errors.ErrBusy("10.0.0.9:80/tcp")
	}}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	m.tick()

	snap := m.Snapshot()
	assert.Empty(t, snap.Entries)
	assert.Equal(t, 1, snap.Counters.DroppedTicks)
	assert.Equal(t, StateIdle, snap.State)
}

func TestMonitor_StopWaitRecordsInFlight(t *testing.T) {
	s := &fakeScanner{delay: 150 * time.Millisecond}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool {
		_, active, _ := s.stats()
		return active == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background(), true))

	snap := m.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.False(t, snap.Entries[0].Failed())
	assert.Equal(t, StateStopped, snap.State)
}

func TestMonitor_ForcedStopDiscardsInFlight(t *testing.T) {
	s := &fakeScanner{delay: 10 * time.Second}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool {
		_, active, _ := s.stats()
		return active == 1
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop(context.Background(), false))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Empty(t, m.Snapshot().Entries)
}

func TestMonitor_StopDeadlineForcesStop(t *testing.T) {
	s := &fakeScanner{delay: 10 * time.Second}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool {
		_, active, _ := s.stats()
		return active == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Stop(ctx, true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.Snapshot().Entries)
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	s := &fakeScanner{}
	m := newTestMonitor(t, s, testConfig(time.Hour), Hooks{})

	require.NoError(t, m.Stop(context.Background(), true))
	require.NoError(t, m.Stop(context.Background(), true))
	require.NoError(t, m.Stop(context.Background(), false))
	assert.Equal(t, StateStopped, m.State())

	assert.Error(t, m.Start(), "a stopped monitor cannot restart")

	m.tick()
	calls, _, _ := s.stats()
	assert.Equal(t, 0, calls, "no scans after stop")
}

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newIntervalSchedule(250 * time.Millisecond)

	assert.Equal(t, base, s.Next(base))
	assert.Equal(t, base.Add(250*time.Millisecond), s.Next(base))
}
