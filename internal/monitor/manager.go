package monitor

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/scanning"
)

// HookFactory builds the hooks for a newly registered key.
type HookFactory func(key scanning.Key) Hooks

// ChainHooks runs every set of hooks in order. All hooks run even when an
// earlier one fails; their errors are joined.
func ChainHooks(sets ...Hooks) Hooks {
	return Hooks{
		OnScanComplete: func(r *scanning.ScanResult) error {
			var errs []error
			for _, h := range sets {
				if h.OnScanComplete != nil {
					errs = append(errs, h.OnScanComplete(r))
				}
			}
			return stderrors.Join(errs...)
		},
		OnReachabilityChanged: func(reached bool) error {
			var errs []error
			for _, h := range sets {
				if h.OnReachabilityChanged != nil {
					errs = append(errs, h.OnReachabilityChanged(reached))
				}
			}
			return stderrors.Join(errs...)
		},
		OnSustainedFailure: func(consecutive int) error {
			var errs []error
			for _, h := range sets {
				if h.OnSustainedFailure != nil {
					errs = append(errs, h.OnSustainedFailure(consecutive))
				}
			}
			return stderrors.Join(errs...)
		},
	}
}

// ChainFactories combines factories with ChainHooks. Nil factories are
// skipped.
func ChainFactories(factories ...HookFactory) HookFactory {
	return func(key scanning.Key) Hooks {
		sets := make([]Hooks, 0, len(factories))
		for _, f := range factories {
			if f != nil {
				sets = append(sets, f(key))
			}
		}
		return ChainHooks(sets...)
	}
}

// Manager owns one Monitor per key.
type Manager struct {
	scanner  Scanner
	cfg      Config
	hooksFor HookFactory
	monitors map[string]*Monitor
	mu       sync.RWMutex
	logger   *logging.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHookFactory attaches hooks to every monitor the manager creates.
func WithHookFactory(f HookFactory) ManagerOption {
	return func(m *Manager) {
		m.hooksFor = f
	}
}

// WithManagerLogger sets the logger handed to monitors.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager whose monitors share scanner and cfg.
func NewManager(scanner Scanner, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		scanner:  scanner,
		cfg:      cfg,
		monitors: make(map[string]*Monitor),
		logger:   logging.Default().WithComponent("monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers and starts a monitor for req. A key can only be registered
// once; a second Add fails with BUSY.
func (m *Manager) Add(req scanning.Request) (*Monitor, error) {
	key := req.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.monitors[key.String()]; exists {
		return nil, errors.NewScanErrorWithTarget(errors.CodeBusy, "key is already monitored", key.String())
	}

	opts := []Option{WithLogger(m.logger)}
	if m.hooksFor != nil {
		opts = append(opts, WithHooks(m.hooksFor(key)))
	}
	mon, err := New(m.scanner, req, m.cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := mon.Start(); err != nil {
		return nil, err
	}
	m.monitors[key.String()] = mon
	return mon, nil
}

// Get returns the monitor for key.
func (m *Manager) Get(key scanning.Key) (*Monitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mon, ok := m.monitors[key.String()]
	return mon, ok
}

// Remove stops and forgets the monitor for key. Unknown keys are ignored.
func (m *Manager) Remove(ctx context.Context, key scanning.Key, wait bool) error {
	m.mu.Lock()
	mon, ok := m.monitors[key.String()]
	delete(m.monitors, key.String())
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return mon.Stop(ctx, wait)
}

// Len returns the number of registered monitors.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.monitors)
}

// Snapshots returns a snapshot of every monitor ordered by key.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	mons := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mons = append(mons, mon)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(mons))
	for _, mon := range mons {
		out = append(out, mon.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// StopAll stops every monitor concurrently. Monitors stay registered so
// their final snapshots remain available.
func (m *Manager) StopAll(ctx context.Context, wait bool) error {
	m.mu.RLock()
	mons := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		mons = append(mons, mon)
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, mon := range mons {
		wg.Add(1)
		go func(mon *Monitor) {
			defer wg.Done()
			if err := mon.Stop(ctx, wait); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(mon)
	}
	wg.Wait()
	return stderrors.Join(errs...)
}
