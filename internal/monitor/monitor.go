// Package monitor repeats traceroutes for one (target, port, protocol) key on
// a fixed interval and folds every result into a bounded history.
package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/metrics"
	"github.com/anstrom/tracerama/internal/scanning"
)

const (
	// DefaultInterval between ticks.
	DefaultInterval = 10 * time.Second

	// DefaultFailureThreshold is the number of consecutive failed ticks that
	// raises OnSustainedFailure.
	DefaultFailureThreshold = 3
)

// State of a monitor.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateStopped  State = "stopped"
)

// Scanner is the part of scanning.Scanner a monitor needs. It must reject
// a request whose key is already in flight with a BUSY error.
type Scanner interface {
	TryScan(ctx context.Context, req scanning.Request) (*scanning.ScanResult, error)
}

// Hooks are called synchronously on the tick goroutine. Errors and panics
// are logged and never stop the monitor.
type Hooks struct {
	OnScanComplete        func(result *scanning.ScanResult) error
	OnReachabilityChanged func(reached bool) error
	OnSustainedFailure    func(consecutive int) error
}

// Config controls tick scheduling and history size.
type Config struct {
	Interval         time.Duration `yaml:"interval" json:"interval" mapstructure:"interval" validate:"gt=0"`
	MaxHistory       int           `yaml:"max_history" json:"max_history" mapstructure:"max_history" validate:"gte=0"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:         DefaultInterval,
		MaxHistory:       DefaultMaxHistory,
		FailureThreshold: DefaultFailureThreshold,
	}
}

var validate = validator.New()

// Counters are lifetime figures that survive history eviction.
type Counters struct {
	TotalScans          int               `json:"total_scans" yaml:"total_scans"`
	SuccessfulScans     int               `json:"successful_scans" yaml:"successful_scans"`
	FailedScans         int               `json:"failed_scans" yaml:"failed_scans"`
	DroppedTicks        int               `json:"dropped_ticks" yaml:"dropped_ticks"`
	ConsecutiveFailures int               `json:"consecutive_failures" yaml:"consecutive_failures"`
	AverageResponse     scanning.RTTValue `json:"average_response_ms" yaml:"average_response_ms" swaggertype:"number"`
	MinResponse         scanning.RTTValue `json:"min_response_ms" yaml:"min_response_ms" swaggertype:"number"`
	MaxResponse         scanning.RTTValue `json:"max_response_ms" yaml:"max_response_ms" swaggertype:"number"`
	LastScanAt          time.Time         `json:"last_scan_at,omitempty" yaml:"last_scan_at,omitempty"`

	responseSamples int
}

// SuccessRate is the share of ticks that reached the target.
func (c Counters) SuccessRate() float64 {
	if c.TotalScans == 0 {
		return 0
	}
	return float64(c.SuccessfulScans) / float64(c.TotalScans)
}

func (c *Counters) observe(e Entry) {
	c.TotalScans++
	c.LastScanAt = e.CompletedAt

	if e.Failed() {
		c.ConsecutiveFailures++
	} else {
		c.ConsecutiveFailures = 0
	}

	if !e.Reached() {
		c.FailedScans++
		return
	}
	c.SuccessfulScans++

	avg := e.Stats.AverageRTT
	if !avg.Valid {
		return
	}
	c.responseSamples++
	prev := 0.0
	if c.AverageResponse.Valid {
		prev = c.AverageResponse.Ms
	}
	c.AverageResponse = scanning.SomeRTT(prev + (avg.Ms-prev)/float64(c.responseSamples))
	if !c.MinResponse.Valid || avg.Ms < c.MinResponse.Ms {
		c.MinResponse = avg
	}
	if !c.MaxResponse.Valid || avg.Ms > c.MaxResponse.Ms {
		c.MaxResponse = avg
	}
}

// Snapshot is a point-in-time copy of a monitor for reporting.
type Snapshot struct {
	Key       scanning.Key  `json:"key" yaml:"key"`
	State     State         `json:"state" yaml:"state"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	Capacity  int           `json:"capacity" yaml:"capacity"`
	StartedAt time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Counters  Counters      `json:"counters" yaml:"counters"`
	Rolling   RollingStats  `json:"rolling" yaml:"rolling"`
	Entries   []Entry       `json:"entries" yaml:"entries"`
}

// Latest returns the newest entry of the snapshot.
func (s Snapshot) Latest() (Entry, bool) {
	if len(s.Entries) == 0 {
		return Entry{}, false
	}
	return s.Entries[len(s.Entries)-1], true
}

// Monitor runs ticks for one key. Ticks never overlap: a tick that fires
// while the previous scan is running is dropped.
type Monitor struct {
	req     scanning.Request
	key     string
	cfg     Config
	scanner Scanner
	hooks   Hooks

	cron  *cron.Cron
	ctx   context.Context
	abort context.CancelFunc

	busy     atomic.Bool
	mu       sync.Mutex
	state    State
	started  bool
	forced   bool
	startAt  time.Time
	history  *History
	counters Counters

	metrics *metrics.PrometheusMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithHooks sets the tick hooks.
func WithHooks(h Hooks) Option {
	return func(m *Monitor) {
		m.hooks = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a monitor for req. It does not start ticking until Start.
func New(scanner Scanner, req scanning.Request, cfg Config, opts ...Option) (*Monitor, error) {
	if scanner == nil {
		return nil, errors.NewScanError(errors.CodeConfiguration, "monitor requires a scanner")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation, "invalid monitor configuration", err)
	}
	if err := scanning.ValidateRequest(req); err != nil {
		return nil, err
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		req:     req,
		key:     req.Key().String(),
		cfg:     cfg,
		scanner: scanner,
		ctx:     ctx,
		abort:   cancel,
		state:   StateIdle,
		history: NewHistory(cfg.MaxHistory),
		metrics: metrics.GetGlobalMetrics(),
		logger:  logging.Default().WithComponent("monitor"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{m.logger})))
	m.cron.Schedule(newIntervalSchedule(cfg.Interval), cron.FuncJob(m.tick))
	return m, nil
}

// Key returns the monitored key.
func (m *Monitor) Key() scanning.Key {
	return m.req.Key()
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins ticking. The first tick runs immediately.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == StateStopped:
		return errors.NewScanErrorWithTarget(errors.CodeValidation, "monitor is stopped", m.key)
	case m.started:
		return nil
	}
	m.started = true
	m.startAt = m.now()
	m.cron.Start()
	m.metrics.AddActiveMonitors(1)

	m.logger.InfoMonitor("Monitor started", m.key, "interval", m.cfg.Interval, "max_history", m.cfg.MaxHistory)
	return nil
}

// Stop stops scheduling immediately. With wait the in-flight scan, if any,
// finishes and is recorded; otherwise it is canceled and its result is
// discarded. When ctx ends before a waited scan finishes the scan is
// canceled as if wait were false and ctx's error is returned. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop(ctx context.Context, wait bool) error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopped
	if !wait {
		m.forced = true
	}
	wasStarted := m.started
	m.mu.Unlock()

	jobs := m.cron.Stop()
	if !wait {
		m.abort()
	}

	var err error
	select {
	case <-jobs.Done():
	case <-ctx.Done():
		m.mu.Lock()
		m.forced = true
		m.mu.Unlock()
		m.abort()
		<-jobs.Done()
		err = ctx.Err()
	}
	m.abort()

	if wasStarted {
		m.metrics.AddActiveMonitors(-1)
	}
	m.logger.InfoMonitor("Monitor stopped", m.key, "forced", !wait || err != nil, "entries", m.historyLen())
	return err
}

func (m *Monitor) historyLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Len()
}

// Snapshot returns a copy of the history and statistics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Key:       m.req.Key(),
		State:     m.state,
		Interval:  m.cfg.Interval,
		Capacity:  m.history.Capacity(),
		StartedAt: m.startAt,
		Counters:  m.counters,
		Rolling:   m.history.Rolling(),
		Entries:   m.history.Entries(),
	}
}

// tick runs one scan and records it.
func (m *Monitor) tick() {
	if !m.busy.CompareAndSwap(false, true) {
		m.dropTick("previous scan still running")
		return
	}
	defer m.busy.Store(false)

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateScanning
	m.mu.Unlock()

	started := m.now()
	result, err := m.scanner.TryScan(m.ctx, m.req)
	elapsed := m.now().Sub(started)

	if errors.IsCode(err, errors.CodeBusy) {
		m.setIdle()
		m.dropTick("scan for this key already in flight")
		return
	}
	if result == nil {
		result = scanning.NewFailedResult(uuid.NewString(), m.req, started, elapsed, err)
	}
	if elapsed > m.cfg.Interval {
		m.logger.WarnMonitor("Scan took longer than the monitor interval", m.key,
			"duration", elapsed, "interval", m.cfg.Interval)
	}

	entry := Entry{
		Result:      result,
		Stats:       scanning.ComputeStatistics(result),
		CompletedAt: m.now(),
	}

	m.mu.Lock()
	if m.forced {
		m.mu.Unlock()
		m.logger.InfoMonitor("Discarding scan after forced stop", m.key)
		return
	}
	outcome := m.history.Append(entry)
	m.counters.observe(entry)
	consecutive := m.counters.ConsecutiveFailures
	if m.state != StateStopped {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.metrics.RecordMonitorTick(m.key, !entry.Failed(), consecutive)
	if entry.Failed() {
		m.logger.ErrorMonitor("Monitor tick failed", m.key, err, "consecutive_failures", consecutive)
	} else {
		m.logger.Debug("Monitor tick completed", "monitor", m.key,
			"reached", entry.Reached(), "hops", entry.Stats.TotalHops)
	}

	m.runHook("on_scan_complete", func() error {
		if m.hooks.OnScanComplete == nil {
			return nil
		}
		return m.hooks.OnScanComplete(result)
	})

	if outcome.ReachabilityChanged {
		m.metrics.IncrementReachabilityTransitions(m.key)
		m.logger.InfoMonitor("Reachability changed", m.key, "reached", entry.Reached())
		m.runHook("on_reachability_changed", func() error {
			if m.hooks.OnReachabilityChanged == nil {
				return nil
			}
			return m.hooks.OnReachabilityChanged(entry.Reached())
		})
	}
	if outcome.RouteChanged {
		m.logger.InfoMonitor("Route changed", m.key, "hops", entry.Stats.TotalHops)
	}

	if consecutive == m.cfg.FailureThreshold {
		m.logger.WarnMonitor("Sustained scan failure", m.key, "consecutive_failures", consecutive)
		m.runHook("on_sustained_failure", func() error {
			if m.hooks.OnSustainedFailure == nil {
				return nil
			}
			return m.hooks.OnSustainedFailure(consecutive)
		})
	}
}

func (m *Monitor) setIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped {
		m.state = StateIdle
	}
}

func (m *Monitor) dropTick(reason string) {
	m.mu.Lock()
	m.counters.DroppedTicks++
	m.mu.Unlock()

	m.metrics.IncrementDroppedTicks(m.key)
	m.logger.WarnMonitor("Dropped monitor tick", m.key, "reason", reason)
}

// runHook invokes fn, converting a panic into a logged error.
func (m *Monitor) runHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorMonitor("Monitor hook panicked", m.key, fmt.Errorf("%v", r),
				"hook", name, "stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		m.logger.ErrorMonitor("Monitor hook failed", m.key, err, "hook", name)
	}
}

// intervalSchedule fires immediately on start and then every d. Unlike
// cron.Every it keeps sub-second precision.
type intervalSchedule struct {
	d     time.Duration
	fired atomic.Bool
}

func newIntervalSchedule(d time.Duration) *intervalSchedule {
	return &intervalSchedule{d: d}
}

// Next implements cron.Schedule.
func (s *intervalSchedule) Next(t time.Time) time.Time {
	if s.fired.CompareAndSwap(false, true) {
		return t
	}
	return t.Add(s.d)
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
