package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/metrics"
	"github.com/anstrom/tracerama/internal/workers"
)

//go:generate mockgen -destination=mocks/mock_scanning.go -package=mocks github.com/anstrom/tracerama/internal/scanning Runner,HostResolver

const (
	// DefaultMaxConcurrentScans bounds scanner processes across all callers.
	DefaultMaxConcurrentScans = 8

	batchJobType = "traceroute"
)

// Scanner runs traceroutes. At most one scanner process runs per key: Scan
// joins an invocation already in flight for the same key, TryScan refuses
// with BUSY.
type Scanner struct {
	runner    Runner
	parser    *Parser
	resources ResourceManager
	resolver  HostResolver
	batch     workers.Config

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]int

	metrics *metrics.PrometheusMetrics
	logger  *logging.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRunner replaces the process invoker.
func WithRunner(r Runner) Option {
	return func(s *Scanner) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithParser replaces the output parser.
func WithParser(p *Parser) Option {
	return func(s *Scanner) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithResourceManager replaces the process slot limiter.
func WithResourceManager(rm ResourceManager) Option {
	return func(s *Scanner) {
		if rm != nil {
			s.resources = rm
		}
	}
}

// WithResolver enables hostname lookup for hops reported without a name.
func WithResolver(r HostResolver) Option {
	return func(s *Scanner) {
		s.resolver = r
	}
}

// WithBatchConfig sets the worker pool used by ScanBatch.
func WithBatchConfig(cfg workers.Config) Option {
	return func(s *Scanner) {
		s.batch = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner backed by the nmap invoker.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		parser:   defaultParser,
		batch:    workers.DefaultConfig(),
		inflight: make(map[string]int),
		metrics:  metrics.GetGlobalMetrics(),
		logger:   logging.Default().WithComponent("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = NewInvoker(WithInvokerLogger(s.logger))
	}
	if s.resources == nil {
		s.resources = NewFixedResourceManager(DefaultMaxConcurrentScans)
	}
	return s
}

// Scan runs one traceroute. When a scan for the same key is already running
// the call waits for it and returns its result. Joined callers share the
// context of the caller that started the scan.
//
// Failures after validation return both a failed ScanResult and the typed
// error.
func (s *Scanner) Scan(ctx context.Context, req Request) (*ScanResult, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	key := req.Key().String()

	s.mu.Lock()
	s.inflight[key]++
	s.mu.Unlock()
	defer s.leave(key)

	return s.do(ctx, key, req)
}

// TryScan is Scan without joining: it fails with BUSY when a scan for the
// same key is in flight.
func (s *Scanner) TryScan(ctx context.Context, req Request) (*ScanResult, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	key := req.Key().String()

	s.mu.Lock()
	if s.inflight[key] > 0 {
		s.mu.Unlock()
		return nil, errors.ErrBusy(key)
	}
	s.inflight[key]++
	s.mu.Unlock()
	defer s.leave(key)

	return s.do(ctx, key, req)
}

// InFlight reports whether a scan for key is running.
func (s *Scanner) InFlight(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[key.String()] > 0
}

func (s *Scanner) leave(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key]--; s.inflight[key] <= 0 {
		delete(s.inflight, key)
	}
}

func (s *Scanner) do(ctx context.Context, key string, req Request) (*ScanResult, error) {
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.execute(ctx, key, req)
	})
	if shared {
		s.logger.Debug("Joined in-flight scan", "key", key)
	}
	result, _ := v.(*ScanResult)
	return result, err
}

func (s *Scanner) execute(ctx context.Context, key string, req Request) (*ScanResult, error) {
	start := time.Now()

	if err := s.resources.Acquire(ctx, key); err != nil {
		return s.fail(req, start, err)
	}
	defer s.resources.Release(key)

	s.logger.InfoScan("Starting traceroute", req.Target,
		"port", req.Port,
		"protocol", req.Protocol,
		"max_hops", req.MaxHops)

	out, err := s.runner.Run(ctx, req)
	if err != nil {
		return s.fail(req, start, err)
	}

	result, err := s.parser.Parse(out, req)
	if err != nil {
		return s.fail(req, start, err)
	}
	if result.Duration == 0 {
		result.StartedAt = start
		result.Duration = time.Since(start)
	}

	if s.resolver != nil && len(result.Hops) > 0 {
		result = result.WithHostnames(s.resolver.LookupAddrs(ctx, result.HopAddresses()))
	}

	s.metrics.RecordScan(string(req.Protocol), "", result.Duration, len(result.Hops), result.TargetReached)
	s.logger.WithScanID(result.ID).InfoScan("Traceroute completed", req.Target,
		"hops", len(result.Hops),
		"reached", result.TargetReached,
		"duration", result.Duration)
	return result, nil
}

func (s *Scanner) fail(req Request, start time.Time, err error) (*ScanResult, error) {
	result := NewFailedResult(s.parser.NewID(), req, start, time.Since(start), err)
	s.metrics.RecordScan(string(req.Protocol), string(result.Failure), result.Duration, 0, false)
	s.logger.ErrorScan("Traceroute failed", req.Target, err,
		"port", req.Port,
		"protocol", req.Protocol,
		"code", result.Failure)
	return result, err
}

// ScanBatch traces every request through a bounded worker pool. The returned
// slice is index-aligned with reqs; a failed target yields a failed result and
// never affects the others. Timeouts are retried when the batch config allows
// retries.
func (s *Scanner) ScanBatch(ctx context.Context, reqs []Request) []*ScanResult {
	results := make([]*ScanResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	cfg := s.batch
	cfg.RetryIf = errors.IsRetryable
	pool := workers.New(cfg)
	pool.Start()

	// One Result arrives per accepted job.
	var pending sync.WaitGroup
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for r := range pool.Results() {
			pending.Done()
			if r.Error != nil {
				s.logger.Debug("Batch job finished with error", "job_id", r.JobID, "retries", r.Retries, "error", r.Error)
			}
		}
	}()

	for i := range reqs {
		i, req := i, reqs[i]
		job := workers.NewFuncJob(fmt.Sprintf("%d/%s", i, req.Key()), batchJobType, func(poolCtx context.Context) error {
			jobCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(poolCtx, cancel)
			defer stop()

			result, err := s.Scan(jobCtx, req)
			if result == nil {
				result = NewFailedResult(s.parser.NewID(), req, time.Now(), 0, err)
			}
			results[i] = result
			return err
		})

		pending.Add(1)
		if err := pool.SubmitWait(ctx, job); err != nil {
			pending.Done()
			results[i] = NewFailedResult(s.parser.NewID(), req, time.Now(), 0,
				errors.ErrScanCanceled(req.Target, err))
		}
	}

	pending.Wait()
	if err := pool.Shutdown(); err != nil {
		s.logger.Warn("Worker pool shutdown failed", "error", err)
	}
	<-drained

	for i, r := range results {
		if r == nil {
			results[i] = NewFailedResult(s.parser.NewID(), reqs[i], time.Now(), 0,
				errors.ErrScanCanceled(reqs[i].Target, ctx.Err()))
		}
	}

	stats := ComputeBatchStatistics(results)
	s.logger.Info("Batch traceroute completed",
		"targets", len(reqs),
		"reached", stats.ReachedResults,
		"failed", stats.FailedResults)
	return results
}

// Close releases the scanner's process slots.
func (s *Scanner) Close() error {
	return s.resources.Close()
}
