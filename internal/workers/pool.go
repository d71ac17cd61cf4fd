// Package workers provides the bounded worker pool used for batch traceroutes.
// It supports job queuing, opt-in retries, rate limiting and graceful
// shutdown, and reports through the structured logging and metrics systems.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// RetryIf decides whether a failed attempt is retried. Nil retries every error.
	RetryIf func(error) bool
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            4,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
// Every accepted job produces exactly one Result unless the pool is forced
// down by ShutdownTimeout.
type Pool struct {
	config      Config
	jobs        chan Job
	results     chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	rateLimiter *time.Ticker
	startOnce   sync.Once
	closed      atomic.Bool
	submitMu    sync.RWMutex
	metrics     *metrics.PrometheusMetrics
	logger      *logging.Logger
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Size
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.GetGlobalMetrics(),
		logger:  logging.Default().WithComponent("workers"),
	}

	if config.RateLimit > 0 {
		pool.rateLimiter = time.NewTicker(time.Second / time.Duration(config.RateLimit))
	}

	return pool
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}

		p.metrics.SetPoolSize(p.config.Size)
	})
}

// Submit queues a job without blocking. It fails when the queue is full.
func (p *Pool) Submit(job Job) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return fmt.Errorf("worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		p.accepted(job)
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// SubmitWait queues a job, blocking until there is room or ctx is done.
// Callers must drain Results concurrently when submitting more jobs than
// QueueSize.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return fmt.Errorf("worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		p.accepted(job)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

func (p *Pool) accepted(job Job) {
	p.logger.Debug("Job submitted to worker pool", "job_id", job.ID(), "job_type", job.Type())
	p.metrics.IncrementJobsSubmitted(job.Type())
}

// Results returns the channel of job results. It is closed by Shutdown.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown stops accepting jobs, lets queued jobs finish and closes Results.
// Workers still running after ShutdownTimeout have their context canceled.
func (p *Pool) Shutdown() error {
	p.submitMu.Lock()
	if p.closed.Swap(true) {
		p.submitMu.Unlock()
		return nil
	}
	close(p.jobs)
	p.submitMu.Unlock()

	// A pool that was never started still has to drain.
	p.Start()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("Worker pool shutdown completed")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout, canceling running jobs")
		p.cancel()
		<-done
	}

	p.cancel()
	close(p.results)

	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}

	return nil
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.send(p.execute(id, job))
	}
}

func (p *Pool) send(result Result) {
	select {
	case p.results <- result:
	case <-p.ctx.Done():
		p.logger.Warn("Dropping job result after forced shutdown", "job_id", result.JobID)
	}
}

// execute runs a single job with the configured retry policy.
func (p *Pool) execute(workerID int, job Job) Result {
	start := time.Now()
	result := Result{JobID: job.ID(), JobType: job.Type()}

	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			result.Error = p.ctx.Err()
			return result
		}
	}

	for attempt := 0; ; attempt++ {
		result.Retries = attempt
		result.Error = job.Execute(p.ctx)
		if result.Error == nil || attempt >= p.config.MaxRetries || !p.shouldRetry(result.Error) {
			break
		}

		p.logger.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"attempt", attempt+1,
			"max_retries", p.config.MaxRetries,
			"error", result.Error)

		select {
		case <-time.After(p.config.RetryDelay):
		case <-p.ctx.Done():
			result.Duration = time.Since(start)
			return result
		}
	}

	result.Duration = time.Since(start)
	p.metrics.RecordJob(job.Type(), result.Duration, result.Error == nil)

	if result.Error != nil {
		p.logger.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"retries", result.Retries,
			"worker_id", workerID,
			"error", result.Error)
	}

	return result
}

func (p *Pool) shouldRetry(err error) bool {
	if p.config.RetryIf == nil {
		return true
	}
	return p.config.RetryIf(err)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
