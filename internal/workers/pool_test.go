package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func collect(t *testing.T, pool *Pool, n int) map[string]Result {
	t.Helper()
	results := make(map[string]Result, n)
	timeout := time.After(5 * time.Second)
	for len(results) < n {
		select {
		case r, ok := <-pool.Results():
			require.True(t, ok, "results channel closed early")
			results[r.JobID] = r
		case <-timeout:
			t.Fatalf("received %d of %d results", len(results), n)
		}
	}
	return results
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		config := Config{Size: 5, QueueSize: 100, ShutdownTimeout: 10 * time.Second, RateLimit: 10}

		pool := New(config)

		assert.Equal(t, config.QueueSize, cap(pool.jobs))
		assert.Equal(t, config.QueueSize, cap(pool.results))
		assert.NotNil(t, pool.rateLimiter)
	})

	t.Run("normalizes zero values", func(t *testing.T) {
		pool := New(Config{})

		assert.Equal(t, 1, pool.config.Size)
		assert.Equal(t, 1, pool.config.QueueSize)
		assert.Equal(t, DefaultConfig().ShutdownTimeout, pool.config.ShutdownTimeout)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("every job yields one result", func(t *testing.T) {
		pool := New(Config{Size: 3, QueueSize: 10, ShutdownTimeout: 2 * time.Second})
		pool.Start()

		for i := 0; i < 10; i++ {
			require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("job-%d", i), "test", 5*time.Millisecond, nil)))
		}

		results := collect(t, pool, 10)
		require.NoError(t, pool.Shutdown())

		assert.Len(t, results, 10)
		for id, r := range results {
			assert.NoError(t, r.Error, id)
			assert.Equal(t, "test", r.JobType)
		}

		_, ok := <-pool.Results()
		assert.False(t, ok, "results channel should be closed after shutdown")
	})

	t.Run("shutdown is idempotent and rejects new work", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()
		pool.Start()

		require.NoError(t, pool.Shutdown())
		require.NoError(t, pool.Shutdown())

		assert.Error(t, pool.Submit(NewMockJob("late", "test", 0, nil)))
		assert.Error(t, pool.SubmitWait(context.Background(), NewMockJob("late", "test", 0, nil)))
	})

	t.Run("queued jobs finish before shutdown returns", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 5, ShutdownTimeout: 2 * time.Second})
		pool.Start()

		jobs := make([]*MockJob, 5)
		for i := range jobs {
			jobs[i] = NewMockJob(fmt.Sprintf("q-%d", i), "test", 5*time.Millisecond, nil)
			require.NoError(t, pool.Submit(jobs[i]))
		}
		require.NoError(t, pool.Shutdown())

		for i, job := range jobs {
			assert.Equal(t, int32(1), job.ExecutedCount(), "job %d", i)
		}
	})

	t.Run("forced shutdown cancels running jobs", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: 50 * time.Millisecond})
		pool.Start()

		require.NoError(t, pool.Submit(NewMockJob("slow", "test", 10*time.Second, nil)))
		time.Sleep(10 * time.Millisecond)

		start := time.Now()
		require.NoError(t, pool.Shutdown())
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestSubmitQueueFull(t *testing.T) {
	pool := New(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
	// Not started: the queue cannot drain.
	require.NoError(t, pool.Submit(NewMockJob("a", "test", 0, nil)))
	assert.Error(t, pool.Submit(NewMockJob("b", "test", 0, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.SubmitWait(ctx, NewMockJob("c", "test", 0, nil)), context.DeadlineExceeded)

	go func() {
		for range pool.Results() {
		}
	}()
	require.NoError(t, pool.Shutdown())
}

func TestSubmitWaitBeyondQueue(t *testing.T) {
	pool := New(Config{Size: 2, QueueSize: 2, ShutdownTimeout: 2 * time.Second})
	pool.Start()

	const n = 12
	go func() {
		for i := 0; i < n; i++ {
			_ = pool.SubmitWait(context.Background(), NewMockJob(fmt.Sprintf("w-%d", i), "test", time.Millisecond, nil))
		}
	}()

	results := collect(t, pool, n)
	assert.Len(t, results, n)
	require.NoError(t, pool.Shutdown())
}

func TestRetries(t *testing.T) {
	t.Run("retries failed jobs up to the limit", func(t *testing.T) {
		pool := New(Config{Size: 1, QueueSize: 1, MaxRetries: 2, RetryDelay: time.Millisecond, ShutdownTimeout: time.Second})
		pool.Start()

		job := NewMockJob("failing", "test", 0, errors.New("job failed"))
		require.NoError(t, pool.Submit(job))

		r := collect(t, pool, 1)["failing"]
		require.NoError(t, pool.Shutdown())

		assert.Error(t, r.Error)
		assert.Equal(t, 2, r.Retries)
		assert.Equal(t, int32(3), job.ExecutedCount())
	})

	t.Run("RetryIf restricts which errors are retried", func(t *testing.T) {
		permanent := errors.New("permanent")
		pool := New(Config{
			Size:            1,
			QueueSize:       1,
			MaxRetries:      5,
			RetryDelay:      time.Millisecond,
			RetryIf:         func(err error) bool { return !errors.Is(err, permanent) },
			ShutdownTimeout: time.Second,
		})
		pool.Start()

		job := NewMockJob("permanent", "test", 0, permanent)
		require.NoError(t, pool.Submit(job))

		r := collect(t, pool, 1)["permanent"]
		require.NoError(t, pool.Shutdown())

		assert.ErrorIs(t, r.Error, permanent)
		assert.Equal(t, int32(1), job.ExecutedCount())
	})
}

func TestConcurrentJobProcessing(t *testing.T) {
	pool := New(Config{Size: 5, QueueSize: 20, ShutdownTimeout: 3 * time.Second})
	pool.Start()

	var running, peak int32
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(NewFuncJob(fmt.Sprintf("c-%d", i), "concurrent", func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})))
	}

	collect(t, pool, 20)
	require.NoError(t, pool.Shutdown())

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(5), "never more jobs than workers")
	assert.Less(t, time.Since(start), 20*30*time.Millisecond, "jobs should overlap")
}

func TestFuncJob(t *testing.T) {
	called := false
	job := NewFuncJob("id-1", "trace", func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "id-1", job.ID())
	assert.Equal(t, "trace", job.Type())
	require.NoError(t, job.Execute(context.Background()))
	assert.True(t, called)
}
