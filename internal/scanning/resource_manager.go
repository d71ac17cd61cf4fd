package scanning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/metrics"
)

// DefaultStaleAfter is how long a slot may be held before it is reported as
// stale.
const DefaultStaleAfter = 30 * time.Minute

// ResourceManager bounds how many scanner processes run at once.
type ResourceManager interface {
	// Acquire blocks until a slot is free for key or ctx is done.
	Acquire(ctx context.Context, key string) error

	// Release frees the slot held by key. Unknown keys are ignored.
	Release(key string)

	GetActiveScans() int
	GetAvailableSlots() int
	IsHealthy() bool
	Close() error
}

// FixedResourceManager hands out a fixed number of slots. Slots are keyed by
// scan key so a second Acquire for a key already holding a slot fails with
// BUSY instead of starting a duplicate process.
type FixedResourceManager struct {
	capacity   int
	staleAfter time.Duration
	semaphore  chan struct{}
	active     map[string]time.Time
	mutex      sync.RWMutex
	closed     bool
	metrics    *metrics.PrometheusMetrics
	now        func() time.Time
}

// NewFixedResourceManager creates a manager with capacity slots.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:   capacity,
		staleAfter: DefaultStaleAfter,
		semaphore:  make(chan struct{}, capacity),
		active:     make(map[string]time.Time),
		metrics:    metrics.GetGlobalMetrics(),
		now:        time.Now,
	}
}

// SetStaleAfter changes the age at which a held slot counts as stale.
func (rm *FixedResourceManager) SetStaleAfter(d time.Duration) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if d > 0 {
		rm.staleAfter = d
	}
}

// Acquire takes a slot for key.
func (rm *FixedResourceManager) Acquire(ctx context.Context, key string) error {
	rm.mutex.RLock()
	closed := rm.closed
	_, held := rm.active[key]
	rm.mutex.RUnlock()

	if closed {
		return errors.NewScanError(errors.CodeServiceUnavailable, "resource manager is closed")
	}
	if held {
		return errors.ErrBusy(key)
	}

	select {
	case rm.semaphore <- struct{}{}:
	case <-ctx.Done():
		return errors.ErrScanCanceled(key, ctx.Err())
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if rm.closed {
		<-rm.semaphore
		return errors.NewScanError(errors.CodeServiceUnavailable, "resource manager is closed")
	}
	if _, raced := rm.active[key]; raced {
		<-rm.semaphore
		return errors.ErrBusy(key)
	}
	rm.active[key] = rm.now()
	rm.metrics.SetActiveScans(len(rm.active))
	return nil
}

// Release frees the slot held by key.
func (rm *FixedResourceManager) Release(key string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.active[key]; !exists {
		return
	}
	delete(rm.active, key)
	select {
	case <-rm.semaphore:
	default:
	}
	rm.metrics.SetActiveScans(len(rm.active))
}

// GetActiveScans returns the number of held slots.
func (rm *FixedResourceManager) GetActiveScans() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.active)
}

// GetAvailableSlots returns the number of free slots.
func (rm *FixedResourceManager) GetAvailableSlots() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.capacity - len(rm.active)
}

// StaleKeys lists keys that have held a slot longer than the stale threshold.
func (rm *FixedResourceManager) StaleKeys() []string {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.staleKeysLocked()
}

func (rm *FixedResourceManager) staleKeysLocked() []string {
	now := rm.now()
	var keys []string
	for key, started := range rm.active {
		if now.Sub(started) > rm.staleAfter {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsHealthy is false once closed or while any slot is stale.
func (rm *FixedResourceManager) IsHealthy() bool {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.healthyLocked()
}

func (rm *FixedResourceManager) healthyLocked() bool {
	return !rm.closed && len(rm.staleKeysLocked()) == 0
}

// Close stops handing out slots. Held slots are forgotten.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		return nil
	}
	rm.closed = true
	rm.active = make(map[string]time.Time)
	rm.metrics.SetActiveScans(0)

	for {
		select {
		case <-rm.semaphore:
		default:
			return nil
		}
	}
}

// GetStats returns a snapshot for status endpoints.
func (rm *FixedResourceManager) GetStats() map[string]interface{} {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return map[string]interface{}{
		"capacity":        rm.capacity,
		"active_scans":    len(rm.active),
		"available_slots": rm.capacity - len(rm.active),
		"stale_scans":     len(rm.staleKeysLocked()),
		"is_healthy":      rm.healthyLocked(),
		"closed":          rm.closed,
	}
}
