// Package metrics provides Prometheus-based metrics collection for tracerama.
// Collectors cover scan invocations, monitor loops, the batch worker pool,
// the status API and the result store.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "tracerama"

	subsystemScan     = "scan"
	subsystemMonitor  = "monitor"
	subsystemWorkers  = "workers"
	subsystemDatabase = "database"
	subsystemAPI      = "api"
	subsystemSystem   = "system"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PrometheusMetrics holds all Prometheus metric collectors.
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec
	hopsPerScan  *prometheus.HistogramVec
	activeScans  prometheus.Gauge

	// Monitor metrics
	monitorTicks        *prometheus.CounterVec
	monitorDroppedTicks *prometheus.CounterVec
	monitorTransitions  *prometheus.CounterVec
	monitorFailures     *prometheus.GaugeVec
	activeMonitors      prometheus.Gauge

	// Worker pool metrics
	jobsSubmitted *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	poolSize      prometheus.Gauge

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  prometheus.NewRegistry(),
	}

	pm.initScanMetrics()
	pm.initMonitorMetrics()
	pm.initWorkerMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registry.MustRegister(
		pm.scansTotal, pm.scanDuration, pm.scanErrors, pm.hopsPerScan, pm.activeScans,
		pm.monitorTicks, pm.monitorDroppedTicks, pm.monitorTransitions, pm.monitorFailures, pm.activeMonitors,
		pm.jobsSubmitted, pm.jobsCompleted, pm.jobDuration, pm.poolSize,
		pm.dbQueries, pm.dbQueryDuration,
		pm.httpRequests, pm.httpDuration,
		pm.goroutines, pm.uptime,
	)
	pm.registry.MustRegister(collectors.NewGoCollector())
	pm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of traceroute scans by protocol and status",
		},
		[]string{"protocol", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scanner invocations in seconds",
			Buckets:   []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 30.0, 60.0, 120.0},
		},
		[]string{"protocol"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of failed scans by protocol and error code",
		},
		[]string{"protocol", "code"},
	)

	pm.hopsPerScan = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hops",
			Help:      "Number of hops reported per scan",
			Buckets:   prometheus.LinearBuckets(0, 4, 9),
		},
		[]string{"protocol", "reached"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of scanner processes currently running",
		},
	)
}

func (pm *PrometheusMetrics) initMonitorMetrics() {
	pm.monitorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "ticks_total",
			Help:      "Completed monitor ticks by key and status",
		},
		[]string{"key", "status"},
	)

	pm.monitorDroppedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "dropped_ticks_total",
			Help:      "Ticks skipped because the previous scan was still running",
		},
		[]string{"key"},
	)

	pm.monitorTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "reachability_transitions_total",
			Help:      "Number of times target reachability flipped",
		},
		[]string{"key"},
	)

	pm.monitorFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "consecutive_failures",
			Help:      "Current run of consecutive failed scans",
		},
		[]string{"key"},
	)

	pm.activeMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemMonitor,
			Name:      "active",
			Help:      "Number of running monitors",
		},
	)
}

func (pm *PrometheusMetrics) initWorkerMetrics() {
	pm.jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the worker pool",
		},
		[]string{"job_type"},
	)

	pm.jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_completed_total",
			Help:      "Jobs finished by the worker pool by status",
		},
		[]string{"job_type", "status"},
	)

	pm.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_duration_seconds",
			Help:      "Duration of pool jobs in seconds including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	pm.poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "pool_size",
			Help:      "Number of worker goroutines",
		},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"method", "path"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry for the HTTP handler.
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// RecordScan records the outcome of one scan. code is empty on success.
func (pm *PrometheusMetrics) RecordScan(protocol, code string, duration time.Duration, hops int, reached bool) {
	status := StatusSuccess
	if code != "" {
		status = StatusError
		pm.scanErrors.WithLabelValues(protocol, code).Inc()
	} else {
		reachedLabel := "false"
		if reached {
			reachedLabel = "true"
		}
		pm.hopsPerScan.WithLabelValues(protocol, reachedLabel).Observe(float64(hops))
	}
	pm.scansTotal.WithLabelValues(protocol, status).Inc()
	pm.scanDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// SetActiveScans sets the number of running scanner processes.
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// RecordMonitorTick records a completed monitor tick.
func (pm *PrometheusMetrics) RecordMonitorTick(key string, success bool, consecutiveFailures int) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	pm.monitorTicks.WithLabelValues(key, status).Inc()
	pm.monitorFailures.WithLabelValues(key).Set(float64(consecutiveFailures))
}

// IncrementDroppedTicks counts a tick skipped because a scan was in flight.
func (pm *PrometheusMetrics) IncrementDroppedTicks(key string) {
	pm.monitorDroppedTicks.WithLabelValues(key).Inc()
}

// IncrementReachabilityTransitions counts a reachability flip.
func (pm *PrometheusMetrics) IncrementReachabilityTransitions(key string) {
	pm.monitorTransitions.WithLabelValues(key).Inc()
}

// AddActiveMonitors adjusts the running monitor gauge by delta.
func (pm *PrometheusMetrics) AddActiveMonitors(delta int) {
	pm.activeMonitors.Add(float64(delta))
}

// IncrementJobsSubmitted counts a job accepted by the pool.
func (pm *PrometheusMetrics) IncrementJobsSubmitted(jobType string) {
	pm.jobsSubmitted.WithLabelValues(jobType).Inc()
}

// RecordJob records a finished pool job.
func (pm *PrometheusMetrics) RecordJob(jobType string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	pm.jobsCompleted.WithLabelValues(jobType, status).Inc()
	pm.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetPoolSize sets the worker pool size gauge.
func (pm *PrometheusMetrics) SetPoolSize(size int) {
	pm.poolSize.Set(float64(size))
}

// RecordDatabaseQuery records database query metrics.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an API request.
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates system metrics with current values.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime.
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last system metrics update time.
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance.
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
