package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "tracerama_system_uptime_seconds"),
		"expected uptime metric in output")
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordScan("tcp", "", 2*time.Second, 8, true)
	pm.RecordScan("tcp", "", time.Second, 30, false)
	pm.RecordScan("udp", "TIMEOUT", 30*time.Second, 0, false)

	assert.Equal(t, 2, testutil.CollectAndCount(pm.scansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.scansTotal.WithLabelValues("tcp", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.scanErrors.WithLabelValues("udp", "TIMEOUT")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.hopsPerScan), "failed scans should not observe hop counts")
	assert.Equal(t, 2, testutil.CollectAndCount(pm.scanDuration))

	pm.SetActiveScans(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.activeScans))
}

func TestPrometheusMetrics_MonitorMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	key := "8.8.8.8:53/udp"

	pm.RecordMonitorTick(key, true, 0)
	pm.RecordMonitorTick(key, false, 1)
	pm.RecordMonitorTick(key, false, 2)
	pm.IncrementDroppedTicks(key)
	pm.IncrementReachabilityTransitions(key)
	pm.AddActiveMonitors(2)
	pm.AddActiveMonitors(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.monitorTicks.WithLabelValues(key, StatusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.monitorFailures.WithLabelValues(key)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.monitorDroppedTicks.WithLabelValues(key)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.monitorTransitions.WithLabelValues(key)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.activeMonitors))
}

func TestPrometheusMetrics_WorkerAndStoreMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.SetPoolSize(4)
	pm.IncrementJobsSubmitted("trace")
	pm.RecordJob("trace", 100*time.Millisecond, true)
	pm.RecordJob("trace", 50*time.Millisecond, false)
	pm.RecordDatabaseQuery("insert_result", 5*time.Millisecond, true)
	pm.RecordHTTPRequest("GET", "/api/v1/monitors", "200", time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(pm.poolSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.jobsSubmitted.WithLabelValues("trace")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.jobsCompleted))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.dbQueries))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.httpRequests))
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 20*time.Millisecond)
		close(done)
	}()
	<-done

	assert.False(t, pm.GetLastUpdate().IsZero())
	assert.Greater(t, pm.GetUptime(), time.Duration(0))
}

func TestPrometheusMetrics_GlobalInstance(t *testing.T) {
	gm1 := GetGlobalMetrics()
	require.NotNil(t, gm1)
	assert.Same(t, gm1, GetGlobalMetrics())
}
