package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/tracerama/internal/logging"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusOK        = "ok"
)

// HealthHandler handles health, liveness and version endpoints.
type HealthHandler struct {
	checks    map[string]Pinger
	monitors  func() int
	version   string
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a health handler. Dependencies with a nil
// Pinger are skipped; monitors may be nil.
func NewHealthHandler(version string, checks map[string]Pinger, monitors func() int, logger *logging.Logger) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &HealthHandler{
		checks:    active,
		monitors:  monitors,
		version:   version,
		logger:    logger.WithComponent("api.health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Monitors  int               `json:"monitors"`
	Checks    map[string]string `json:"checks"`
}

// Health handles GET /api/v1/health. Any failed dependency turns the
// response into 503.
//
// @Summary Health check
// @Description Pings the configured dependencies (database, redis).
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	if h.monitors != nil {
		resp.Monitors = h.monitors()
	}

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			resp.Status = StatusUnhealthy
			resp.Checks[name] = "failed: " + err.Error()
			h.logger.Warn("Health check failed", "dependency", name, "error", err)
			continue
		}
		resp.Checks[name] = StatusOK
	}

	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

// Liveness handles GET /api/v1/liveness without dependency checks.
//
// @Summary Liveness probe
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /liveness [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Version handles GET /api/v1/version.
//
// @Summary Build version
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /version [get]
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service":    "tracerama",
		"version":    h.version,
		"go_version": runtime.Version(),
	})
}
