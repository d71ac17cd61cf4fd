package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/tracerama/internal/api/middleware"
	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/report"
	"github.com/anstrom/tracerama/internal/scanning"
)

const removeTimeout = 30 * time.Second

// MonitorRegistry is the part of monitor.Manager the API drives.
type MonitorRegistry interface {
	Add(req scanning.Request) (*monitor.Monitor, error)
	Get(key scanning.Key) (*monitor.Monitor, bool)
	Remove(ctx context.Context, key scanning.Key, wait bool) error
	Snapshots() []monitor.Snapshot
}

// RequestTemplate builds the base request for a new target from configuration.
type RequestTemplate func(target string) scanning.Request

// MonitorHandler serves /api/v1/monitors.
type MonitorHandler struct {
	registry MonitorRegistry
	template RequestTemplate
	html     *report.HTMLRenderer
	logger   *logging.Logger
}

// NewMonitorHandler creates a monitor handler. A nil template falls back to
// scanning.NewRequest.
func NewMonitorHandler(registry MonitorRegistry, template RequestTemplate, logger *logging.Logger) *MonitorHandler {
	if template == nil {
		template = scanning.NewRequest
	}
	return &MonitorHandler{
		registry: registry,
		template: template,
		html:     report.NewHTMLRenderer(),
		logger:   logger.WithComponent("api.monitors"),
	}
}

// MonitorSummary is one row of the monitor list.
type MonitorSummary struct {
	Key         string               `json:"key"`
	Target      string               `json:"target"`
	Port        int                  `json:"port"`
	Protocol    scanning.Protocol    `json:"protocol"`
	State       monitor.State        `json:"state"`
	Interval    string               `json:"interval"`
	SuccessRate float64              `json:"success_rate"`
	Reached     *bool                `json:"reached,omitempty"`
	LastScanAt  *time.Time           `json:"last_scan_at,omitempty"`
	Counters    monitor.Counters     `json:"counters"`
	Rolling     monitor.RollingStats `json:"rolling"`
}

func summarize(s monitor.Snapshot) MonitorSummary {
	out := MonitorSummary{
		Key:         s.Key.String(),
		Target:      s.Key.Target,
		Port:        s.Key.Port,
		Protocol:    s.Key.Protocol,
		State:       s.State,
		Interval:    s.Interval.String(),
		SuccessRate: s.Counters.SuccessRate(),
		Counters:    s.Counters,
		Rolling:     s.Rolling,
	}
	if latest, ok := s.Latest(); ok {
		reached := latest.Reached()
		out.Reached = &reached
		at := latest.CompletedAt
		out.LastScanAt = &at
	}
	return out
}

// MonitorList is the body of GET /api/v1/monitors.
type MonitorList struct {
	Monitors []MonitorSummary `json:"monitors"`
	Count    int              `json:"count"`
}

// CreateMonitorRequest is the body of POST /api/v1/monitors.
type CreateMonitorRequest struct {
	Target   string `json:"target"`
	Port     int    `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	MaxHops  int    `json:"max_hops,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func (h *MonitorHandler) toRequest(body CreateMonitorRequest) (scanning.Request, error) {
	req := h.template(strings.TrimSpace(body.Target))
	if body.Port != 0 {
		req.Port = body.Port
	}
	if body.Protocol != "" {
		p, err := scanning.ParseProtocol(body.Protocol)
		if err != nil {
			return req, err
		}
		req.Protocol = p
	}
	if body.MaxHops != 0 {
		req.MaxHops = body.MaxHops
	}
	if body.Timeout != "" {
		d, err := time.ParseDuration(body.Timeout)
		if err != nil {
			return req, errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid timeout %q", body.Timeout), "timeout", body.Timeout)
		}
		req.Timeout = d
	}
	return req, nil
}

// keyFromPath reads {protocol}/{target}/{port} from the route.
func keyFromPath(r *http.Request) (scanning.Key, error) {
	vars := mux.Vars(r)
	protocol, err := scanning.ParseProtocol(vars["protocol"])
	if err != nil {
		return scanning.Key{}, err
	}
	port, err := strconv.Atoi(vars["port"])
	if err != nil {
		return scanning.Key{}, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid port %q", vars["port"]), "port", vars["port"])
	}
	return scanning.Key{Target: vars["target"], Port: port, Protocol: protocol}, nil
}

// List handles GET /api/v1/monitors.
//
// @Summary List monitors
// @Tags monitors
// @Produce json
// @Success 200 {object} MonitorList
// @Router /monitors [get]
func (h *MonitorHandler) List(w http.ResponseWriter, r *http.Request) {
	snaps := h.registry.Snapshots()
	out := make([]MonitorSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, summarize(s))
	}
	writeJSON(w, r, http.StatusOK, MonitorList{Monitors: out, Count: len(out)})
}

// Create handles POST /api/v1/monitors.
//
// @Summary Start monitoring a target
// @Tags monitors
// @Accept json
// @Produce json
// @Param monitor body CreateMonitorRequest true "Target and optional overrides"
// @Success 201 {object} MonitorSummary
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Already monitored"
// @Router /monitors [post]
func (h *MonitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body CreateMonitorRequest
	if err := parseJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	req, err := h.toRequest(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	mon, err := h.registry.Add(req)
	if err != nil {
		writeError(w, r, statusForError(err), err)
		return
	}

	h.logger.InfoMonitor("Monitor added via API", mon.Key().String(),
		"request_id", middleware.GetRequestID(r))
	writeJSON(w, r, http.StatusCreated, summarize(mon.Snapshot()))
}

// Get handles GET /api/v1/monitors/{protocol}/{target}/{port}. The
// format query parameter selects json (default), yaml, csv or html.
//
// @Summary Monitor snapshot
// @Description History and statistics of one monitor.
// @Tags monitors
// @Produce json,application/yaml,text/csv,text/html
// @Param protocol path string true "tcp or udp"
// @Param target path string true "Target host"
// @Param port path int true "Destination port"
// @Param format query string false "json, yaml, csv or html"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /monitors/{protocol}/{target}/{port} [get]
func (h *MonitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap := mon.Snapshot()

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, r, http.StatusOK, snap)
	case "yaml", "yml":
		w.Header().Set("Content-Type", "application/yaml")
		if err := report.EncodeSnapshot(w, snap, report.FormatYAML); err != nil {
			h.logger.ErrorMonitor("Failed to encode snapshot", snap.Key.String(), err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := report.EncodeBatchCSV(w, snapshotResults(snap), time.Now()); err != nil {
			h.logger.ErrorMonitor("Failed to encode history CSV", snap.Key.String(), err)
		}
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := h.html.RenderBatch(w, "Monitor history for "+snap.Key.String(), snapshotResults(snap)); err != nil {
			h.logger.ErrorMonitor("Failed to render history report", snap.Key.String(), err)
		}
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

// Delete handles DELETE /api/v1/monitors/{protocol}/{target}/{port}.
// The in-flight scan is waited for unless force=true.
//
// @Summary Stop a monitor
// @Tags monitors
// @Param protocol path string true "tcp or udp"
// @Param target path string true "Target host"
// @Param port path int true "Destination port"
// @Param force query bool false "Cancel the running traceroute"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /monitors/{protocol}/{target}/{port} [delete]
func (h *MonitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	mon, ok := h.lookup(w, r)
	if !ok {
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	ctx, cancel := context.WithTimeout(r.Context(), removeTimeout)
	defer cancel()

	if err := h.registry.Remove(ctx, mon.Key(), !force); err != nil {
		h.logger.ErrorMonitor("Monitor stop did not complete cleanly", mon.Key().String(), err)
	}
	h.logger.InfoMonitor("Monitor removed via API", mon.Key().String(),
		"request_id", middleware.GetRequestID(r), "forced", force)
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandler) lookup(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	key, err := keyFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	mon, ok := h.registry.Get(key)
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("no monitor for %s", key))
		return nil, false
	}
	return mon, true
}

func snapshotResults(s monitor.Snapshot) []*scanning.ScanResult {
	out := make([]*scanning.ScanResult, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Result)
	}
	return out
}
