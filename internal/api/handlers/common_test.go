package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.NewScanError(errors.CodeValidation, "bad"), http.StatusBadRequest},
		{errors.ErrInvalidTarget("-x", nil), http.StatusBadRequest},
		{errors.ErrBusy("k"), http.StatusConflict},
		{errors.ErrScanTimeout("t", time.Second), http.StatusGatewayTimeout},
		{errors.ErrDatabaseConnection(assert.AnError), http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(errors.GetCode(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForError(tt.err))
		})
	}
}

func TestWriteError_IncludesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusConflict, errors.ErrBusy("10.0.0.9:80/tcp"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Conflict", body.Error)
	assert.Equal(t, errors.CodeBusy, body.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, assert.AnError)
	var plain ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plain))
	assert.Empty(t, plain.Code, "untyped errors carry no code")
}

func TestParseJSON_LimitsBody(t *testing.T) {
	big := `{"target":"` + strings.Repeat("a", maxRequestSize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

	var body CreateMonitorRequest
	require.Error(t, parseJSON(httptest.NewRecorder(), req, &body))
}

func TestSummarize(t *testing.T) {
	key := scanning.NewRequest("10.0.0.9").Key()
	empty := summarize(monitor.Snapshot{Key: key, State: monitor.StateIdle, Interval: 5 * time.Second})
	assert.Equal(t, "10.0.0.9:80/tcp", empty.Key)
	assert.Equal(t, "5s", empty.Interval)
	assert.Nil(t, empty.Reached)
	assert.Nil(t, empty.LastScanAt)

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	snap := monitor.Snapshot{
		Key: key,
		Entries: []monitor.Entry{
			{Result: &scanning.ScanResult{TargetReached: true}, CompletedAt: at.Add(-time.Minute)},
			{Result: &scanning.ScanResult{TargetReached: false}, CompletedAt: at},
		},
	}
	s := summarize(snap)
	require.NotNil(t, s.Reached)
	assert.False(t, *s.Reached)
	assert.Equal(t, at, *s.LastScanAt)
}

func TestToRequest(t *testing.T) {
	h := NewMonitorHandler(nil, nil, logging.NewDiscard())

	req, err := h.toRequest(CreateMonitorRequest{Target: " example.com ", Port: 53, Protocol: "udp", MaxHops: 12, Timeout: "5s"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", req.Target)
	assert.Equal(t, 53, req.Port)
	assert.Equal(t, scanning.ProtocolUDP, req.Protocol)
	assert.Equal(t, 12, req.MaxHops)
	assert.Equal(t, 5*time.Second, req.Timeout)

	req, err = h.toRequest(CreateMonitorRequest{Target: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, scanning.NewRequest("example.com"), req)
}
