package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleResult() *scanning.ScanResult {
	return &scanning.ScanResult{
		ID:       "scan-1",
		Target:   "10.0.0.9",
		Port:     443,
		Protocol: scanning.ProtocolTCP,
		Hops: []scanning.Hop{
			{Number: 1, Address: "10.0.0.1", Hostname: "gw.example", RTT: scanning.SomeRTT(1.25), Status: scanning.HopSuccess},
			{Number: 2, Status: scanning.HopTimeout},
			{Number: 3, Address: "10.0.0.9", RTT: scanning.SomeRTT(3.75), Status: scanning.HopSuccess},
		},
		TargetReached: true,
		StartedAt:     fixedTime,
		Duration:      2500 * time.Millisecond,
		Exit:          scanning.ExitStatus{Success: true},
	}
}

func emptyResult() *scanning.ScanResult {
	return &scanning.ScanResult{
		ID:        "scan-2",
		Target:    "192.0.2.7",
		Port:      80,
		Protocol:  scanning.ProtocolUDP,
		Hops:      []scanning.Hop{},
		StartedAt: fixedTime,
		Exit:      scanning.ExitStatus{Success: true},
	}
}

func failed() *scanning.ScanResult {
	err := errors.ErrScanTimeout("198.51.100.4", time.Second)
	return scanning.NewFailedResult("scan-3", scanning.NewRequest("198.51.100.4"), fixedTime, time.Second, err)
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "Traceroute to 10.0.0.9:443 (TCP)")
	assert.Contains(t, out, "gw.example")
	assert.Contains(t, out, "1.250")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "2.500 ms", "average RTT")
	assert.Contains(t, out, "2.50 s", "scan duration")
}

func TestWriteResult_Failed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, failed()))
	assert.Contains(t, buf.String(), "Scan failed (TIMEOUT)")
}

func TestWriteBatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBatch(&buf, []*scanning.ScanResult{sampleResult(), emptyResult(), nil, failed()}))

	out := buf.String()
	assert.Contains(t, out, "(4 targets)")
	assert.Contains(t, out, "192.0.2.7")
	assert.Contains(t, out, "TIMEOUT")
	assert.Contains(t, out, "Reached 1/3 (33.3%), failed 1")
}

func TestWriteMonitor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMonitor(&buf, sampleSnapshot()))

	out := buf.String()
	assert.Contains(t, out, "Monitor 10.0.0.9:443/tcp (stopped, every 10s)")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "2026-03-14 09:26:53")
}

func TestEncodeResultCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeResultCSV(&buf, sampleResult()))

	rows := readCSV(t, buf.Bytes())
	assert.Equal(t, []string{"# Traceroute Results"}, rows[0])
	assert.Equal(t, []string{"# Target:", "10.0.0.9"}, rows[1])
	assert.Equal(t, []string{"# Protocol:", "TCP"}, rows[3])
	assert.Equal(t, []string{"# Scan Time:", "2026-03-14 09:26:53"}, rows[4])
	assert.Equal(t, []string{"# Scan Duration (s):", "2.50"}, rows[5])
	assert.Contains(t, rows, []string{"# Average RTT (ms):", "2.500"})

	hops := rows[len(rows)-4:]
	assert.Equal(t, hopColumns, hops[0])
	assert.Equal(t, []string{"1", "10.0.0.1", "gw.example", "1.250", "success"}, hops[1])
	assert.Equal(t, []string{"2", "", "", "", "timeout"}, hops[2])
	assert.Equal(t, []string{"3", "10.0.0.9", "", "3.750", "success"}, hops[3])
}

func TestEncodeResultCSV_NoRTT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeResultCSV(&buf, emptyResult()))
	assert.NotContains(t, buf.String(), "Average RTT")
	assert.Contains(t, buf.String(), "# Target Reached:,No")
}

func TestEncodeBatchCSV(t *testing.T) {
	var buf bytes.Buffer
	results := []*scanning.ScanResult{sampleResult(), emptyResult(), nil}
	require.NoError(t, EncodeBatchCSV(&buf, results, fixedTime))

	rows := readCSV(t, buf.Bytes())
	assert.Equal(t, []string{"# Total Scans:", "3"}, rows[2])

	data := rows[4:]
	require.Len(t, data, 4, "three hop rows plus one No Data row")
	assert.Equal(t, []string{"10.0.0.9", "443", "TCP", "2026-03-14 09:26:53", "1", "10.0.0.1", "gw.example",
		"1.250", "success", "3", "Yes", "2.50"}, data[0])
	assert.Equal(t, []string{"192.0.2.7", "80", "UDP", "2026-03-14 09:26:53", "", "", "", "", "No Data", "0", "No", ""}, data[3])
}

func TestEncodeSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeSummaryCSV(&buf, []*scanning.ScanResult{sampleResult(), failed()}, fixedTime))

	rows := readCSV(t, buf.Bytes())
	data := rows[3:]
	require.Len(t, data, 2)
	assert.Equal(t, []string{"10.0.0.9", "443", "TCP", "2026-03-14 09:26:53", "3", "Yes", "2", "1",
		"2.500", "1.250", "3.750", "2.50", ""}, data[0])
	assert.Equal(t, "TIMEOUT", data[1][12])
	assert.Equal(t, "", data[1][8])
}

func TestHTMLRenderer_Result(t *testing.T) {
	r := sampleResult()
	r.Hops[0].Hostname = "<script>alert(1)</script>"

	h := NewHTMLRenderer(
		WithClock(func() time.Time { return fixedTime }),
		WithDiagram(func([]*scanning.ScanResult) ([]byte, error) {
			return []byte(`<?xml version="1.0"?><!DOCTYPE svg><svg id="route"></svg>`), nil
		}),
	)

	var buf bytes.Buffer
	require.NoError(t, h.RenderResult(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "<title>Traceroute to 10.0.0.9:443/tcp</title>")
	assert.Contains(t, out, `<div class="diagram"><svg id="route"></svg></div>`)
	assert.NotContains(t, out, "<?xml")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, `<td class="timeout">timeout</td>`)
	assert.NotContains(t, out, "Summary", "single reports have no batch summary")
}

func TestHTMLRenderer_DiagramFailureDegrades(t *testing.T) {
	h := NewHTMLRenderer(WithDiagram(func([]*scanning.ScanResult) ([]byte, error) {
		return nil, stderrors.New("graphviz unavailable")
	}))

	var buf bytes.Buffer
	require.NoError(t, h.RenderBatch(&buf, "Batch", []*scanning.ScanResult{sampleResult(), failed()}))

	out := buf.String()
	assert.Contains(t, out, "Route diagram unavailable: graphviz unavailable")
	assert.NotContains(t, out, `class="diagram"`)
	assert.Contains(t, out, "Scan failed (TIMEOUT)")
	assert.Contains(t, out, "50.0%")
}

func TestRouteSVG(t *testing.T) {
	other := sampleResult()
	other.Hops = other.Hops[:1]

	svg, err := RouteSVG([]*scanning.ScanResult{sampleResult(), other, failed()})
	require.NoError(t, err)

	out := string(svg)
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "gw.example")
}

func sampleSnapshot() monitor.Snapshot {
	ok := sampleResult()
	bad := failed()
	return monitor.Snapshot{
		Key:      ok.Key(),
		State:    monitor.StateStopped,
		Interval: 10 * time.Second,
		Capacity: 100,
		Counters: monitor.Counters{TotalScans: 2, SuccessfulScans: 1, FailedScans: 1, ConsecutiveFailures: 1},
		Entries: []monitor.Entry{
			{Result: ok, Stats: scanning.ComputeStatistics(ok), CompletedAt: fixedTime},
			{Result: bad, Stats: scanning.ComputeStatistics(bad), CompletedAt: fixedTime.Add(10 * time.Second)},
		},
	}
}

func TestEncodeSnapshot(t *testing.T) {
	snap := sampleSnapshot()

	var js bytes.Buffer
	require.NoError(t, EncodeSnapshot(&js, snap, FormatJSON))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "stopped", decoded["state"])
	assert.Len(t, decoded["entries"], 2)

	var ym bytes.Buffer
	require.NoError(t, EncodeSnapshot(&ym, snap, FormatYAML))
	var node map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &node))
	assert.Equal(t, "stopped", node["state"])
	assert.Contains(t, ym.String(), "rtt_ms: null")

	assert.Error(t, EncodeSnapshot(&js, snap, Format("xml")))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "YAML": FormatYAML, " yml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("toml")
	assert.Error(t, err)
}

func TestFileWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	fw := NewFileWriter(dir,
		WithFileClock(func() time.Time { return fixedTime }),
		WithHTMLRenderer(NewHTMLRenderer(WithDiagram(nil))),
	)

	path, err := fw.ResultCSV(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "traceroute_10.0.0.9_20260314_092653.csv"), path)

	path, err = fw.SummaryCSV([]*scanning.ScanResult{sampleResult()})
	require.NoError(t, err)
	assert.Equal(t, "traceroute_summary_20260314_092653.csv", filepath.Base(path))

	paths, err := fw.MonitorHistory(sampleSnapshot(), true, true)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "monitor_10.0.0.9_443_tcp_20260314_092653.csv", filepath.Base(paths[0]))
	assert.True(t, strings.HasSuffix(paths[1], ".html"))

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Monitor history for 10.0.0.9:443/tcp")

	path, err = fw.Snapshot(sampleSnapshot(), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "monitor_10.0.0.9_443_tcp_20260314_092653.yaml", filepath.Base(path))
}

func TestFileWriter_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewFileWriter(filepath.Join(file, "sub")).ResultCSV(sampleResult())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDirectoryCreate))
}
