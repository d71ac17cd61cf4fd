package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/tracerama/internal/scanning"
)

var hopColumns = []string{"Hop Number", "IP Address", "Hostname", "RTT (ms)", "Status"}

// EncodeResultCSV writes one result: comment rows with metadata and
// statistics, a blank row, then one row per hop.
func EncodeResultCSV(w io.Writer, r *scanning.ScanResult) error {
	cw := csv.NewWriter(w)
	s := scanning.ComputeStatistics(r)

	rows := [][]string{
		{"# Traceroute Results"},
		{"# Target:", r.Target},
		{"# Port:", strconv.Itoa(r.Port)},
		{"# Protocol:", strings.ToUpper(string(r.Protocol))},
		{"# Scan Time:", r.StartedAt.Format(timeLayout)},
	}
	if r.Duration > 0 {
		rows = append(rows, []string{"# Scan Duration (s):", seconds(r.Duration)})
	}
	if r.Failed() {
		rows = append(rows, []string{"# Failure:", string(r.Failure), r.Exit.Diagnostic})
	}
	rows = append(rows,
		[]string{"# Statistics:"},
		[]string{"# Total Hops:", strconv.Itoa(s.TotalHops)},
		[]string{"# Target Reached:", yesNo(s.TargetReached)},
		[]string{"# Successful Hops:", strconv.Itoa(s.SuccessfulHops)},
		[]string{"# Timeout Hops:", strconv.Itoa(s.TimeoutHops)},
	)
	if s.AverageRTT.Valid {
		rows = append(rows,
			[]string{"# Average RTT (ms):", rttCell(s.AverageRTT, "")},
			[]string{"# Min RTT (ms):", rttCell(s.MinRTT, "")},
			[]string{"# Max RTT (ms):", rttCell(s.MaxRTT, "")},
		)
	}
	rows = append(rows, []string{}, hopColumns)
	for _, h := range r.Hops {
		rows = append(rows, []string{
			strconv.Itoa(h.Number),
			h.Address,
			h.Hostname,
			rttCell(h.RTT, ""),
			string(h.Status),
		})
	}

	return writeAll(cw, rows)
}

// EncodeBatchCSV writes one row per hop of every result. A result without
// hops still gets a single "No Data" row.
func EncodeBatchCSV(w io.Writer, results []*scanning.ScanResult, generated time.Time) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"# Batch Traceroute Results"},
		{"# Generated:", generated.Format(timeLayout)},
		{"# Total Scans:", strconv.Itoa(len(results))},
		{},
		{"Target", "Port", "Protocol", "Scan Time", "Hop Number", "IP Address", "Hostname",
			"RTT (ms)", "Status", "Total Hops", "Target Reached", "Scan Duration (s)"},
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		s := scanning.ComputeStatistics(r)
		prefix := []string{r.Target, strconv.Itoa(r.Port), strings.ToUpper(string(r.Protocol)), r.StartedAt.Format(timeLayout)}
		duration := ""
		if r.Duration > 0 {
			duration = seconds(r.Duration)
		}

		if len(r.Hops) == 0 {
			rows = append(rows, append(prefix, "", "", "", "", "No Data", "0", "No", duration))
			continue
		}
		for _, h := range r.Hops {
			row := append([]string{}, prefix...)
			row = append(row,
				strconv.Itoa(h.Number),
				h.Address,
				h.Hostname,
				rttCell(h.RTT, ""),
				string(h.Status),
				strconv.Itoa(s.TotalHops),
				yesNo(s.TargetReached),
				duration,
			)
			rows = append(rows, row)
		}
	}

	return writeAll(cw, rows)
}

// EncodeSummaryCSV writes one statistics row per result.
func EncodeSummaryCSV(w io.Writer, results []*scanning.ScanResult, generated time.Time) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"# Traceroute Summary"},
		{"# Generated:", generated.Format(timeLayout)},
		{},
		{"Target", "Port", "Protocol", "Scan Time", "Total Hops", "Target Reached", "Successful Hops",
			"Timeout Hops", "Avg RTT (ms)", "Min RTT (ms)", "Max RTT (ms)", "Scan Duration (s)", "Failure"},
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		s := scanning.ComputeStatistics(r)
		duration := ""
		if r.Duration > 0 {
			duration = seconds(r.Duration)
		}
		rows = append(rows, []string{
			r.Target,
			strconv.Itoa(r.Port),
			strings.ToUpper(string(r.Protocol)),
			r.StartedAt.Format(timeLayout),
			strconv.Itoa(s.TotalHops),
			yesNo(s.TargetReached),
			strconv.Itoa(s.SuccessfulHops),
			strconv.Itoa(s.TimeoutHops),
			rttCell(s.AverageRTT, ""),
			rttCell(s.MinRTT, ""),
			rttCell(s.MaxRTT, ""),
			duration,
			string(r.Failure),
		})
	}

	return writeAll(cw, rows)
}

// writeAll writes rows and flushes. An empty row becomes a blank line.
func writeAll(cw *csv.Writer, rows [][]string) error {
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
