// Package report renders scan results, statistics and monitor snapshots as
// console tables, CSV, HTML and JSON/YAML. Renderers only consume parsed
// values; they never look at raw scanner output.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

const timeLayout = "2006-01-02 15:04:05"

// WriteResult prints the hop table and statistics of one result.
func WriteResult(w io.Writer, r *scanning.ScanResult) error {
	if r == nil {
		return nil
	}
	fmt.Fprintf(w, "Traceroute to %s:%d (%s)\n", r.Target, r.Port, strings.ToUpper(string(r.Protocol)))
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(w, "Scan time: %s\n", r.StartedAt.Format(timeLayout))
	}
	if r.Failed() {
		fmt.Fprintf(w, "Scan failed (%s): %s\n", r.Failure, r.Exit.Diagnostic)
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Hop", "IP Address", "Hostname", "RTT (ms)", "Status")
	for _, h := range r.Hops {
		if err := table.Append([]string{
			strconv.Itoa(h.Number),
			orDash(h.Address),
			orDash(h.Hostname),
			rttCell(h.RTT, "*"),
			string(h.Status),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	return WriteStatistics(w, scanning.ComputeStatistics(r), r.Duration)
}

// WriteStatistics prints a two column statistics table.
func WriteStatistics(w io.Writer, s scanning.ScanStatistics, duration time.Duration) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")

	rows := [][]string{
		{"Total Hops", strconv.Itoa(s.TotalHops)},
		{"Target Reached", yesNo(s.TargetReached)},
		{"Successful Hops", strconv.Itoa(s.SuccessfulHops)},
		{"Timeout Hops", strconv.Itoa(s.TimeoutHops)},
	}
	if s.AverageRTT.Valid {
		rows = append(rows,
			[]string{"Average RTT", rttCell(s.AverageRTT, "") + " ms"},
			[]string{"Min RTT", rttCell(s.MinRTT, "") + " ms"},
			[]string{"Max RTT", rttCell(s.MaxRTT, "") + " ms"},
		)
	}
	if duration > 0 {
		rows = append(rows, []string{"Scan Duration", seconds(duration) + " s"})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// WriteBatch prints one summary row per result followed by batch totals.
func WriteBatch(w io.Writer, results []*scanning.ScanResult) error {
	fmt.Fprintf(w, "Batch traceroute summary (%d targets)\n", len(results))

	table := tablewriter.NewWriter(w)
	table.Header("Target", "Port", "Protocol", "Hops", "Reached", "Avg RTT", "Duration", "Status")
	for _, r := range results {
		if r == nil {
			continue
		}
		s := scanning.ComputeStatistics(r)
		if err := table.Append([]string{
			r.Target,
			strconv.Itoa(r.Port),
			strings.ToUpper(string(r.Protocol)),
			strconv.Itoa(s.TotalHops),
			yesNo(s.TargetReached),
			rttCell(s.AverageRTT, "-"),
			durationCell(r.Duration),
			resultStatus(r),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	b := scanning.ComputeBatchStatistics(results)
	fmt.Fprintf(w, "Reached %d/%d (%.1f%%), failed %d\n",
		b.ReachedResults, b.TotalResults, b.SuccessRatio()*100, b.FailedResults)
	return nil
}

// WriteMonitor prints the monitor counters, rolling window statistics and
// the retained history.
func WriteMonitor(w io.Writer, snap monitor.Snapshot) error {
	fmt.Fprintf(w, "Monitor %s (%s, every %s)\n", snap.Key, snap.State, snap.Interval)

	c := snap.Counters
	summary := tablewriter.NewWriter(w)
	summary.Header("Metric", "Value")
	rows := [][]string{
		{"Total Scans", strconv.Itoa(c.TotalScans)},
		{"Successful Scans", strconv.Itoa(c.SuccessfulScans)},
		{"Failed Scans", strconv.Itoa(c.FailedScans)},
		{"Success Rate", fmt.Sprintf("%.1f%%", c.SuccessRate()*100)},
		{"Dropped Ticks", strconv.Itoa(c.DroppedTicks)},
		{"Consecutive Failures", strconv.Itoa(c.ConsecutiveFailures)},
		{"Average Response", rttCell(c.AverageResponse, "-")},
		{"Min Response", rttCell(c.MinResponse, "-")},
		{"Max Response", rttCell(c.MaxResponse, "-")},
		{"Route Stability", fmt.Sprintf("%.2f", snap.Rolling.RouteStability)},
		{"Reachability Changes", strconv.Itoa(snap.Rolling.ReachabilityTransitions)},
	}
	if err := summary.Bulk(rows); err != nil {
		return err
	}
	if err := summary.Render(); err != nil {
		return err
	}

	if len(snap.Entries) == 0 {
		return nil
	}
	history := tablewriter.NewWriter(w)
	history.Header("Completed", "Hops", "Reached", "Avg RTT", "Last Hop", "Status")
	for _, e := range snap.Entries {
		last := "-"
		if e.Result != nil {
			if h, ok := e.Result.LastHop(); ok {
				last = orDash(h.Address)
			}
		}
		if err := history.Append([]string{
			e.CompletedAt.Format(timeLayout),
			strconv.Itoa(e.Stats.TotalHops),
			yesNo(e.Reached()),
			rttCell(e.Stats.AverageRTT, "-"),
			last,
			resultStatus(e.Result),
		}); err != nil {
			return err
		}
	}
	return history.Render()
}

func resultStatus(r *scanning.ScanResult) string {
	switch {
	case r == nil:
		return "missing"
	case r.Failed():
		return string(r.Failure)
	default:
		return "ok"
	}
}

func rttCell(v scanning.RTTValue, missing string) string {
	if !v.Valid {
		return missing
	}
	return strconv.FormatFloat(v.Ms, 'f', 3, 64)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}

func durationCell(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return seconds(d) + "s"
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
