package report

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/scanning"
)

// DiagramFunc renders route diagrams for a report. RouteSVG is the default.
type DiagramFunc func(results []*scanning.ScanResult) ([]byte, error)

type htmlResult struct {
	Result *scanning.ScanResult
	Stats  scanning.ScanStatistics
}

type htmlPage struct {
	Title     string
	Generated time.Time
	Results   []htmlResult
	Batch     *scanning.BatchStatistics
	Diagram   template.HTML
	Warning   string
}

var funcs = template.FuncMap{
	"rtt":      func(v scanning.RTTValue) string { return rttCell(v, "-") },
	"yesno":    yesNo,
	"upper":    func(p scanning.Protocol) string { return strings.ToUpper(string(p)) },
	"orDash":   orDash,
	"duration": durationCell,
	"percent":  func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	"ts":       func(t time.Time) string { return t.Format(timeLayout) },
}

var pageTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
th { background: #eee; }
.success { color: #080; } .timeout { color: #b00; } .unreachable { color: #b80; }
.failed { color: #b00; font-weight: bold; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Generated {{ts .Generated}}</p>
{{with .Batch}}<h2>Summary</h2>
<table>
<tr><th>Results</th><th>Reached</th><th>Failed</th><th>Success ratio</th></tr>
<tr><td>{{.TotalResults}}</td><td>{{.ReachedResults}}</td><td>{{.FailedResults}}</td><td>{{percent .SuccessRatio}}</td></tr>
</table>
{{end}}{{if .Diagram}}<h2>Routes</h2>
<div class="diagram">{{.Diagram}}</div>
{{else if .Warning}}<p class="warning">{{.Warning}}</p>
{{end}}{{range .Results}}{{with .Result}}<h2>{{.Target}}:{{.Port}} ({{upper .Protocol}})</h2>
<p>Scan time {{ts .StartedAt}}, duration {{duration .Duration}}</p>
{{if .Failed}}<p class="failed">Scan failed ({{.Failure}}): {{.Exit.Diagnostic}}</p>
{{else}}<table>
<tr><th>Hop</th><th>IP Address</th><th>Hostname</th><th>RTT (ms)</th><th>Status</th></tr>
{{range .Hops}}<tr><td>{{.Number}}</td><td>{{orDash .Address}}</td><td>{{orDash .Hostname}}</td><td>{{rtt .RTT}}</td><td class="{{.Status}}">{{.Status}}</td></tr>
{{end}}</table>
{{end}}{{end}}{{with .Stats}}<table>
<tr><th>Total hops</th><td>{{.TotalHops}}</td></tr>
<tr><th>Target reached</th><td>{{yesno .TargetReached}}</td></tr>
<tr><th>Successful hops</th><td>{{.SuccessfulHops}}</td></tr>
<tr><th>Timeout hops</th><td>{{.TimeoutHops}}</td></tr>
<tr><th>Average RTT</th><td>{{rtt .AverageRTT}}</td></tr>
<tr><th>Min RTT</th><td>{{rtt .MinRTT}}</td></tr>
<tr><th>Max RTT</th><td>{{rtt .MaxRTT}}</td></tr>
</table>
{{end}}{{end}}</body>
</html>
`))

// HTMLRenderer writes HTML reports with an embedded route diagram.
type HTMLRenderer struct {
	diagram DiagramFunc
	now     func() time.Time
	logger  *logging.Logger
}

// HTMLOption configures an HTMLRenderer.
type HTMLOption func(*HTMLRenderer)

// WithDiagram replaces the route diagram renderer. A nil func disables
// diagrams.
func WithDiagram(f DiagramFunc) HTMLOption {
	return func(h *HTMLRenderer) {
		h.diagram = f
	}
}

// WithClock sets the clock used for the generated timestamp.
func WithClock(now func() time.Time) HTMLOption {
	return func(h *HTMLRenderer) {
		h.now = now
	}
}

// NewHTMLRenderer creates a renderer using RouteSVG for diagrams.
func NewHTMLRenderer(opts ...HTMLOption) *HTMLRenderer {
	h := &HTMLRenderer{
		diagram: RouteSVG,
		now:     time.Now,
		logger:  logging.Default().WithComponent("report"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RenderResult writes a report for one result.
func (h *HTMLRenderer) RenderResult(w io.Writer, r *scanning.ScanResult) error {
	title := "Traceroute report"
	if r != nil {
		title = "Traceroute to " + r.Key().String()
	}
	return h.render(w, title, []*scanning.ScanResult{r}, false)
}

// RenderBatch writes a report for many results with a batch summary.
func (h *HTMLRenderer) RenderBatch(w io.Writer, title string, results []*scanning.ScanResult) error {
	return h.render(w, title, results, true)
}

func (h *HTMLRenderer) render(w io.Writer, title string, results []*scanning.ScanResult, batch bool) error {
	page := htmlPage{Title: title, Generated: h.now()}

	kept := make([]*scanning.ScanResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		kept = append(kept, r)
		page.Results = append(page.Results, htmlResult{Result: r, Stats: scanning.ComputeStatistics(r)})
	}
	if batch {
		b := scanning.ComputeBatchStatistics(kept)
		page.Batch = &b
	}

	if h.diagram != nil && len(kept) > 0 {
		svg, err := h.diagram(kept)
		if err != nil {
			h.logger.Warn("Route diagram unavailable, writing report without it", "error", err)
			page.Warning = "Route diagram unavailable: " + err.Error()
		} else {
			// #nosec G203 - SVG is produced by graphviz from escaped labels
			page.Diagram = template.HTML(stripXMLProlog(svg))
		}
	}

	return pageTemplate.Execute(w, page)
}

// stripXMLProlog drops the XML declaration and doctype so the SVG can be
// inlined into an HTML document.
func stripXMLProlog(svg []byte) string {
	s := string(svg)
	if i := strings.Index(s, "<svg"); i > 0 {
		return s[i:]
	}
	return s
}
