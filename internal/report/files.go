package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
	fileTimeLayout  = "20060102_150405"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileWriter writes reports into a directory with timestamped file names.
type FileWriter struct {
	dir    string
	html   *HTMLRenderer
	now    func() time.Time
	logger *logging.Logger
}

// FileOption configures a FileWriter.
type FileOption func(*FileWriter)

// WithHTMLRenderer sets the renderer used for HTML reports.
func WithHTMLRenderer(h *HTMLRenderer) FileOption {
	return func(fw *FileWriter) {
		fw.html = h
	}
}

// WithFileClock sets the clock used for file names and generated stamps.
func WithFileClock(now func() time.Time) FileOption {
	return func(fw *FileWriter) {
		fw.now = now
	}
}

// NewFileWriter creates a writer rooted at dir. The directory is created on
// the first write.
func NewFileWriter(dir string, opts ...FileOption) *FileWriter {
	fw := &FileWriter{
		dir:    dir,
		now:    time.Now,
		logger: logging.Default().WithComponent("report"),
	}
	for _, opt := range opts {
		opt(fw)
	}
	if fw.html == nil {
		fw.html = NewHTMLRenderer(WithClock(fw.now))
	}
	return fw
}

// Dir returns the output directory.
func (fw *FileWriter) Dir() string {
	return fw.dir
}

// ResultCSV writes traceroute_<target>_<time>.csv.
func (fw *FileWriter) ResultCSV(r *scanning.ScanResult) (string, error) {
	return fw.write(fw.name("traceroute_"+r.Target, ".csv"), func(w io.Writer) error {
		return EncodeResultCSV(w, r)
	})
}

// BatchCSV writes traceroute_batch_<time>.csv.
func (fw *FileWriter) BatchCSV(results []*scanning.ScanResult) (string, error) {
	return fw.write(fw.name("traceroute_batch", ".csv"), func(w io.Writer) error {
		return EncodeBatchCSV(w, results, fw.now())
	})
}

// SummaryCSV writes traceroute_summary_<time>.csv.
func (fw *FileWriter) SummaryCSV(results []*scanning.ScanResult) (string, error) {
	return fw.write(fw.name("traceroute_summary", ".csv"), func(w io.Writer) error {
		return EncodeSummaryCSV(w, results, fw.now())
	})
}

// ResultHTML writes traceroute_<target>_<time>.html.
func (fw *FileWriter) ResultHTML(r *scanning.ScanResult) (string, error) {
	return fw.write(fw.name("traceroute_"+r.Target, ".html"), func(w io.Writer) error {
		return fw.html.RenderResult(w, r)
	})
}

// BatchHTML writes traceroute_batch_<time>.html.
func (fw *FileWriter) BatchHTML(title string, results []*scanning.ScanResult) (string, error) {
	return fw.write(fw.name("traceroute_batch", ".html"), func(w io.Writer) error {
		return fw.html.RenderBatch(w, title, results)
	})
}

// MonitorHistory writes the retained history of snap as batch CSV and/or
// HTML and returns the written paths.
func (fw *FileWriter) MonitorHistory(snap monitor.Snapshot, csv, html bool) ([]string, error) {
	results := make([]*scanning.ScanResult, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		results = append(results, e.Result)
	}
	base := "monitor_" + snap.Key.String()

	var paths []string
	if csv {
		p, err := fw.write(fw.name(base, ".csv"), func(w io.Writer) error {
			return EncodeBatchCSV(w, results, fw.now())
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if html {
		p, err := fw.write(fw.name(base, ".html"), func(w io.Writer) error {
			return fw.html.RenderBatch(w, "Monitor history for "+snap.Key.String(), results)
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Snapshot writes snap as JSON or YAML.
func (fw *FileWriter) Snapshot(snap monitor.Snapshot, format Format) (string, error) {
	return fw.write(fw.name("monitor_"+snap.Key.String(), format.Extension()), func(w io.Writer) error {
		return EncodeSnapshot(w, snap, format)
	})
}

func (fw *FileWriter) name(base, ext string) string {
	return fmt.Sprintf("%s_%s%s", unsafeName.ReplaceAllString(base, "_"), fw.now().Format(fileTimeLayout), ext)
}

func (fw *FileWriter) write(name string, encode func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(fw.dir, dirPermissions); err != nil {
		return "", errors.WrapScanError(errors.CodeDirectoryCreate, "failed to create output directory", err).
			WithContext("dir", fw.dir)
	}

	path := filepath.Join(fw.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return "", errors.WrapScanError(errors.CodeFilePermission, "failed to create report file", err).
			WithContext("path", path)
	}

	if err := encode(f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	fw.logger.Info("Report written", "path", path)
	return path, nil
}
