package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/db"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/report"
	"github.com/anstrom/tracerama/internal/scanning"
)

const (
	resolverTimeout = 2 * time.Second
	saveTimeout     = 10 * time.Second
)

// newScanner builds a scanner from the scanner and batch sections.
func newScanner(cfg *config.Config) *scanning.Scanner {
	logger := logging.Default().WithComponent("scanner")
	opts := []scanning.Option{
		scanning.WithRunner(scanning.NewInvoker(
			scanning.WithBinary(cfg.Scanner.Binary),
			scanning.WithInvokerLogger(logger),
		)),
		scanning.WithResourceManager(scanning.NewFixedResourceManager(cfg.Scanner.MaxConcurrentScans)),
		scanning.WithBatchConfig(cfg.WorkerConfig()),
		scanning.WithLogger(logger),
	}
	if cfg.Scanner.ResolveHostnames {
		opts = append(opts, scanning.WithResolver(scanning.NewDNSResolver(cfg.Scanner.DNSServer, resolverTimeout)))
	}
	return scanning.NewScanner(opts...)
}

// openDatabase connects and migrates when persistence is enabled and
// returns nil otherwise.
func openDatabase(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}
	return db.ConnectAndMigrate(ctx, &cfg.Database)
}

func closeDatabase(database *db.DB) {
	if database == nil {
		return
	}
	if err := database.Close(); err != nil {
		logging.Warn("Failed to close database connection", "error", err)
	}
}

func newResultStore(database *db.DB) *db.ResultStore {
	if database == nil {
		return nil
	}
	return db.NewResultStore(database)
}

// saveResults persists results. Storage failures are logged, never fatal
// to the scan.
func saveResults(ctx context.Context, store *db.ResultStore, results ...*scanning.ScanResult) {
	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	for _, r := range uniqueResults(results) {
		if err := store.Save(ctx, r); err != nil {
			logging.Default().ErrorDatabase("Failed to save traceroute result", err,
				"result_id", r.ID, "target", r.Target)
		}
	}
}

// uniqueResults drops repeats of the same result, which a batch returns
// when one key is listed twice.
func uniqueResults(results []*scanning.ScanResult) []*scanning.ScanResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]*scanning.ScanResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// newFileWriter returns a report writer when CSV or HTML output is enabled.
func newFileWriter(cfg *config.Config) *report.FileWriter {
	if !cfg.Output.CSV && !cfg.Output.HTML {
		return nil
	}
	return report.NewFileWriter(cfg.Output.Dir)
}

// writeResultFiles writes the per-result CSV and HTML reports and lists the
// written paths on w.
func writeResultFiles(w io.Writer, cfg *config.Config, files *report.FileWriter, r *scanning.ScanResult) error {
	if files == nil {
		return nil
	}
	if cfg.Output.CSV {
		path, err := files.ResultCSV(r)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "CSV report: %s\n", path)
	}
	if cfg.Output.HTML {
		path, err := files.ResultHTML(r)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "HTML report: %s\n", path)
	}
	return nil
}
