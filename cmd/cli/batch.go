package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/report"
	"github.com/anstrom/tracerama/internal/scanning"
)

var (
	batchFile  string
	batchPorts string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [targets...]",
	Short: "Trace many targets concurrently",
	Long: `Trace every target given on the command line or in a targets file through
a bounded worker pool. A failing target never affects the others. The
targets file holds one target per line; blank lines and lines starting
with # are ignored.`,
	Example: `  tracerama batch example.com example.org
  tracerama batch --file targets.txt --csv
  tracerama batch --file targets.txt --ports 80,443 --concurrency 8 --html`,
	PreRunE: bindBatchFlags,
	RunE:    runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addScannerFlags(batchCmd)
	addOutputFlags(batchCmd)
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "file with one target per line")
	batchCmd.Flags().StringVar(&batchPorts, "ports", "", "trace each target on every listed port")
	batchCmd.Flags().Int("concurrency", 4, "number of traceroutes run at once")
	batchCmd.Flags().Int("retries", 0, "retries for timed out traceroutes")
	batchCmd.MarkFlagsMutuallyExclusive("port", "ports")
}

func bindBatchFlags(cmd *cobra.Command, args []string) error {
	if err := bindScanFlags(cmd, args); err != nil {
		return err
	}
	return bindFlags(cmd.Flags(), map[string]string{
		"concurrency": "batch.concurrency",
		"retries":     "batch.retries",
	})
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets := append([]string(nil), args...)
	if batchFile != "" {
		fromFile, err := readTargetsFile(batchFile)
		if err != nil {
			return err
		}
		targets = append(targets, fromFile...)
	}
	if len(targets) == 0 {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"no targets given; pass targets as arguments or use --file", "targets", "")
	}

	ports := []int{cfg.Scanner.Port}
	if batchPorts != "" {
		if ports, err = scanning.ParsePorts(batchPorts); err != nil {
			return err
		}
	}

	reqs := make([]scanning.Request, 0, len(targets)*len(ports))
	for _, target := range targets {
		for _, port := range ports {
			req := cfg.Request(target)
			req.Port = port
			reqs = append(reqs, req)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := newScanner(cfg)
	defer func() { _ = scanner.Close() }()

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(database)
	store := newResultStore(database)

	results := scanner.ScanBatch(ctx, reqs)

	out := cmd.OutOrStdout()
	if err := report.WriteBatch(out, results); err != nil {
		return err
	}
	saveResults(ctx, store, results...)

	if files := newFileWriter(cfg); files != nil {
		if err := writeBatchFiles(out, cfg, files, results); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return errors.ErrScanCanceled("batch", ctx.Err())
	}
	stats := scanning.ComputeBatchStatistics(results)
	if stats.ReachedResults < stats.TotalResults {
		return errUnreachable
	}
	return nil
}

func writeBatchFiles(w io.Writer, cfg *config.Config, files *report.FileWriter, results []*scanning.ScanResult) error {
	if cfg.Output.CSV {
		summary, err := files.SummaryCSV(results)
		if err != nil {
			return err
		}
		hops, err := files.BatchCSV(results)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "CSV summary: %s\nCSV hops: %s\n", summary, hops)
	}
	if cfg.Output.HTML {
		path, err := files.BatchHTML(fmt.Sprintf("Batch traceroute (%d targets)", len(results)), results)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "HTML report: %s\n", path)
	}
	return nil
}

// readTargetsFile reads targets from path.
func readTargetsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return nil, errors.WrapConfigError(code, "failed to open targets file", err)
	}
	defer func() { _ = f.Close() }()
	return readTargets(f)
}

// readTargets returns one target per non-empty line. Text after # is a
// comment.
func readTargets(r io.Reader) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			targets = append(targets, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read targets", err)
	}
	return targets, nil
}
