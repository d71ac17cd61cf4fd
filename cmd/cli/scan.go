package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/tracerama/internal/report"
	"github.com/anstrom/tracerama/internal/scanning"
)

var scanPorts string

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Trace the path to one target",
	Long: `Run an nmap traceroute against one target and print the hop table with
round-trip statistics. With --ports every listed port is traced separately.`,
	Example: `  tracerama scan example.com
  tracerama scan 192.168.1.10 --port 443
  tracerama scan example.com --protocol udp --port 53
  tracerama scan example.com --ports 80,443,8000-8002 --csv --html`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindScanFlags,
	RunE:    runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	addScannerFlags(scanCmd)
	addOutputFlags(scanCmd)
	scanCmd.Flags().StringVar(&scanPorts, "ports", "", "ports to trace one by one, e.g. '80,443' or '8000-8010'")
	scanCmd.MarkFlagsMutuallyExclusive("port", "ports")
}

// addScannerFlags registers the flags shared by every command that runs
// traceroutes.
func addScannerFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP("port", "p", scanning.DefaultPort, "destination port")
	flags.StringP("protocol", "P", string(scanning.ProtocolTCP), "probe protocol: tcp or udp")
	flags.Int("max-hops", scanning.DefaultMaxHops, "maximum number of hops")
	flags.Duration("timeout", scanning.DefaultTimeout, "scan timeout")
	flags.String("format", string(scanning.FormatText), "nmap output format to parse: text or xml")
	flags.String("binary", scanning.DefaultBinary, "nmap binary name or path")
	flags.StringSlice("extra-args", nil, "additional nmap arguments")
	flags.Bool("nmap-verbose", false, "run nmap with -vv")
	flags.Bool("resolve", false, "resolve hop hostnames with reverse DNS")
	flags.String("dns-server", "", "DNS server for hop lookups (host[:port])")
	flags.Bool("save", false, "store results in the database")
}

// addOutputFlags registers the report file flags.
func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("csv", false, "write CSV reports")
	flags.Bool("html", false, "write HTML reports")
	flags.StringP("output-dir", "o", "output_data", "directory for report files")
}

var scannerFlagKeys = map[string]string{
	"port":         "scanner.port",
	"protocol":     "scanner.protocol",
	"max-hops":     "scanner.max_hops",
	"timeout":      "scanner.timeout",
	"format":       "scanner.output_format",
	"binary":       "scanner.binary",
	"extra-args":   "scanner.extra_args",
	"nmap-verbose": "scanner.verbose",
	"resolve":      "scanner.resolve_hostnames",
	"dns-server":   "scanner.dns_server",
	"save":         "database.enabled",
}

var outputFlagKeys = map[string]string{
	"csv":        "output.csv",
	"html":       "output.html",
	"output-dir": "output.dir",
}

func bindScanFlags(cmd *cobra.Command, _ []string) error {
	if err := bindFlags(cmd.Flags(), scannerFlagKeys); err != nil {
		return err
	}
	return bindFlags(cmd.Flags(), outputFlagKeys)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ports := []int{cfg.Scanner.Port}
	if scanPorts != "" {
		if ports, err = scanning.ParsePorts(scanPorts); err != nil {
			return err
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

	files := newFileWriter(cfg)
	out := cmd.OutOrStdout()

	var firstErr error
	reached := true
	for i, port := range ports {
		req := cfg.Request(args[0])
		req.Port = port

		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "Tracing %s ...\n", req.Key())

		result, err := scanner.Scan(ctx, req)
		if result == nil {
			return err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		reached = reached && result.TargetReached

		if werr := report.WriteResult(out, result); werr != nil {
			return werr
		}
		saveResults(ctx, store, result)
		if werr := writeResultFiles(out, cfg, files, result); werr != nil {
			return werr
		}
		if ctx.Err() != nil {
			break
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if !reached {
		return errUnreachable
	}
	return nil
}
