package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/tracerama/internal/scanning"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that nmap is installed",
	Long: `Look up the configured nmap binary and print its version. Use this to
verify an installation before running scans.`,
	Example: `  tracerama check
  tracerama check --binary /usr/local/bin/nmap`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd.Flags(), map[string]string{"binary": "scanner.binary"})
	},
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().String("binary", scanning.DefaultBinary, "nmap binary name or path")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	invoker := scanning.NewInvoker(scanning.WithBinary(cfg.Scanner.Binary))
	v, err := invoker.Version(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanner binary: %s\n", cfg.Scanner.Binary)
	fmt.Fprintf(out, "Version: %s\n", v)
	fmt.Fprintln(out, "nmap is available.")
	return nil
}
