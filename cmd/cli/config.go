package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/db"
	"github.com/anstrom/tracerama/internal/errors"
)

const dbStatusTimeout = 15 * time.Second

var configForce bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Show, create or validate the tracerama configuration file. Values can
also be overridden with TRACERAMA_* environment variables, for example
TRACERAMA_SCANNER_PORT=443 or TRACERAMA_MONITOR_INTERVAL=30s.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Database.Password = redact(cfg.Database.Password)
		cfg.Redis.Password = redact(cfg.Redis.Password)

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := getConfigFilePath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return errors.NewConfigFieldError(errors.CodeConfiguration,
				"config file already exists; use --force to overwrite", "path", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s is valid\n", getConfigFilePath())
		return nil
	},
}

var configDBStatusCmd = &cobra.Command{
	Use:   "db-status",
	Short: "Show which result store migrations are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), dbStatusTimeout)
		defer cancel()

		database, err := db.Connect(ctx, &cfg.Database)
		if err != nil {
			return err
		}
		defer closeDatabase(database)

		status, err := db.NewMigrator(database.DB).Status(ctx)
		if err != nil {
			return err
		}
		return writeMigrationStatus(cmd.OutOrStdout(), status)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configValidateCmd, configDBStatusCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func writeMigrationStatus(w io.Writer, status []db.MigrationStatus) error {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Status", "Applied At")
	for _, st := range status {
		state, at := "pending", "-"
		if st.Applied {
			state, at = "applied", st.AppliedAt.Format(time.DateTime)
		}
		if err := table.Append([]string{st.Name, state, at}); err != nil {
			return err
		}
	}
	return table.Render()
}
