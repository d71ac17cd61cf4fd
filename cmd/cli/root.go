// Package cli provides the command-line interface of tracerama. It
// implements the Cobra command tree for single scans, batch scans,
// continuous monitoring, scanner checks and configuration management.
package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/tracerama/internal/config"
	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
)

const (
	defaultConfigFile = "config.yaml"
	envPrefix         = "TRACERAMA"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tracerama",
	Short: "TCP/UDP traceroute driven by nmap",
	Long: `Tracerama runs nmap traceroutes over TCP or UDP, turns the output into
hop tables with round-trip statistics, and writes console, CSV and HTML
reports. Monitor mode repeats a traceroute on an interval and tracks
reachability and route changes over time.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(rootCmd.ErrOrStderr(), err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// initConfig wires environment variables: TRACERAMA_SCANNER_PORT overrides
// scanner.port and so on.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		if err := viper.BindEnv("config"); err == nil {
			if path := viper.GetString("config"); path != "" {
				viper.SetConfigFile(path)
			}
		}
	}
}

// getConfigFilePath returns the config file in use, or the default.
func getConfigFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return defaultConfigFile
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// bindFlags binds command flags to configuration keys. Binding happens when
// the command runs because several commands share keys.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// loadConfig reads the config file, applies flag and environment overrides,
// validates the result and installs the configured logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}

	applyOverrides(cfg)
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg)
	return cfg, nil
}

// applyOverrides copies every explicitly set flag or environment variable
// over the file configuration. Unchanged flags are not considered set.
func applyOverrides(cfg *config.Config) {
	overrideString("scanner.binary", &cfg.Scanner.Binary)
	overrideString("scanner.protocol", &cfg.Scanner.Protocol)
	overrideInt("scanner.port", &cfg.Scanner.Port)
	overrideInt("scanner.max_hops", &cfg.Scanner.MaxHops)
	overrideDuration("scanner.timeout", &cfg.Scanner.Timeout)
	overrideBool("scanner.verbose", &cfg.Scanner.Verbose)
	overrideString("scanner.output_format", &cfg.Scanner.OutputFormat)
	overrideBool("scanner.resolve_hostnames", &cfg.Scanner.ResolveHostnames)
	overrideString("scanner.dns_server", &cfg.Scanner.DNSServer)
	overrideInt("scanner.max_concurrent_scans", &cfg.Scanner.MaxConcurrentScans)
	if viper.IsSet("scanner.extra_args") {
		cfg.Scanner.ExtraArgs = viper.GetStringSlice("scanner.extra_args")
	}

	overrideInt("batch.concurrency", &cfg.Batch.Concurrency)
	overrideInt("batch.queue_size", &cfg.Batch.QueueSize)
	overrideInt("batch.retries", &cfg.Batch.Retries)
	overrideDuration("batch.retry_delay", &cfg.Batch.RetryDelay)

	overrideDuration("monitor.interval", &cfg.Monitor.Interval)
	overrideInt("monitor.max_history", &cfg.Monitor.MaxHistory)
	overrideInt("monitor.failure_threshold", &cfg.Monitor.FailureThreshold)
	overrideBool("monitor.wait_on_stop", &cfg.Monitor.WaitOnStop)

	overrideString("output.dir", &cfg.Output.Dir)
	overrideBool("output.csv", &cfg.Output.CSV)
	overrideBool("output.html", &cfg.Output.HTML)

	overrideBool("api.enabled", &cfg.API.Enabled)
	overrideString("api.listen_addr", &cfg.API.ListenAddr)
	overrideInt("api.port", &cfg.API.Port)
	overrideBool("metrics.enabled", &cfg.Metrics.Enabled)

	overrideBool("database.enabled", &cfg.Database.Enabled)
	overrideString("database.host", &cfg.Database.Host)
	overrideInt("database.port", &cfg.Database.Port)
	overrideString("database.database", &cfg.Database.Database)
	overrideString("database.username", &cfg.Database.Username)
	overrideString("database.password", &cfg.Database.Password)
	overrideString("database.ssl_mode", &cfg.Database.SSLMode)

	overrideBool("redis.enabled", &cfg.Redis.Enabled)
	overrideString("redis.addr", &cfg.Redis.Addr)
	overrideString("redis.password", &cfg.Redis.Password)
	overrideString("redis.channel", &cfg.Redis.Channel)
	overrideBool("redis.publish_scans", &cfg.Redis.PublishScans)

	if viper.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(viper.GetString("logging.level"))
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(viper.GetString("logging.format"))
	}
	overrideString("logging.output", &cfg.Logging.Output)
}

func overrideString(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(key string, dst *bool) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

func overrideDuration(key string, dst *time.Duration) {
	if viper.IsSet(key) {
		*dst = viper.GetDuration(key)
	}
}

// initLogging installs the configured logger as the default.
func initLogging(cfg *config.Config) {
	logConfig := cfg.Logging
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized",
			"level", logConfig.Level, "format", logConfig.Format, "config", getConfigFilePath())
	}
}

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitNotFound    = 3
	exitPermission  = 4
	exitTimeout     = 5
	exitUnreachable = 6
)

// errUnreachable marks a run that completed but did not reach every target.
var errUnreachable = stderrors.New("target not reached")

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if stderrors.Is(err, errUnreachable) {
		return exitUnreachable
	}
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeConfiguration, errors.CodeTargetInvalid:
		return exitConfig
	case errors.CodeBinaryNotFound:
		return exitNotFound
	case errors.CodePermission, errors.CodeFilePermission:
		return exitPermission
	case errors.CodeTimeout:
		return exitTimeout
	default:
		return exitFailure
	}
}

// reportError prints err with operator guidance and returns the exit code.
func reportError(w io.Writer, err error) int {
	code := exitCode(err)
	if code == exitUnreachable {
		return code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errors.Guidance(err); hint != "" {
		fmt.Fprintln(w, hint)
	}
	return code
}
