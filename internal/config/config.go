// Package config loads, validates and saves the tracerama configuration
// file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/tracerama/internal/db"
	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/monitor"
	"github.com/anstrom/tracerama/internal/scanning"
	"github.com/anstrom/tracerama/internal/workers"
)

const (
	configDirPermissions  = 0o750
	configFilePermissions = 0o600
)

// Config represents the complete tracerama configuration.
type Config struct {
	Scanner  ScannerConfig  `yaml:"scanner" json:"scanner" mapstructure:"scanner"`
	Batch    BatchConfig    `yaml:"batch" json:"batch" mapstructure:"batch"`
	Monitor  MonitorConfig  `yaml:"monitor" json:"monitor" mapstructure:"monitor"`
	Output   OutputConfig   `yaml:"output" json:"output" mapstructure:"output"`
	API      APIConfig      `yaml:"api" json:"api" mapstructure:"api"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Logging  logging.Config `yaml:"logging" json:"logging" mapstructure:"logging"`
	Database db.Config      `yaml:"database" json:"database" mapstructure:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis" mapstructure:"redis"`
}

// ScannerConfig holds the defaults for every traceroute request.
type ScannerConfig struct {
	// Scanner binary name or path
	Binary string `yaml:"binary" json:"binary" mapstructure:"binary" validate:"required"`

	Protocol     string        `yaml:"protocol" json:"protocol" mapstructure:"protocol" validate:"oneof=tcp udp"`
	Port         int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=1,max=65535"`
	MaxHops      int           `yaml:"max_hops" json:"max_hops" mapstructure:"max_hops" validate:"min=1,max=255"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout" validate:"gt=0"`
	Verbose      bool          `yaml:"verbose" json:"verbose" mapstructure:"verbose"`
	OutputFormat string        `yaml:"output_format" json:"output_format" mapstructure:"output_format" validate:"oneof=text xml"`
	ExtraArgs    []string      `yaml:"extra_args" json:"extra_args" mapstructure:"extra_args"`

	// Resolve hop hostnames with reverse DNS when nmap did not
	ResolveHostnames bool `yaml:"resolve_hostnames" json:"resolve_hostnames" mapstructure:"resolve_hostnames"`

	// DNS server for reverse lookups (host[:port]); empty uses the system resolver
	DNSServer string `yaml:"dns_server" json:"dns_server" mapstructure:"dns_server"`

	// Maximum number of scans running at once across all commands
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans" mapstructure:"max_concurrent_scans" validate:"min=1"`
}

// BatchConfig controls the batch worker pool.
type BatchConfig struct {
	Concurrency int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size" mapstructure:"queue_size" validate:"min=1"`
	Retries     int           `yaml:"retries" json:"retries" mapstructure:"retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay" validate:"gte=0"`
}

// MonitorConfig controls real-time monitoring.
type MonitorConfig struct {
	Interval         time.Duration `yaml:"interval" json:"interval" mapstructure:"interval" validate:"gt=0"`
	MaxHistory       int           `yaml:"max_history" json:"max_history" mapstructure:"max_history" validate:"min=1"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold" validate:"min=1"`

	// Let the in-flight scan finish on stop instead of canceling it
	WaitOnStop bool `yaml:"wait_on_stop" json:"wait_on_stop" mapstructure:"wait_on_stop"`
}

// OutputConfig controls report files.
type OutputConfig struct {
	Dir  string `yaml:"dir" json:"dir" mapstructure:"dir"`
	CSV  bool   `yaml:"csv" json:"csv" mapstructure:"csv"`
	HTML bool   `yaml:"html" json:"html" mapstructure:"html"`
}

// APIConfig holds the monitor status API settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr" mapstructure:"listen_addr"`
	Port           int           `yaml:"port" json:"port" mapstructure:"port" validate:"min=0,max=65535"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" mapstructure:"allowed_origins"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
}

// RedisConfig controls the monitor event publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" json:"addr" mapstructure:"addr"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
	DB       int    `yaml:"db" json:"db" mapstructure:"db" validate:"min=0"`
	Channel  string `yaml:"channel" json:"channel" mapstructure:"channel"`

	// Also publish an event for every completed scan, not only transitions
	PublishScans bool `yaml:"publish_scans" json:"publish_scans" mapstructure:"publish_scans"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Binary:             scanning.DefaultBinary,
			Protocol:           string(scanning.ProtocolTCP),
			Port:               scanning.DefaultPort,
			MaxHops:            scanning.DefaultMaxHops,
			Timeout:            scanning.DefaultTimeout,
			OutputFormat:       string(scanning.FormatText),
			MaxConcurrentScans: scanning.DefaultMaxConcurrentScans,
		},
		Batch: BatchConfig{
			Concurrency: 4,
			QueueSize:   100,
			Retries:     0,
			RetryDelay:  time.Second,
		},
		Monitor: MonitorConfig{
			Interval:         monitor.DefaultInterval,
			MaxHistory:       monitor.DefaultMaxHistory,
			FailureThreshold: monitor.DefaultFailureThreshold,
			WaitOnStop:       true,
		},
		Output: OutputConfig{
			Dir: "output_data",
		},
		API: APIConfig{
			Enabled:        false,
			ListenAddr:     "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging:  logging.DefaultConfig(),
		Database: db.DefaultConfig(),
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "tracerama:events",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// YAML is a superset of JSON, so .json files go through the same decoder.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPermissions); err != nil {
		return errors.WrapConfigError(errors.CodeDirectoryCreate, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, configFilePermissions); err != nil {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to write config file", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid value %v (rule %q)", fe.Value(), fe.Tag()),
				strings.ToLower(fe.Namespace()), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"API port is required when the API is enabled", "api.port", c.API.Port)
		}
		if c.API.ListenAddr == "" {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"API listen address is required when the API is enabled", "api.listen_addr", c.API.ListenAddr)
		}
	}

	if c.Database.Enabled {
		for field, value := range map[string]string{
			"database.host":     c.Database.Host,
			"database.database": c.Database.Database,
			"database.username": c.Database.Username,
		} {
			if value == "" {
				return errors.NewConfigFieldError(errors.CodeValidation,
					"required when the database is enabled", field, value)
			}
		}
	}

	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"redis address and channel are required when redis is enabled", "redis", c.Redis.Addr)
	}

	return nil
}

// Request builds a traceroute request for target from the scanner defaults.
func (c *Config) Request(target string) scanning.Request {
	return scanning.Request{
		Target:       target,
		Port:         c.Scanner.Port,
		Protocol:     scanning.Protocol(c.Scanner.Protocol),
		MaxHops:      c.Scanner.MaxHops,
		Timeout:      c.Scanner.Timeout,
		ExtraArgs:    append([]string(nil), c.Scanner.ExtraArgs...),
		Verbose:      c.Scanner.Verbose,
		OutputFormat: scanning.OutputFormat(c.Scanner.OutputFormat),
	}
}

// WorkerConfig converts the batch section to a worker pool configuration.
// Retries apply to timeouts only.
func (c *Config) WorkerConfig() workers.Config {
	wc := workers.DefaultConfig()
	wc.Size = c.Batch.Concurrency
	wc.QueueSize = c.Batch.QueueSize
	wc.MaxRetries = c.Batch.Retries
	wc.RetryDelay = c.Batch.RetryDelay
	wc.RetryIf = errors.IsRetryable
	return wc
}

// MonitorSettings converts the monitor section.
func (c *Config) MonitorSettings() monitor.Config {
	return monitor.Config{
		Interval:         c.Monitor.Interval,
		MaxHistory:       c.Monitor.MaxHistory,
		FailureThreshold: c.Monitor.FailureThreshold,
	}
}

// GetAPIAddress returns the full API address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
