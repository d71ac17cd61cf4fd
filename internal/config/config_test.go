package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/scanning"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "nmap", cfg.Scanner.Binary)
	assert.Equal(t, "tcp", cfg.Scanner.Protocol)
	assert.Equal(t, 80, cfg.Scanner.Port)
	assert.Equal(t, 30, cfg.Scanner.MaxHops)
	assert.Equal(t, 30*time.Second, cfg.Scanner.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 100, cfg.Monitor.MaxHistory)
	assert.False(t, cfg.API.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.GetAPIAddress())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "valid yaml config",
			file: "config.yaml",
			content: `
scanner:
  protocol: udp
  port: 53
  timeout: 45s
monitor:
  interval: 2s
  max_history: 20
logging:
  level: debug
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "udp", c.Scanner.Protocol)
				assert.Equal(t, 53, c.Scanner.Port)
				assert.Equal(t, 45*time.Second, c.Scanner.Timeout)
				assert.Equal(t, 2*time.Second, c.Monitor.Interval)
				assert.Equal(t, 20, c.Monitor.MaxHistory)
				assert.Equal(t, 30, c.Scanner.MaxHops, "unset fields keep defaults")
			},
		},
		{
			name:    "valid json config",
			file:    "config.json",
			content: `{"scanner": {"max_hops": 12}, "batch": {"concurrency": 2}}`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 12, c.Scanner.MaxHops)
				assert.Equal(t, 2, c.Batch.Concurrency)
			},
		},
		{
			name:    "invalid yaml syntax",
			file:    "config.yaml",
			content: "scanner:\n  port: [",
			wantErr: true,
		},
		{
			name:    "invalid protocol",
			file:    "config.yaml",
			content: "scanner:\n  protocol: icmp\n",
			wantErr: true,
		},
		{
			name:    "port out of range",
			file:    "config.yaml",
			content: "scanner:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "api enabled without port",
			file:    "config.yaml",
			content: "api:\n  enabled: true\n  port: 0\n",
			wantErr: true,
		},
		{
			name:    "database enabled without name",
			file:    "config.yaml",
			content: "database:\n  enabled: true\n  username: tracer\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate_ErrorCodes(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Contains(t, err.Error(), "logging.level")

	cfg = Default()
	cfg.Monitor.Interval = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracerama.yaml")

	cfg := Default()
	cfg.Scanner.ExtraArgs = []string{"--data-length", "16"}
	cfg.Output.CSV = true
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Scanner.Protocol = "udp"
	cfg.Scanner.ExtraArgs = []string{"-n"}
	cfg.Batch.Retries = 2

	req := cfg.Request("example.com")
	assert.Equal(t, scanning.Request{
		Target:       "example.com",
		Port:         80,
		Protocol:     scanning.ProtocolUDP,
		MaxHops:      30,
		Timeout:      30 * time.Second,
		ExtraArgs:    []string{"-n"},
		OutputFormat: scanning.FormatText,
	}, req)
	require.NoError(t, scanning.ValidateRequest(req))

	req.ExtraArgs[0] = "-v"
	assert.Equal(t, "-n", cfg.Scanner.ExtraArgs[0], "requests own their extra args")

	wc := cfg.WorkerConfig()
	assert.Equal(t, 4, wc.Size)
	assert.Equal(t, 2, wc.MaxRetries)
	require.NotNil(t, wc.RetryIf)
	assert.True(t, wc.RetryIf(errors.ErrScanTimeout("x", time.Second)))
	assert.False(t, wc.RetryIf(errors.ErrNonZeroExit("x", 1, "")))

	mc := cfg.MonitorSettings()
	assert.Equal(t, cfg.Monitor.Interval, mc.Interval)
	assert.Equal(t, cfg.Monitor.FailureThreshold, mc.FailureThreshold)
}
