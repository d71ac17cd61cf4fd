package scanning

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
)

const fakeNmapScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo ""
  echo "Nmap version 7.94 ( https://nmap.org )"
  exit 0
fi
case "$FAKE_NMAP_MODE" in
  hang)
    sleep 30 &
    wait
    ;;
  fail)
    echo "Failed to resolve \"nowhere.invalid\"." >&2
    exit 3
    ;;
  root)
    echo "You requested a scan type which requires root privileges." >&2
    echo "QUITTING!" >&2
    exit 1
    ;;
  args)
    echo "$@"
    ;;
  *)
    echo "Nmap scan report for 10.0.0.9"
    echo ""
    echo "TRACEROUTE (using port 80/tcp)"
    echo "HOP RTT     ADDRESS"
    echo "1   0.50 ms 192.168.1.1"
    echo "2   4.10 ms 10.0.0.9"
    echo ""
    echo "Nmap done: 1 IP address (1 host up) scanned in 0.42 seconds"
    ;;
esac
`

// fakeNmap writes a stand-in scanner binary and returns its path.
func fakeNmap(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake scanner is a shell script")
	}
	path := filepath.Join(t.TempDir(), "nmap")
	require.NoError(t, os.WriteFile(path, []byte(fakeNmapScript), 0o755))
	return path
}

func newTestInvoker(t *testing.T, mode string) *Invoker {
	t.Setenv("FAKE_NMAP_MODE", mode)
	return NewInvoker(WithBinary(fakeNmap(t)), WithInvokerLogger(logging.NewDiscard()))
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		want   []string
	}{
		{
			name: "defaults",
			want: []string{"-p", "80", "-sT", "-Pn", "--traceroute", "--max-retries", "1",
				"--host-timeout", "30s", "-n", "example.com"},
		},
		{
			name: "udp verbose xml",
			modify: func(r *Request) {
				r.Protocol = ProtocolUDP
				r.Port = 53
				r.Verbose = true
				r.OutputFormat = FormatXML
				r.Timeout = 1500 * time.Millisecond
			},
			want: []string{"-p", "53", "-sU", "-Pn", "--traceroute", "--max-retries", "1",
				"--host-timeout", "2s", "-vv", "-n", "-oX", "-", "example.com"},
		},
		{
			name: "extra args precede target",
			modify: func(r *Request) {
				r.ExtraArgs = []string{"--ttl", "64"}
			},
			want: []string{"-p", "80", "-sT", "-Pn", "--traceroute", "--max-retries", "1",
				"--host-timeout", "30s", "-n", "--ttl", "64", "example.com"},
		},
		{
			name: "idn target is punycoded",
			modify: func(r *Request) {
				r.Target = "bücher.example"
			},
			want: []string{"-p", "80", "-sT", "-Pn", "--traceroute", "--max-retries", "1",
				"--host-timeout", "30s", "-n", "xn--bcher-kva.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("example.com")
			if tt.modify != nil {
				tt.modify(&req)
			}
			assert.Equal(t, tt.want, BuildArgs(req))
		})
	}
}

func TestInvoker_RunSuccess(t *testing.T) {
	inv := newTestInvoker(t, "ok")

	out, err := inv.Run(context.Background(), NewRequest("10.0.0.9"))
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Contains(t, out.Stdout, "TRACEROUTE (using port 80/tcp)")
	assert.False(t, out.StartedAt.IsZero())

	result, err := Parse(out, NewRequest("10.0.0.9"))
	require.NoError(t, err)
	assert.Len(t, result.Hops, 2)
	assert.True(t, result.TargetReached)
}

func TestInvoker_PassesArguments(t *testing.T) {
	inv := newTestInvoker(t, "args")

	req := NewRequest("10.0.0.9")
	req.Port = 8443
	out, err := inv.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(BuildArgs(req), " "), strings.TrimSpace(out.Stdout))
}

func TestInvoker_NonZeroExit(t *testing.T) {
	inv := newTestInvoker(t, "fail")

	out, err := inv.Run(context.Background(), NewRequest("10.0.0.9"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeNonZeroExit, errors.GetCode(err))
	assert.Equal(t, 3, out.ExitCode)

	se, ok := asScanError(err)
	require.True(t, ok)
	assert.Equal(t, 3, se.ExitCode)
	assert.Contains(t, se.Stderr, "Failed to resolve")
}

func TestInvoker_PermissionDenied(t *testing.T) {
	inv := newTestInvoker(t, "root")

	_, err := inv.Run(context.Background(), NewRequest("10.0.0.9"))
	require.Error(t, err)
	assert.Equal(t, errors.CodePermission, errors.GetCode(err))
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, errors.Guidance(err), "sudo")
}

func TestInvoker_TimeoutKillsProcessGroup(t *testing.T) {
	t.Setenv("FAKE_NMAP_MODE", "hang")
	// A long grace period makes a surviving child visible as a slow return.
	inv := NewInvoker(WithBinary(fakeNmap(t)), WithGracePeriod(10*time.Second),
		WithInvokerLogger(logging.NewDiscard()))

	req := NewRequest("10.0.0.9")
	req.Timeout = 500 * time.Millisecond

	start := time.Now()
	_, err := inv.Run(context.Background(), req)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
	if elapsed > 5*time.Second {
		t.Errorf("Expected Run to return shortly after the timeout, took %v", elapsed)
	}
}

func TestInvoker_Canceled(t *testing.T) {
	inv := newTestInvoker(t, "hang")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := inv.Run(ctx, NewRequest("10.0.0.9"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeCanceled, errors.GetCode(err))
}

func TestInvoker_BinaryNotFound(t *testing.T) {
	inv := NewInvoker(WithBinary(filepath.Join(t.TempDir(), "no-such-nmap")))

	_, err := inv.Run(context.Background(), NewRequest("10.0.0.9"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeBinaryNotFound, errors.GetCode(err))
	assert.Contains(t, errors.Guidance(err), "nmap")
}

func TestInvoker_RejectsInvalidRequest(t *testing.T) {
	inv := newTestInvoker(t, "ok")

	tests := []struct {
		name   string
		modify func(*Request)
		code   errors.ErrorCode
	}{
		{"empty target", func(r *Request) { r.Target = "" }, errors.CodeValidation},
		{"port zero", func(r *Request) { r.Port = 0 }, errors.CodeValidation},
		{"port too high", func(r *Request) { r.Port = 70000 }, errors.CodeValidation},
		{"bad protocol", func(r *Request) { r.Protocol = "icmp" }, errors.CodeValidation},
		{"zero hops", func(r *Request) { r.MaxHops = 0 }, errors.CodeValidation},
		{"zero timeout", func(r *Request) { r.Timeout = 0 }, errors.CodeValidation},
		{"option as target", func(r *Request) { r.Target = "-iL/etc/passwd" }, errors.CodeTargetInvalid},
		{"output redirect", func(r *Request) { r.ExtraArgs = []string{"-oN", "/tmp/x"} }, errors.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRequest("10.0.0.9")
			tt.modify(&req)
			_, err := inv.Run(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestInvoker_Version(t *testing.T) {
	inv := newTestInvoker(t, "ok")

	v, err := inv.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Nmap version 7.94 ( https://nmap.org )", v)
}
