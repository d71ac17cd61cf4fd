package scanning

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/logging"
)

const (
	// DefaultBinary is the scanner looked up on PATH.
	DefaultBinary = "nmap"

	// defaultGracePeriod bounds how long Run waits for pipes to close after
	// the process group was killed.
	defaultGracePeriod = 2 * time.Second

	versionTimeout = 10 * time.Second
)

// Runner executes one scanner invocation.
type Runner interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// Invoker runs the scanner binary as a child process.
type Invoker struct {
	binary      string
	gracePeriod time.Duration
	logger      *logging.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithBinary overrides the scanner binary name or path.
func WithBinary(binary string) InvokerOption {
	return func(i *Invoker) {
		if binary != "" {
			i.binary = binary
		}
	}
}

// WithGracePeriod sets how long to wait for output pipes after a kill.
func WithGracePeriod(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.gracePeriod = d
		}
	}
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l *logging.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(opts ...InvokerOption) *Invoker {
	i := &Invoker{
		binary:      DefaultBinary,
		gracePeriod: defaultGracePeriod,
		logger:      logging.Default().WithComponent("invoker"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Binary returns the configured scanner binary.
func (i *Invoker) Binary() string {
	return i.binary
}

// BuildArgs returns the scanner argument list for req. The list is fully
// determined by the request.
func BuildArgs(req Request) []string {
	target, err := hostTarget(req.Target)
	if err != nil {
		target = req.Target
	}

	scanType := "-sT"
	if req.Protocol == ProtocolUDP {
		scanType = "-sU"
	}

	args := []string{
		"-p", strconv.Itoa(req.Port),
		scanType,
		"-Pn",
		"--traceroute",
		"--max-retries", "1",
		"--host-timeout", strconv.Itoa(timeoutSeconds(req.Timeout)) + "s",
	}
	if req.Verbose {
		args = append(args, "-vv")
	}
	args = append(args, "-n")
	args = append(args, req.ExtraArgs...)
	if req.OutputFormat == FormatXML {
		args = append(args, "-oX", "-")
	}
	return append(args, target)
}

func timeoutSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Run validates req, executes the scanner once and classifies the outcome.
// Every failure is returned as an *errors.ScanError.
func (i *Invoker) Run(ctx context.Context, req Request) (Output, error) {
	if err := ValidateRequest(req); err != nil {
		return Output{}, err
	}

	path, err := exec.LookPath(i.binary)
	if err != nil {
		return Output{}, errors.ErrBinaryNotFound(i.binary, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := BuildArgs(req)
	cmd := exec.CommandContext(runCtx, path, args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = i.gracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	i.logger.Debug("Running scanner", "target", req.Target, "binary", path, "args", strings.Join(args, " "))

	start := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  cmd.ProcessState.ExitCode(),
		StartedAt: start,
		Duration:  time.Since(start),
	}

	if runErr == nil {
		return out, nil
	}
	return out, i.classifyRunError(ctx, runCtx, req, out, runErr)
}

// classifyRunError maps a process error to the typed failure set.
func (i *Invoker) classifyRunError(parent, runCtx context.Context, req Request, out Output, runErr error) error {
	switch {
	case parent.Err() != nil && stderrors.Is(parent.Err(), context.Canceled):
		return errors.ErrScanCanceled(req.Target, parent.Err())
	case runCtx.Err() != nil:
		return errors.ErrScanTimeout(req.Target, req.Timeout)
	}

	var exitErr *exec.ExitError
	if stderrors.As(runErr, &exitErr) {
		stderr := strings.TrimSpace(out.Stderr)
		if isPrivilegeFailure(out.Stderr + out.Stdout) {
			e := errors.ErrPermissionDenied(req.Target, stderr, runErr)
			e.ExitCode = exitErr.ExitCode()
			return e
		}
		return errors.ErrNonZeroExit(req.Target, exitErr.ExitCode(), stderr)
	}

	if stderrors.Is(runErr, exec.ErrNotFound) || stderrors.Is(runErr, os.ErrNotExist) {
		return errors.ErrBinaryNotFound(i.binary, runErr)
	}
	if stderrors.Is(runErr, os.ErrPermission) {
		return errors.ErrPermissionDenied(req.Target, "", runErr)
	}
	return errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "scanner execution failed", req.Target, runErr)
}

var privilegeMarkers = []string{
	"requires root privileges",
	"Operation not permitted",
	"dnet: Failed to open device",
	"You requested a scan type which requires root",
}

func isPrivilegeFailure(text string) bool {
	for _, marker := range privilegeMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Version runs "<binary> --version" and returns the first line of output.
func (i *Invoker) Version(ctx context.Context) (string, error) {
	path, err := exec.LookPath(i.binary)
	if err != nil {
		return "", errors.ErrBinaryNotFound(i.binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--version")
	configureProcessGroup(cmd)
	cmd.WaitDelay = i.gracePeriod

	raw, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.ErrScanTimeout(i.binary, versionTimeout)
		}
		return "", errors.WrapScanError(errors.CodeScanFailed, "scanner version check failed", err).
			WithContext("binary", i.binary)
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", errors.NewScanError(errors.CodeMalformedOutput, "scanner printed no version")
}

func asScanError(err error) (*errors.ScanError, bool) {
	var se *errors.ScanError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}
