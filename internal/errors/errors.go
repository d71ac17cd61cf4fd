// Package errors provides structured error handling for tracerama operations.
// It defines error codes, error types, and provides utilities for creating
// and classifying the typed failures of the scan pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Invocation and parsing errors.
	CodeBinaryNotFound  ErrorCode = "BINARY_NOT_FOUND"
	CodeNonZeroExit     ErrorCode = "NON_ZERO_EXIT"
	CodeMalformedOutput ErrorCode = "MALFORMED_OUTPUT"
	CodeBusy            ErrorCode = "BUSY"
	CodeScanFailed      ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"

	// File system errors.
	CodeFileNotFound    ErrorCode = "FILE_NOT_FOUND"
	CodeFilePermission  ErrorCode = "FILE_PERMISSION"
	CodeDirectoryCreate ErrorCode = "DIRECTORY_CREATE"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ScanError represents an error that occurred while invoking the scanner
// binary or interpreting its output.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}

	// ExitCode and Stderr are set for CodeNonZeroExit and CodePermission.
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message, operation string, err error) *DatabaseError {
	return &DatabaseError{
		Code:      code,
		Message:   message,
		Operation: operation,
		Cause:     err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain, or CodeUnknown.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
// Nothing is retried automatically; callers opt in.
func IsRetryable(err error) bool {
	return GetCode(err) == CodeTimeout
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeBinaryNotFound, CodeConfiguration:
		return true
	default:
		return false
	}
}

// Guidance returns a user-facing hint for errors that need operator action.
func Guidance(err error) string {
	switch GetCode(err) {
	case CodeBinaryNotFound:
		return "nmap is not installed or not in PATH. Install it first:\n" +
			"  Windows: download from https://nmap.org/download.html\n" +
			"  Linux:   sudo apt-get install nmap\n" +
			"  macOS:   brew install nmap"
	case CodePermission:
		return "nmap needs raw socket privileges for this scan. " +
			"Re-run with sudo, grant CAP_NET_RAW to the nmap binary, or use --protocol tcp (connect scan)."
	case CodeTimeout:
		return "the scan exceeded its deadline; increase --timeout for slow or distant targets."
	case CodeMalformedOutput:
		return "nmap ran but its output could not be understood; re-run with --verbose and check the nmap version."
	default:
		return ""
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target, err)
}

// ErrBinaryNotFound creates an error for a missing scanner binary.
func ErrBinaryNotFound(binary string, err error) *ScanError {
	return WrapScanError(CodeBinaryNotFound, fmt.Sprintf("Scanner binary %q not found", binary), err).
		WithContext("binary", binary)
}

// ErrScanTimeout creates an error for scan timeouts.
func ErrScanTimeout(target string, timeout time.Duration) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout, fmt.Sprintf("Scan operation timed out after %s", timeout), target).
		WithContext("timeout", timeout.String())
}

// ErrScanCanceled creates an error for scans canceled by the caller.
func ErrScanCanceled(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeCanceled, "Scan operation canceled", target, err)
}

// ErrPermissionDenied creates an error for insufficient privileges.
func ErrPermissionDenied(target, stderr string, err error) *ScanError {
	e := WrapScanErrorWithTarget(CodePermission, "Insufficient privileges to run scan", target, err)
	e.Stderr = stderr
	return e
}

// ErrNonZeroExit creates an error for a scanner that reported failure.
func ErrNonZeroExit(target string, code int, stderr string) *ScanError {
	e := NewScanErrorWithTarget(CodeNonZeroExit, fmt.Sprintf("Scanner exited with status %d", code), target)
	e.ExitCode = code
	e.Stderr = stderr
	return e
}

// ErrMalformedOutput creates an error for output the parser refused.
func ErrMalformedOutput(target, reason string) *ScanError {
	return NewScanErrorWithTarget(CodeMalformedOutput, "Malformed scanner output: "+reason, target).
		WithContext("reason", reason)
}

// ErrBusy creates an error for a scan rejected because the same key is in flight.
func ErrBusy(key string) *ScanError {
	return NewScanErrorWithTarget(CodeBusy, "A scan for this key is already in flight", key)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", "connect", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(operation string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", operation, err)
}
