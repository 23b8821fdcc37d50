// Package errors provides structured error handling for mapperctl operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
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

	// Scan lifecycle errors.
	CodeInvalidConfig  ErrorCode = "INVALID_CONFIG"
	CodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	CodeSubmitRejected ErrorCode = "SUBMIT_REJECTED"

	// Backend errors.
	CodeTransport     ErrorCode = "TRANSPORT"
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeMalformedData ErrorCode = "MALFORMED_DATA"
)

// ScanError represents an error that occurred while driving a scan.
type ScanError struct {
	Code      ErrorCode
	Message   string
	ScanID    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.ScanID != "" {
		msg = fmt.Sprintf("%s (scan: %s)", msg, e.ScanID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
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

// WithOperation records which operation produced the error.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
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

// NewScanErrorWithID creates a scan error for a specific scan identifier.
func NewScanErrorWithID(code ErrorCode, message, scanID string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		ScanID:  scanID,
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
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
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

// IsCode checks if an error, or any error it wraps, has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsRetryable determines if an error indicates a retryable condition.
// Rejected credentials are not retryable: the next attempt sends the same key.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeTransport:
		return true
	default:
		return false
	}
}

// IsLocal reports whether the error was produced without contacting the backend.
func IsLocal(err error) bool {
	switch GetCode(err) {
	case CodeInvalidConfig, CodeAlreadyRunning, CodeValidation, CodeConfiguration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidConfig creates an error for a scan configuration the user must correct.
func ErrInvalidConfig(field, reason string) *ScanError {
	return NewScanError(CodeInvalidConfig, reason).WithContext("field", field)
}

// ErrAlreadyRunning creates an error for a submission attempted while a scan is active.
func ErrAlreadyRunning(state string) *ScanError {
	return NewScanError(CodeAlreadyRunning, "A scan is already in progress").WithContext("state", state)
}

// ErrSubmitRejected creates an error for a submission the backend declined.
func ErrSubmitRejected(command string) *ScanError {
	return NewScanError(CodeSubmitRejected, "Backend rejected the scan request").WithContext("command", command)
}

// ErrTransport wraps a network or decoding failure on a backend call.
func ErrTransport(operation string, err error) *ScanError {
	return WrapScanError(CodeTransport, "Backend request failed", err).WithOperation(operation)
}

// ErrUnauthorized wraps a backend response that refused the API key.
func ErrUnauthorized(operation string, err error) *ScanError {
	return WrapScanError(CodeUnauthorized, "Backend refused the API key", err).WithOperation(operation)
}

// ErrNotFound creates an error for an unknown scan identifier.
func ErrNotFound(scanID string) *ScanError {
	return NewScanErrorWithID(CodeNotFound, "Scan not found", scanID)
}

// ErrMalformedData creates an error for a scan record missing required fields.
func ErrMalformedData(scanID, field string) *ScanError {
	return NewScanErrorWithID(CodeMalformedData, "Scan record is malformed", scanID).WithContext("field", field)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
