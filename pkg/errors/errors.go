// Package errors defines common error types for the memtrace library.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the library.
const (
	CodeUnknown        = "UNKNOWN_ERROR"
	CodeInitialization = "INITIALIZATION_ERROR"
	CodeIO             = "IO_ERROR"
	CodeEncoding       = "ENCODING_ERROR"
	CodeSamplingConfig = "SAMPLING_CONFIG_ERROR"
	CodeAggregation    = "AGGREGATION_ERROR"
	CodeConfig         = "CONFIG_ERROR"
	CodeStorage        = "STORAGE_ERROR"
	CodeDatabase       = "DATABASE_ERROR"
)

// AppError represents a library error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrInitialization = New(CodeInitialization, "tracker initialization error")
	ErrIO             = New(CodeIO, "i/o error")
	ErrEncoding       = New(CodeEncoding, "trace encoding error")
	ErrSamplingConfig = New(CodeSamplingConfig, "invalid sampling configuration")
	ErrAggregation    = New(CodeAggregation, "aggregation error")
	ErrConfig         = New(CodeConfig, "configuration error")
	ErrStorage        = New(CodeStorage, "storage error")
	ErrDatabase       = New(CodeDatabase, "database error")
)

// IsInitializationError checks if the error is an initialization error.
func IsInitializationError(err error) bool {
	return errors.Is(err, ErrInitialization)
}

// IsIOError checks if the error is an I/O error.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsEncodingError checks if the error is a trace encoding error.
func IsEncodingError(err error) bool {
	return errors.Is(err, ErrEncoding)
}

// IsSamplingConfigError checks if the error is a sampling configuration error.
func IsSamplingConfigError(err error) bool {
	return errors.Is(err, ErrSamplingConfig)
}

// IsAggregationError checks if the error is an aggregation error.
func IsAggregationError(err error) bool {
	return errors.Is(err, ErrAggregation)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
