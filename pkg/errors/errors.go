package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInternal     ErrorCode = "INTERNAL"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"

	// Repository errors
	ErrRepoNotFound       ErrorCode = "REPO_NOT_FOUND"
	ErrAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// Tracking errors
	ErrConflict   ErrorCode = "CONFLICT"
	ErrNotTracked ErrorCode = "NOT_TRACKED"
	ErrSync       ErrorCode = "SYNC"

	// Pattern errors
	ErrPatternInvalid ErrorCode = "PATTERN_INVALID"

	// Watcher errors
	ErrWatcher ErrorCode = "WATCHER"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"

	// FileSystem errors
	ErrFileNotFound  ErrorCode = "FILE_NOT_FOUND"
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"

	// Backup errors
	ErrBackup ErrorCode = "BACKUP"
)

// DotzError represents a structured error with code and details
type DotzError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *DotzError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *DotzError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *DotzError) Is(target error) bool {
	var targetErr *DotzError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new DotzError with the given code and message
func New(code ErrorCode, message string) *DotzError {
	return &DotzError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new DotzError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *DotzError {
	return &DotzError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a DotzError
func Wrap(err error, code ErrorCode, message string) *DotzError {
	if err == nil {
		return nil
	}
	return &DotzError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *DotzError {
	if err == nil {
		return nil
	}
	return &DotzError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *DotzError) WithDetail(key string, value interface{}) *DotzError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var dotzErr *DotzError
	if errors.As(err, &dotzErr) {
		return dotzErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a DotzError
func GetErrorCode(err error) ErrorCode {
	var dotzErr *DotzError
	if errors.As(err, &dotzErr) {
		return dotzErr.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a DotzError
func GetErrorDetails(err error) map[string]interface{} {
	var dotzErr *DotzError
	if errors.As(err, &dotzErr) {
		return dotzErr.Details
	}
	return nil
}
