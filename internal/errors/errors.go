// Package errors defines the pipeline error taxonomy.
//
// Handlers return AppError values so the dispatcher can tell benign skips,
// per-job faults and missing dependencies apart without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of pipeline error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the job target no longer exists.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeEmptyContent indicates the target has no text to process.
	ErrCodeEmptyContent ErrorCode = "empty_content"
	// ErrCodeUnsupportedKind indicates no handler is registered for a job kind.
	ErrCodeUnsupportedKind ErrorCode = "unsupported_kind"
	// ErrCodeDependencyUnconfigured indicates a required external service is not configured.
	ErrCodeDependencyUnconfigured ErrorCode = "dependency_unconfigured"
	// ErrCodeExternalService indicates an AI, vector or image service call failed.
	ErrCodeExternalService ErrorCode = "external_service"
	// ErrCodeScopeMismatch indicates the target belongs to a different project than the job.
	ErrCodeScopeMismatch ErrorCode = "scope_mismatch"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured pipeline error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: msg}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return newf(ErrCodeNotFound, format, args...)
}

// EmptyContentf creates a new EmptyContent error with formatted message.
func EmptyContentf(format string, args ...any) *AppError {
	return newf(ErrCodeEmptyContent, format, args...)
}

// UnsupportedKindf creates a new UnsupportedKind error with formatted message.
func UnsupportedKindf(format string, args ...any) *AppError {
	return newf(ErrCodeUnsupportedKind, format, args...)
}

// DependencyUnconfigured reports that the named service is required but missing.
func DependencyUnconfigured(service string) *AppError {
	return &AppError{
		Code:    ErrCodeDependencyUnconfigured,
		Message: service + " is not configured",
		Field:   service,
	}
}

// ScopeMismatch reports a target whose project differs from the job's project.
func ScopeMismatch(targetType, targetID, targetProject, jobProject string) *AppError {
	return newf(ErrCodeScopeMismatch,
		"%s %s belongs to project %s, job scoped to %s", targetType, targetID, targetProject, jobProject)
}

// External wraps a failed call to an external service.
func External(err error, service string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    ErrCodeExternalService,
		Message: service + " call failed",
		Cause:   err,
		Field:   service,
	}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return newf(ErrCodeConflict, format, args...)
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return newf(ErrCodeValidation, format, args...)
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return newf(ErrCodeInternal, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsEmptyContent checks if an error is an EmptyContent error.
func IsEmptyContent(err error) bool {
	return isCode(err, ErrCodeEmptyContent)
}

// IsBenignSkip reports whether err should end the job as done with an explanatory summary.
func IsBenignSkip(err error) bool {
	return IsNotFound(err) || IsEmptyContent(err)
}

// IsUnsupportedKind checks if an error is an UnsupportedKind error.
func IsUnsupportedKind(err error) bool {
	return isCode(err, ErrCodeUnsupportedKind)
}

// IsDependencyUnconfigured checks if an error is a DependencyUnconfigured error.
func IsDependencyUnconfigured(err error) bool {
	return isCode(err, ErrCodeDependencyUnconfigured)
}

// IsExternal checks if an error is an ExternalService error.
func IsExternal(err error) bool {
	return isCode(err, ErrCodeExternalService)
}

// IsScopeMismatch checks if an error is a ScopeMismatch error.
func IsScopeMismatch(err error) bool {
	return isCode(err, ErrCodeScopeMismatch)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
