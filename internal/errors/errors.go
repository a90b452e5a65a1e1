package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"trialsim/domain/core"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:  code,
		Cause: err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Classify wraps a domain error with the matching application code.
// AppErrors pass through unchanged.
func Classify(err error) error {
	if err == nil || IsAppError(err) {
		return err
	}
	switch {
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return WithCode(CodeCancelled, err)
	case stderrors.Is(err, core.ErrInvalidConfig), stderrors.Is(err, core.ErrInvalidScenario):
		return WithCode(CodeValidationError, err)
	case core.IsComputationError(err):
		return ComputationError(err)
	case core.IsDeterminismError(err):
		return WithCode(CodeReplayMismatch, err)
	case core.IsNotFoundError(err):
		return WithCode(CodeNotFound, err)
	case stderrors.Is(err, core.ErrJobQueueFull):
		return WithCode(CodeUnavailable, err)
	}
	return WithCode(CodeInternalError, err)
}

// HTTPStatus maps an error code onto a response status
func HTTPStatus(code string) int {
	switch code {
	case CodeValidationError, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCancelled, CodeReplayMismatch:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Predefined error codes
const (
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeComputationError = "COMPUTATION_ERROR"
	CodePersistenceError = "PERSISTENCE_ERROR"
	CodeExportError      = "EXPORT_ERROR"
	CodeCancelled        = "CANCELLED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeReplayMismatch   = "REPLAY_MISMATCH"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func ComputationError(cause error) *AppError {
	return &AppError{
		Code:    CodeComputationError,
		Message: "simulation failed",
		Cause:   cause,
	}
}

func PersistenceError(operation string, cause error) *AppError {
	return &AppError{
		Code:    CodePersistenceError,
		Message: fmt.Sprintf("could not %s", operation),
		Cause:   cause,
	}
}

func ExportError(format string, cause error) *AppError {
	return &AppError{
		Code:    CodeExportError,
		Message: fmt.Sprintf("%s export failed", format),
		Cause:   cause,
	}
}
