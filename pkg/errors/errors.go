package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
// Code is drawn from a closed set of kinds; callers switch on it rather than
// parsing messages.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message
// while preserving the kind and status code.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// The closed error taxonomy exposed to API consumers. Every failure surfaced
// by a service resolves to exactly one of these kinds.
var (
	ErrUnauthenticated = &AppError{
		Code:       "UNAUTHENTICATED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidArgument = &AppError{
		Code:       "INVALID_ARGUMENT",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrFailedPrecondition = &AppError{
		Code:       "FAILED_PRECONDITION",
		Message:    "Operation precondition not met",
		StatusCode: http.StatusBadRequest,
	}

	ErrPermissionDenied = &AppError{
		Code:       "PERMISSION_DENIED",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrResourceExhausted = &AppError{
		Code:       "RESOURCE_EXHAUSTED",
		Message:    "Resource limit reached",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrInternal = &AppError{
		Code:       "INTERNAL",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an internal AppError while keeping the original
// error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       ErrInternal.Code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternal.WithInternal(err)
}

// NewInvalidArgument wraps validation failures with a helpful message.
func NewInvalidArgument(message string) *AppError {
	return ErrInvalidArgument.WithMessage(message)
}
