package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Session
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrCodeRefreshFailed  ErrorCode = "REFRESH_FAILED"

	// Transport
	ErrCodeNetwork       ErrorCode = "NETWORK_ERROR"
	ErrCodeServer        ErrorCode = "SERVER_ERROR"
	ErrCodeRequestFailed ErrorCode = "REQUEST_FAILED"

	// Contact
	ErrCodeContactExists       ErrorCode = "CONTACT_EXISTS"
	ErrCodeInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"

	// Chat
	ErrCodeSendFailed   ErrorCode = "SEND_FAILED"
	ErrCodeEngineClosed ErrorCode = "ENGINE_CLOSED"

	// Validation
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error that can be surfaced to the presentation layer
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Status  int       `json:"status,omitempty"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithStatus records the HTTP status the server answered with
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func SessionExpired() *AppError {
	return New(ErrCodeSessionExpired, "Session expired, please log in again")
}

func RefreshFailed(cause error) *AppError {
	return Wrap(ErrCodeRefreshFailed, "Token refresh failed", cause)
}

func Network(cause error) *AppError {
	return Wrap(ErrCodeNetwork, "Network error", cause)
}

func Server(status int, detail string) *AppError {
	return New(ErrCodeServer, fmt.Sprintf("Server error (%d): %s", status, detail)).WithStatus(status)
}

func RequestFailed(status int, detail string) *AppError {
	return New(ErrCodeRequestFailed, detail).WithStatus(status)
}

func ContactExists(projectID string) *AppError {
	return New(ErrCodeContactExists, "Contact already exists").WithDetails(map[string]string{"projectId": projectID})
}

func InsufficientCredits(detail string) *AppError {
	return New(ErrCodeInsufficientCredits, detail)
}

func SendFailed(cause error) *AppError {
	return Wrap(ErrCodeSendFailed, "Message could not be sent", cause)
}

func EngineClosed() *AppError {
	return New(ErrCodeEngineClosed, "Conversation is closed")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err is an AppError carrying code
func Is(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsTransient reports whether err is worth retrying for an idempotent request
func IsTransient(err error) bool {
	switch GetCode(err) {
	case ErrCodeNetwork, ErrCodeServer:
		return true
	default:
		return false
	}
}
