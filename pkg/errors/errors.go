package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	// Authorization errors
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Not found errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound  ErrorCode = "USER_NOT_FOUND"
	ErrCodeGroupNotFound ErrorCode = "GROUP_NOT_FOUND"

	// Delivery errors
	ErrCodeBlocked       ErrorCode = "BLOCKED"
	ErrCodeCalleeOffline ErrorCode = "CALLEE_OFFLINE"
	ErrCodeNotMember     ErrorCode = "NOT_MEMBER"

	// Call signaling errors
	ErrCodeNoSuchCall     ErrorCode = "NO_SUCH_CALL"
	ErrCodeAlreadyHandled ErrorCode = "ALREADY_HANDLED"
	ErrCodeAlreadyInCall  ErrorCode = "ALREADY_IN_CALL"
	ErrCodeCallTimeout    ErrorCode = "CALL_TIMEOUT"

	// Transport errors
	ErrCodeConnectionLost ErrorCode = "CONNECTION_LOST"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func MissingFieldError(field string) *AppError {
	return NewWithStatus(ErrCodeMissingField, fmt.Sprintf("Missing required field: %s", field), http.StatusBadRequest)
}

// Authentication errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func UserNotFoundError() *AppError {
	return NewWithStatus(ErrCodeUserNotFound, "User not found", http.StatusNotFound)
}

func GroupNotFoundError() *AppError {
	return NewWithStatus(ErrCodeGroupNotFound, "Group not found", http.StatusNotFound)
}

// Delivery errors
func BlockedError() *AppError {
	return NewWithStatus(ErrCodeBlocked, "Delivery refused by block relation", http.StatusForbidden)
}

func CalleeOfflineError() *AppError {
	return NewWithStatus(ErrCodeCalleeOffline, "Callee has no live connection", http.StatusConflict)
}

func NotMemberError() *AppError {
	return NewWithStatus(ErrCodeNotMember, "Sender is not a member of the group", http.StatusForbidden)
}

// Call signaling errors
func NoSuchCallError() *AppError {
	return NewWithStatus(ErrCodeNoSuchCall, "No matching call session", http.StatusConflict)
}

func AlreadyHandledError() *AppError {
	return NewWithStatus(ErrCodeAlreadyHandled, "Call was already answered elsewhere", http.StatusConflict)
}

func AlreadyInCallError() *AppError {
	return NewWithStatus(ErrCodeAlreadyInCall, "A call session already exists for this pair", http.StatusConflict)
}

func CallTimeoutError() *AppError {
	return NewWithStatus(ErrCodeCallTimeout, "Ring duration expired", http.StatusConflict)
}

// Transport errors
func ConnectionLostError() *AppError {
	return NewWithStatus(ErrCodeConnectionLost, "Peer connection was lost", http.StatusGone)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", err)
}

func StorageError(err error) *AppError {
	return Wrap(ErrCodeStorage, "Storage error", err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is an AppError type
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

// CodeOf returns the error code of an AppError, or ErrCodeInternal for plain errors
func CodeOf(err error) ErrorCode {
	return GetAppError(err).Code
}

// HasCode reports whether err carries the given application error code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
