package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound              ErrorCode = "NOT_FOUND"
	ErrConflict              ErrorCode = "CONFLICT"
	ErrBadRequest            ErrorCode = "BAD_REQUEST"
	ErrInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrInternalServer        ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrValidation            ErrorCode = "VALIDATION_ERROR"
	ErrConcurrencyConflict   ErrorCode = "CONCURRENCY_CONFLICT"
	ErrDownstreamUnavailable ErrorCode = "DOWNSTREAM_UNAVAILABLE"
	// ErrDuplicateEvent is a consumer-side signal and never reaches an API caller.
	ErrDuplicateEvent ErrorCode = "DUPLICATE_EVENT"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e APIError) Unwrap() error {
	return e.cause
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap attaches a code to an underlying error while keeping it reachable through errors.Is/As.
func Wrap(code ErrorCode, message string, cause error) APIError {
	return APIError{Code: code, Message: message, cause: cause}
}

func Validation(format string, args ...interface{}) APIError {
	return APIError{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) APIError {
	return APIError{Code: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConcurrencyConflict(format string, args ...interface{}) APIError {
	return APIError{Code: ErrConcurrencyConflict, Message: fmt.Sprintf(format, args...)}
}

func DuplicateEvent(eventID string) APIError {
	return APIError{Code: ErrDuplicateEvent, Message: "event already applied", Details: eventID}
}

// CodeOf returns the code of the first APIError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return "", false
}

func Is(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func MapErrorToHTTPStatus(err error) int {
	code, ok := CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrConcurrencyConflict:
		return http.StatusConflict
	case ErrInvalidInput, ErrBadRequest:
		return http.StatusBadRequest
	case ErrValidation:
		return http.StatusUnprocessableEntity
	case ErrDownstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
