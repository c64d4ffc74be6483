package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Domain codes for the mandate and debit lifecycle.
	ErrDuplicateMandate   ErrorCode = "DUPLICATE_MANDATE"
	ErrInvalidAmount      ErrorCode = "INVALID_AMOUNT"
	ErrIllegalTransition  ErrorCode = "ILLEGAL_TRANSITION"
	ErrRetryExhausted     ErrorCode = "RETRY_EXHAUSTED"
	ErrGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrGatewayRejected    ErrorCode = "GATEWAY_REJECTED"
	ErrUnknownAttempt     ErrorCode = "UNKNOWN_ATTEMPT"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Transient reports whether the error is worth retrying with backoff.
// Only gateway unavailability qualifies; validation errors never do.
func Transient(err error) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == ErrGatewayUnavailable
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound, ErrUnknownAttempt:
			return http.StatusNotFound
		case ErrConflict, ErrDuplicateMandate, ErrIllegalTransition, ErrRetryExhausted:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrInvalidAmount:
			return http.StatusBadRequest
		case ErrGatewayRejected:
			return http.StatusUnprocessableEntity
		case ErrGatewayUnavailable:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
