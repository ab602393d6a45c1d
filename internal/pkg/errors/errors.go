package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeNotReady     = "NOT_READY"
	ErrCodeAuthFailure  = "AUTH_FAILURE"
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Error is the gateway's typed error. Engine operations return it and the
// HTTP layer maps it to a stable status and machine-readable code.
type Error struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: message}
}

func Conflict(message string, details interface{}) *Error {
	return &Error{Status: http.StatusConflict, Code: ErrCodeConflict, Message: message, Details: details}
}

func Timeout(message string) *Error {
	return &Error{Status: http.StatusGatewayTimeout, Code: ErrCodeTimeout, Message: message}
}

func NotReady(message string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Code: ErrCodeNotReady, Message: message}
}

func AuthFailure(message string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: ErrCodeAuthFailure, Message: message}
}

func InvalidInput(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidInput, Message: message}
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: err.Error()}
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// Write maps any error to its HTTP representation. Untyped errors become 500s.
func Write(w http.ResponseWriter, err error) {
	var appErr *Error
	if errors.As(err, &appErr) {
		WriteError(w, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, err.Error(), nil)
}
