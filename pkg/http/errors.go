package http

import (
	"fmt"
	"net/http"
)

// AppError is an application error carrying its HTTP status.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) WithParam(key string, value any) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]any)
	}
	e.Params[key] = value
	return e
}

func NotFoundErrorf(format string, a ...any) *AppError {
	return NewAppError("ERR_NOT_FOUND", fmt.Sprintf(format, a...), http.StatusNotFound)
}

func BadRequestErrorf(format string, a ...any) *AppError {
	return NewAppError("ERR_BAD_REQUEST", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

// ConflictErrorf reports a request the current state refuses, e.g. a halted session.
func ConflictErrorf(format string, a ...any) *AppError {
	return NewAppError("ERR_CONFLICT", fmt.Sprintf(format, a...), http.StatusConflict)
}

func UnavailableErrorf(format string, a ...any) *AppError {
	return NewAppError("ERR_UNAVAILABLE", fmt.Sprintf(format, a...), http.StatusServiceUnavailable)
}
