// Package errors provides the application's HTTP error envelope and a small
// set of constructors mirroring the error taxonomy used across the connector.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HTTPErrorResponse is the wire shape returned by every JSON error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError carries the machine-readable code, a human message, and optional
// correlation/detail fields surfaced to API clients.
type HTTPError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AppError is a typed application error that carries an HTTP status and code
// alongside the wrapped cause.
type AppError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(code string, status int, message string, err error) *AppError {
	return &AppError{Code: code, Status: status, Message: message, Err: err}
}

// NewInvalidInputError builds a 400 error for malformed CLI flags or config.
func NewInvalidInputError(message string) *AppError {
	return newAppError("INVALID_INPUT", http.StatusBadRequest, message, nil)
}

// NewExternalServiceError builds a 503 error for upstream/storage failures.
func NewExternalServiceError(message string) *AppError {
	return newAppError("EXTERNAL_SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, message, nil)
}

// NewNotFoundError builds a 404 error.
func NewNotFoundError(message string) *AppError {
	return newAppError("NOT_FOUND", http.StatusNotFound, message, nil)
}

// WrapInternal wraps err as a 500 INTERNAL_ERROR, preserving ctx cancellation
// as the underlying cause when present.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if ctx != nil && ctx.Err() != nil && err == nil {
		err = ctx.Err()
	}
	return newAppError("INTERNAL_ERROR", http.StatusInternalServerError, message, err)
}

// StatusFor maps a known AppError to its HTTP status, defaulting to 500.
func StatusFor(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// CodeFor maps a known AppError to its machine code, defaulting to INTERNAL_ERROR.
func CodeFor(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL_ERROR"
}

// RespondWithError writes err as a JSON HTTPErrorResponse, deriving the status
// and code from AppError when possible and falling back to 500/INTERNAL_ERROR.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	code := CodeFor(err)

	body := HTTPErrorResponse{Error: HTTPError{
		Code:      code,
		Message:   err.Error(),
		RequestID: r.Header.Get("X-Request-ID"),
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
