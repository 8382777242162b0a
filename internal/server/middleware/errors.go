// Package middleware provides chi-compatible HTTP middleware for panic
// recovery, request ID propagation, and the JSON error envelope shared by
// every handler in internal/server.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/fulmenhq/gofulmen/errors"
)

type requestIDKey struct{}

// ErrorResponse is the JSON body written by Recovery and writeErrorResponse.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody mirrors the gofulmen error envelope fields surfaced over HTTP.
type ErrorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RequestID assigns an X-Request-ID header (generating one if absent) and
// stores it in the request context for downstream middleware to read.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFrom prefers the context value set by RequestID, falling back to
// the incoming header so Recovery works even when chained without RequestID.
func requestIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(requestIDKey{}).(string); ok && v != "" {
		return v
	}
	return r.Header.Get("X-Request-ID")
}

// Recovery catches panics in the handler chain and converts them into a 500
// INTERNAL_ERROR JSON response instead of crashing the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				var msg string
				switch v := rec.(type) {
				case error:
					msg = fmt.Sprintf("panic: %v", v)
				default:
					msg = fmt.Sprintf("panic: %v", v)
				}
				envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", msg).
					WithCorrelationID(requestIDFrom(r))
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery, named for readability at call sites
// that are specifically about converting errors rather than panics.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse renders a gofulmen ErrorEnvelope as the standard JSON
// error body, at the given HTTP status.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	body := ErrorResponse{Error: ErrorBody{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
		Details:   envelope.Context,
	}}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
