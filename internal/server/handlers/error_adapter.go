package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/s3conduit/internal/errors"
)

// httpErrorResponder is the pluggable error-to-response adapter used by
// respondWithError. Tests override it to assert handlers call through
// without depending on the concrete apperrors rendering.
var httpErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder overrides the responder used by respondWithError.
// Passing nil restores the default (apperrors.RespondWithError).
func SetHTTPErrorResponder(fn func(w http.ResponseWriter, r *http.Request, err error)) {
	if fn == nil {
		ResetHTTPErrorResponder()
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

// respondWithError routes err through the currently installed responder.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
