// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// ErrValidation marks malformed request bodies.
var ErrValidation = errors.New("validation failed")

// StatusError is implemented by domain errors that carry their own HTTP mapping.
type StatusError interface {
	error
	StatusCode() int
	Title() string
	Detail() string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var se StatusError
	if errors.As(err, &se) {
		Problem(w, se.StatusCode(), se.Title(), se.Detail())
		return
	}
	if errors.Is(err, ErrValidation) {
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
