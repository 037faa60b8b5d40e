package errors

import (
	"errors"
	"net/http"
)

// HTTPError is an augmented error with a HTTP status code.
type HTTPError struct {
	StatusCode int
	error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.error.Error()
}

// Unwrap returns the error carried by e.
func (e *HTTPError) Unwrap() error {
	return e.error
}

// NewMethodNotAllowed returns a 405 HTTPError for method.
func NewMethodNotAllowed(method string) *HTTPError {
	return &HTTPError{http.StatusMethodNotAllowed, errors.New(`Method is not allowed:"` + method + `"`)}
}

// NewBadRequest creates a HTTPError with the given error and error code 400.
func NewBadRequest(err error) *HTTPError {
	return &HTTPError{http.StatusBadRequest, err}
}

// NewBadRequestString returns a HTTPError with the supplied message
// and error code 400.
func NewBadRequestString(s string) *HTTPError {
	return NewBadRequest(errors.New(s))
}

// NewBadRequestMissingParameter returns a 400 HTTPError as a required
// parameter is missing in the HTTP request.
func NewBadRequestMissingParameter(s string) *HTTPError {
	return NewBadRequestString(`Missing parameter "` + s + `"`)
}

// StatusCode returns the HTTP status an error should be reported with.
// Request and input errors map to 400, missing records to 404.
func StatusCode(err error) int {
	var herr *HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &herr) && herr.StatusCode != 0:
		return herr.StatusCode
	case IsNotFound(err):
		return http.StatusNotFound
	case IsArgument(err), IsParse(err), IsUnsupported(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
