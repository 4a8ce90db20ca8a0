package adminapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedPayload is returned when the API answers 2xx with a body
// that is not JSON
var ErrMalformedPayload = errors.New("malformed response payload")

// ErrUnknownResource is returned by Resource for names the registry lacks
var ErrUnknownResource = errors.New("unknown resource")

// TransportError means the request never completed: DNS, connect, TLS,
// reset, or the caller's context ending.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a completed request the API rejected, either with a non-2xx
// status or with success:false in the envelope
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Message    string
	Fields     map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// IsNotFound reports whether the API answered 404
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}
