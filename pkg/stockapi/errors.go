package stockapi

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failed backend request.
type ErrorClass string

const (
	// ErrorClassTransport indicates no HTTP response was received.
	// Examples: connection refused, DNS failure, cancelled context.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassStatus indicates the backend answered with a non-2xx status.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassDecode indicates a 2xx response whose body could not be parsed.
	ErrorClassDecode ErrorClass = "decode"
)

// FetchError is a classified backend request failure.
type FetchError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Endpoint is the route template that was requested, e.g. /stocks/{symbol}.
	Endpoint string `json:"endpoint"`

	// StatusCode is the HTTP status, zero for transport errors.
	StatusCode int `json:"status_code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("[%s] %s %s", e.Class, e.Endpoint, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("[%s] %s: status %d %s", e.Class, e.Endpoint, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches another *FetchError of the same class. An empty target class
// matches any FetchError.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return t.Class == "" || e.Class == t.Class
}

// NewTransportError creates a transport error.
func NewTransportError(endpoint string, err error) *FetchError {
	return &FetchError{
		Class:    ErrorClassTransport,
		Endpoint: endpoint,
		Message:  "request failed",
		Err:      err,
	}
}

// NewStatusError creates a status error.
func NewStatusError(endpoint string, statusCode int, body string) *FetchError {
	return &FetchError{
		Class:      ErrorClassStatus,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    body,
	}
}

// NewDecodeError creates a decode error.
func NewDecodeError(endpoint string, statusCode int, err error) *FetchError {
	return &FetchError{
		Class:      ErrorClassDecode,
		Endpoint:   endpoint,
		StatusCode: statusCode,
		Message:    "invalid response body",
		Err:        err,
	}
}

// IsTransport checks if an error is a transport error.
func IsTransport(err error) bool {
	return hasClass(err, ErrorClassTransport)
}

// IsStatus checks if an error is a non-2xx status error.
func IsStatus(err error) bool {
	return hasClass(err, ErrorClassStatus)
}

// IsDecode checks if an error is a decode error.
func IsDecode(err error) bool {
	return hasClass(err, ErrorClassDecode)
}

// StatusCode extracts the HTTP status code from the error chain, or zero.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// Class extracts the error class from the error chain, or "".
func Class(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ""
}

func hasClass(err error, class ErrorClass) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class == class
	}
	return false
}
