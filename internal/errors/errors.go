package errors

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers of the identity services.
type Kind int

const (
	// KindUnexpected covers store and infrastructure failures.
	KindUnexpected Kind = iota
	// KindConflict is returned for a duplicate identity.
	KindConflict
	// KindNotFound is returned when no matching credential exists.
	KindNotFound
	// KindUnauthorized covers wrong passwords, bad OTPs and invalid tokens.
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unexpected"
	}
}

// Error is a classified error. Error() only ever returns Message, so the
// wrapped cause never reaches a client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// holds for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrConflict matches every KindConflict error.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrNotFound matches every KindNotFound error.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrUnauthorized matches every KindUnauthorized error.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrUnexpected matches every KindUnexpected error.
	ErrUnexpected = &Error{Kind: KindUnexpected}
)

// Conflict builds a KindConflict error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// NotFound builds a KindNotFound error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Unexpected hides cause behind a generic message.
func Unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: "unexpected error", Err: cause}
}

// KindOf reports the kind of err. Unclassified errors are KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	switch KindOf(err) {
	case KindConflict:
		return NewHTTPError(http.StatusConflict, err.Error(), "CONFLICT")
	case KindNotFound:
		return NewHTTPError(http.StatusNotFound, err.Error(), "NOT_FOUND")
	case KindUnauthorized:
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
	default:
		return NewHTTPError(http.StatusInternalServerError, "An unexpected error occurred.", "INTERNAL_ERROR")
	}
}
