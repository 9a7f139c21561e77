// Package errors provides structured error types for upstream HTTP clients.
//
// This package defines error codes and types that enable:
//   - Consistent classification of upstream failures
//   - Machine-readable error codes for programmatic handling
//   - Retry decisions without string matching
//   - Error wrapping with context preservation
//
// # Taxonomy
//
// Three kinds of failure come out of an upstream call:
//   - [RateLimitedError]: HTTP 429, carries the server's Retry-After delay
//   - [APIError]: any other 4xx/5xx, or a body that could not be decoded
//   - [Error] with [ErrCodeNetwork] or [ErrCodeTimeout]: transport failures
//
// Types that may succeed on a later attempt report Transient() == true.
// The retry executor in httputil consults that method, so this package does
// not need to know anything about retry policy.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidEndpoint, "endpoint %q is absolute", ep)
//	if errors.Is(err, errors.ErrCodeInvalidEndpoint) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeNetwork, origErr, "GET %s", url)
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidEndpoint Code = "INVALID_ENDPOINT"
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Upstream errors
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"
	ErrCodeUpstream    Code = "UPSTREAM_ERROR"

	// Internal errors
	ErrCodeClosed   Code = "CLOSED"
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// DefaultRetryAfter is used when a 429 response has no usable Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// MaxBodySnippet is the number of body bytes kept on an [APIError].
const MaxBodySnippet = 200

var (
	// ErrNotFound matches any [APIError] with status 404 via errors.Is.
	ErrNotFound = errors.New("resource not found")

	// ErrClosed is returned by clients after Close.
	ErrClosed = &Error{Code: ErrCodeClosed, Message: "client is closed"}
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure happened below HTTP and may not
// recur: connection errors and per-attempt timeouts.
func (e *Error) Transient() bool {
	return e.Code == ErrCodeNetwork || e.Code == ErrCodeTimeout
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// coder is implemented by every typed error in this package.
type coder interface {
	Code() Code
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error, [RateLimitedError] or
// [APIError] with a matching code.
func Is(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if no typed error is found in the chain.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// RateLimitedError is returned for HTTP 429 responses.
type RateLimitedError struct {
	RetryAfter time.Duration // Server-requested delay before the next attempt
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	msg := "rate limited"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", msg, e.RetryAfter)
	}
	return msg
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}

// Transient always reports true; the server asked us to come back later.
func (e *RateLimitedError) Transient() bool { return true }

// RetryAfterDelay returns the server-requested delay, or [DefaultRetryAfter]
// when none was supplied.
func (e *RateLimitedError) RetryAfterDelay() time.Duration {
	if e.RetryAfter <= 0 {
		return DefaultRetryAfter
	}
	return e.RetryAfter
}

// APIError is a non-429 error response from an upstream, or a response body
// that could not be decoded.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string // At most MaxBodySnippet bytes of the response body
	Message    string // Optional; set for decode failures
}

// NewAPIError builds an APIError, truncating body to [MaxBodySnippet] bytes.
func NewAPIError(status int, method, url string, body []byte) *APIError {
	if len(body) > MaxBodySnippet {
		body = body[:MaxBodySnippet]
	}
	return &APIError{StatusCode: status, Method: method, URL: url, Body: string(body)}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	s := fmt.Sprintf("upstream error: %s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
	if e.Body != "" {
		s += ": " + e.Body
	}
	return s
}

// Code returns [ErrCodeNotFound] for 404 responses, [ErrCodeUpstream] otherwise.
func (e *APIError) Code() Code {
	if e.StatusCode == http.StatusNotFound {
		return ErrCodeNotFound
	}
	return ErrCodeUpstream
}

// Transient reports whether the upstream failed on its side (5xx).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
