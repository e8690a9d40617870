// Package llmerrors classifies inference failures so callers can branch on
// the failure class instead of matching error strings.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType identifies the failure class of an inference call.
type ErrorType int8

const (
	// TypeUnknown covers errors that fit no other class.
	TypeUnknown ErrorType = iota
	// TypeTransport covers connection, DNS, and timeout failures. A task
	// that hits one is failed outright; there is no automatic retry.
	TypeTransport
	// TypeMalformed covers payloads that could not be decoded. Handled
	// locally (dropped line, fallback intent, single-task plan).
	TypeMalformed
	// TypeEmptyResponse covers calls that returned no usable content.
	TypeEmptyResponse
	// TypeAuth covers credential rejections from the backend.
	TypeAuth
	// TypeBadRequest covers requests the backend rejected as invalid,
	// including unknown model names.
	TypeBadRequest
	// TypeCancelled covers user- or supersession-driven cancellation.
	// Cancellation is clean shutdown, not a failure.
	TypeCancelled
)

func (t ErrorType) String() string {
	switch t {
	case TypeTransport:
		return "transport"
	case TypeMalformed:
		return "malformed"
	case TypeEmptyResponse:
		return "empty_response"
	case TypeAuth:
		return "auth"
	case TypeBadRequest:
		return "bad_request"
	case TypeCancelled:
		return "cancelled"
	case TypeUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Error wraps an underlying failure with its classification.
type Error struct {
	Err     error
	Message string
	Type    ErrorType
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with no underlying cause.
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap returns a classified error wrapping err.
func Wrap(t ErrorType, message string, err error) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// TypeOf returns the classification of err, classifying unwrapped errors on
// the fly.
func TypeOf(err error) ErrorType {
	if err == nil {
		return TypeUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Type
	}
	return classify(err)
}

// Is reports whether err carries the given classification.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// classify maps raw errors onto a type. Substring checks mirror the strings
// local inference servers actually return.
func classify(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return TypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return TypeTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "timeout"):
		return TypeTransport
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "401"):
		return TypeAuth
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return TypeBadRequest
	case strings.Contains(msg, "invalid character"),
		strings.Contains(msg, "unexpected end of json"):
		return TypeMalformed
	default:
		return TypeUnknown
	}
}
