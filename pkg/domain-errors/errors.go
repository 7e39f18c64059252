// Package domainerrors provides coded errors shared by every trustcore module.
//
// Services return these so transport layers can translate them into HTTP
// status codes without inspecting messages. Stores return sentinel errors
// (pkg/platform/sentinel) which services wrap into a coded error.
package domainerrors

import (
	"errors"
	"time"
)

// Code identifies the category of a domain error.
type Code string

const (
	CodeBadRequest            Code = "bad_request"
	CodeValidation            Code = "validation_error"
	CodeUnauthorized          Code = "unauthorized"
	CodeForbidden             Code = "forbidden"
	CodeNotFound              Code = "not_found"
	CodeAccountLocked         Code = "account_locked"
	CodeCapacityExceeded      Code = "capacity_exceeded"
	CodeIntegrityViolation    Code = "integrity_violation"
	CodeDependencyUnavailable Code = "dependency_unavailable"
	CodeInternal              Code = "internal_error"
)

// Error is a coded domain error. Message is safe to log; whether it is shown
// to callers is decided by the transport layer.
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// WithRetryAfter creates a coded error carrying a retry hint, used for
// lockouts and capacity errors.
func WithRetryAfter(code Code, message string, retryAfter time.Duration) error {
	return &Error{Code: code, Message: message, RetryAfter: retryAfter}
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// RetryAfterOf returns the retry hint of the outermost coded error.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
