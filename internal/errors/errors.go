package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors.
//
// TRANSPORT and TIMEOUT are the only codes that change the control flow of a
// polling cycle. SINK and NOTIFY failures are logged and swallowed.
const (
	ErrConfig    = "CONFIG"
	ErrSSH       = "SSH"
	ErrExec      = "EXEC"
	ErrTransport = "TRANSPORT"
	ErrTimeout   = "TIMEOUT"
	ErrSink      = "SINK"
	ErrNotify    = "NOTIFY"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered for terminals as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface with the multi-line terminal format.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var ntpErr *Error
	if errors.As(err, &ntpErr) {
		return ntpErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost structured error in the chain,
// or an empty string if there is none.
func CodeOf(err error) string {
	var ntpErr *Error
	if errors.As(err, &ntpErr) {
		return ntpErr.Code
	}
	return ""
}

// Describe flattens an error into a single line suitable for log lines and
// alert bodies: the structured message followed by its cause.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var ntpErr *Error
	if !errors.As(err, &ntpErr) {
		return strings.TrimSpace(err.Error())
	}
	if ntpErr.Cause == nil {
		return ntpErr.Message
	}
	cause := Describe(ntpErr.Cause)
	if cause == "" || strings.Contains(ntpErr.Message, cause) {
		return ntpErr.Message
	}
	return ntpErr.Message + ": " + cause
}
