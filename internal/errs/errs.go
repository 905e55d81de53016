package errs

import (
	"errors"
	"fmt"
)

// Code is a scenario error code.
type Code string

const (
	InvalidArgument Code = "invalid_argument"
	Launch          Code = "launch"
	Navigation      Code = "navigation"
	Assertion       Code = "assertion"
	Unavailable     Code = "unavailable"
	Internal        Code = "internal"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitUsage   = 2
	ExitUnknown = 3
)

// Error is a coded scenario error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// Assertionf creates an assertion failure.
func Assertionf(format string, args ...any) error {
	return &Error{
		Code:    Assertion,
		Message: fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// IsAssertion reports whether err is an expected-DOM-state failure.
func IsAssertion(err error) bool {
	return err != nil && CodeOf(err) == Assertion
}

// MessageOf returns the outermost coded message, or "internal error" for untyped errors.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// ExitCode maps an error to a process exit status.
// Every scenario failure, whatever its cause, is a plain failure; only
// argument problems are reported as usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch CodeOf(err) {
	case InvalidArgument:
		return ExitUsage
	case Launch, Navigation, Assertion, Unavailable, Internal:
		return ExitFailed
	default:
		return ExitUnknown
	}
}
