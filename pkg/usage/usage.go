// Package usage provides the fatal, user-fixable error type and process exit codes.
//
// A usage error aborts the whole run: it is raised for missing or invalid
// arguments and for any misconfiguration a unit of work discovers that the
// user must fix before re-running. It is found anywhere in a wrap chain, so a
// transport error wrapping a usage error is still fatal.
package usage

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes returned by the dumper binary.
const (
	ExitSuccess  = 0 // Every required task succeeded
	ExitFailure  = 1 // A required task failed, or a runtime error
	ExitUsage    = 2 // Invalid arguments or configuration
	ExitInternal = 3 // Engine invariant violated (a bug)
)

// Error is a user-fixable misconfiguration.
type Error struct {
	Message string
	Details []string // additional lines shown to the user
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode implements the exit-code contract used by ExitCode.
func (e *Error) ExitCode() int {
	return ExitUsage
}

// Messages returns the message, with its cause if any, followed by every
// detail line.
func (e *Error) Messages() []string {
	return append([]string{e.Error()}, e.Details...)
}

// New creates a usage error with optional detail lines.
func New(message string, details ...string) *Error {
	return &Error{Message: message, Details: details}
}

// Newf creates a usage error with formatting.
func Newf(format string, args ...any) *Error {
	return New(fmt.Sprintf(format, args...))
}

// Wrap wraps cause as a usage error.
func Wrap(cause error, message string) *Error {
	return &Error{Message: message, Cause: cause}
}

// As reports whether err, or anything it wraps, is a usage error.
func As(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Is reports whether err carries a usage error anywhere in its chain.
func Is(err error) bool {
	_, ok := As(err)
	return ok
}

// Format renders the message chain of a usage error, one line per message.
// Other errors are rendered with their Error text.
func Format(err error) string {
	if err == nil {
		return ""
	}
	ue, ok := As(err)
	if !ok {
		return err.Error()
	}
	return strings.Join(ue.Messages(), "\n")
}

type exitCoder interface {
	ExitCode() int
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return ExitFailure
}
