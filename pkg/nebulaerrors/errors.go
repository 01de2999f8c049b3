// Package nebulaerrors provides the tagged error type used across the extractor.
//
// Every failure that leaves a component is an *Error carrying a Kind. The kind
// drives two decisions: whether the retry executor may try again, and which
// exit code the CLI reports.
//
// # Basic Usage
//
//	if params.User == "" {
//	    return nebulaerrors.New(nebulaerrors.KindConfiguration, "Parameter user is missing.")
//	}
//
//	rows, err := db.QueryContext(ctx, query)
//	if err != nil {
//	    return nebulaerrors.Wrap(err, nebulaerrors.KindTransient, "Error fetching tables").
//	        WithDetail("query", query)
//	}
//
// # Messages
//
// Error() renders "<message>: <cause>" without the kind prefix, since these
// strings are shown to end users of the extractor verbatim.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Finish WithDetail
// calls before sharing an error across goroutines.
package nebulaerrors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// Kind categorizes an error for retry and exit-code decisions.
type Kind string

const (
	// KindConfiguration marks invalid input: missing parameters, conflicting
	// options, unusable incremental columns. Never retried.
	KindConfiguration Kind = "configuration"
	// KindTransient marks a database-layer failure that may succeed on retry.
	KindTransient Kind = "transient"
	// KindDeadConnection marks a failed liveness probe.
	KindDeadConnection Kind = "dead_connection"
	// KindFatal marks an internal failure (I/O on output files, bugs). Never retried.
	KindFatal Kind = "fatal"
)

// Exit codes reported by the CLI.
const (
	ExitSuccess     = 0
	ExitUserError   = 1
	ExitApplication = 2
)

// Error is a structured error with a kind, context details, and the call
// stack at its creation point.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given kind, capturing the call stack.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a kind and a context message. If err is already an
// *Error its stack trace is preserved. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Kind:    kind,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// KindOf returns the kind of the outermost *Error in err's chain, or the
// empty Kind if there is none.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsKind reports whether the outermost *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the retry executor may attempt the operation
// again. Untyped errors coming straight from the database driver are
// retryable; configuration and fatal errors and context cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch KindOf(err) {
	case KindConfiguration, KindFatal:
		return false
	default:
		return true
	}
}

// ExitCode maps an error to the process exit code: user-facing kinds exit
// with 1, everything else with 2.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch KindOf(err) {
	case KindConfiguration, KindTransient, KindDeadConnection:
		return ExitUserError
	default:
		return ExitApplication
	}
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
