package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Exception is a thrown Ox value travelling up the call stack. Runtime
// errors are exceptions whose value is the message string. Only exceptions
// are catchable by try/catch.
type Exception struct {
	Value Value
	Trace []string // innermost frame first
}

func (e *Exception) Error() string {
	msg := "uncaught exception: " + ToString(e.Value)
	if len(e.Trace) > 0 {
		msg += " (" + strings.Join(e.Trace, " <- ") + ")"
	}
	return msg
}

// Message returns the thrown value's display form without the trace.
func (e *Exception) Message() string {
	return ToString(e.Value)
}

// Throwf creates an exception carrying a formatted message string.
func Throwf(format string, args ...interface{}) *Exception {
	return &Exception{Value: fmt.Sprintf(format, args...)}
}

// ExitError terminates execution with a process exit status. It is not
// catchable by try/catch.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// IsExit reports whether err carries an exit request and returns its status.
func IsExit(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return 0, false
}

// asException converts an error raised by a builtin into something the
// interpreter can propagate. Exit requests and cancellation pass through
// untouched; any other error becomes a catchable exception.
func asException(err error) error {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, errCancelled) {
		return err
	}
	return &Exception{Value: err.Error()}
}

var errCancelled = errors.New("execution cancelled")
