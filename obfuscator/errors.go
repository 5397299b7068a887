package obfuscator

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Run wraps exactly one of them.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrParse         = errors.New("parse error")
	ErrTransform     = errors.New("transform error")
	ErrSerialization = errors.New("serialization error")
	ErrEncoding      = errors.New("encoding error")
)

// ErrNoTransform is the cause of the configuration error raised for a
// request that selects no transform.
var ErrNoTransform = errors.New("no transform selected")

// Error is a failed run: which kind of failure, the stage it happened in
// and the underlying cause. errors.Is matches both the kind and anything in
// the cause chain.
type Error struct {
	Kind  error
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

func fail(kind error, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind of err, or nil if err did not come from Run.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
