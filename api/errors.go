// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error kinds and structured errors shared by pool, concurrency and transport layers.

package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the subsystem contract it broke.
type Kind int

const (
	KindGeneric Kind = iota
	KindStop
	KindTimeout
	KindInput
	KindOutput
	KindConnect
	KindDisconnect
	KindCommand
	KindBuffer
	KindPool
	KindObject
	KindPointer
)

var kindNames = [...]string{
	KindGeneric:    "generic",
	KindStop:       "stop",
	KindTimeout:    "timeout",
	KindInput:      "input",
	KindOutput:     "output",
	KindConnect:    "connect",
	KindDisconnect: "disconnect",
	KindCommand:    "command",
	KindBuffer:     "buffer",
	KindPool:       "pool",
	KindObject:     "object",
	KindPointer:    "pointer",
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Common errors used across the library.
var (
	ErrTimeout       = &Error{Kind: KindTimeout, Msg: "operation timeout"}
	ErrStopped       = &Error{Kind: KindStop, Msg: "stopped"}
	ErrCommandFailed = &Error{Kind: KindCommand, Msg: "command returned false"}
	ErrNotSupported  = &Error{Kind: KindCommand, Msg: "command not supported"}
)

// Error represents a structured error with kind and context.
type Error struct {
	Kind    Kind
	Op      string
	Msg     string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if len(e.Context) == 0 {
		return fmt.Sprintf("[%s] %s", e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s (context: %+v)", e.Kind, msg, e.Context)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so sentinels
// like ErrTimeout survive wrapping with an operation name.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Op == "" && t.Err == nil
}

// NewError creates a new structured error.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap attaches a kind and operation to err. Nil stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the outermost *Error in err's chain,
// KindGeneric when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg == "" && e.Kind == KindGeneric {
			if inner := KindOf(e.Err); inner != KindGeneric {
				return inner
			}
		}
		return e.Kind
	}
	return KindGeneric
}

// IsTimeout reports whether err carries KindTimeout.
func IsTimeout(err error) bool { return err != nil && KindOf(err) == KindTimeout }

// IsFatal reports whether err must close the affected connection or
// component instead of being retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindInput, KindOutput, KindConnect, KindDisconnect, KindBuffer, KindPool, KindPointer, KindObject:
		return true
	}
	return false
}
