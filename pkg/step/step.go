// Package step defines the contract between the runner and sub-step
// implementers: how an implementer is described, registered, constructed
// and run, and the Base it reads its configuration through.
package step

import (
	"context"
	"fmt"
	"strings"

	"github.com/ormasoftchile/steprunner/pkg/results"
)

// Implementer runs one sub-step and reports its outcome.
//
// A returned *Error is a declared failure and is recorded as a failed
// result with its message. Any other error aborts the run.
type Implementer interface {
	Run(ctx context.Context) (*results.StepResult, error)
}

// Validator is implemented by implementers that check their configuration
// beyond required keys before Run is called. Returning an *Error records a
// failed result without running.
type Validator interface {
	Validate() error
}

// Descriptor describes an implementer: its defaults, the keys it cannot
// run without, and how to construct it.
type Descriptor struct {
	// Defaults is the lowest configuration layer.
	Defaults map[string]any
	// RequiredKeys must all resolve to a value before New's result runs.
	RequiredKeys []RequiredKey
	// New constructs the implementer. Required.
	New func(base *Base) (Implementer, error)
}

// RequiredKey names a key that must resolve. With more than one name any
// of them satisfies it.
type RequiredKey struct {
	names []string
}

// Key requires a single key.
func Key(name string) RequiredKey { return RequiredKey{names: []string{name}} }

// AnyOf requires at least one of names.
func AnyOf(names ...string) RequiredKey { return RequiredKey{names: names} }

// Names returns the accepted key names.
func (k RequiredKey) Names() []string { return append([]string(nil), k.names...) }

func (k RequiredKey) String() string {
	if len(k.names) == 1 {
		return k.names[0]
	}
	return "one of [" + strings.Join(k.names, ", ") + "]"
}

// Error is a declared step-runner failure: a validation or execution
// problem the implementer reports as a failed result rather than a crash.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that wraps err.
func Wrap(err error, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}
