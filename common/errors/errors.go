// Package errors classifies failures surfaced by the taskplane SDK.
//
// Every error returned by the blob, resolver, task and session layers carries one
// of five kinds so callers can branch with errors.Is against the sentinels below
// without matching on message text:
//
//	if errors.Is(err, taskerrors.ErrInvalidArgument) { ... }
//
// Remote failures keep the original error in the chain and the original message
// in Error(); nothing is recoded into a generic failure.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the classification of an SDK error
type Kind int

const (
	// KindInvalidConfiguration marks malformed connection or chunk parameters
	KindInvalidConfiguration Kind = iota + 1
	// KindInvalidArgument marks a caller-supplied value that violates a precondition
	KindInvalidArgument
	// KindUnresolvedReference marks a session or blob reference that was never established
	KindUnresolvedReference
	// KindRemoteCallFailure marks anything surfaced by the transport or the remote side
	KindRemoteCallFailure
	// KindCancellationRequested marks an operation aborted by the caller's context
	KindCancellationRequested
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnresolvedReference:
		return "unresolved_reference"
	case KindRemoteCallFailure:
		return "remote_call_failure"
	case KindCancellationRequested:
		return "cancellation_requested"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any ClassifiedError of the same kind
var (
	ErrInvalidConfiguration  = errors.New("invalid configuration")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrUnresolvedReference   = errors.New("unresolved reference")
	ErrRemoteCallFailure     = errors.New("remote call failure")
	ErrCancellationRequested = errors.New("cancellation requested")
)

// ClassifiedError wraps an error with its kind and the operation that produced it
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s.%s: %v", e.Component, e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *ClassifiedError) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInvalidConfiguration:
		return ErrInvalidConfiguration
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindUnresolvedReference:
		return ErrUnresolvedReference
	case KindRemoteCallFailure:
		return ErrRemoteCallFailure
	case KindCancellationRequested:
		return ErrCancellationRequested
	}
	return nil
}

func newf(kind Kind, component, operation, format string, args ...any) error {
	return &ClassifiedError{
		Kind:      kind,
		Err:       fmt.Errorf(format, args...),
		Component: component,
		Operation: operation,
	}
}

// InvalidConfiguration builds a KindInvalidConfiguration error
func InvalidConfiguration(component, operation, format string, args ...any) error {
	return newf(KindInvalidConfiguration, component, operation, format, args...)
}

// InvalidArgument builds a KindInvalidArgument error
func InvalidArgument(component, operation, format string, args ...any) error {
	return newf(KindInvalidArgument, component, operation, format, args...)
}

// UnresolvedReference builds a KindUnresolvedReference error
func UnresolvedReference(component, operation, format string, args ...any) error {
	return newf(KindUnresolvedReference, component, operation, format, args...)
}

// Remote classifies a transport failure. Context errors become
// KindCancellationRequested; an error that is already classified keeps its kind.
func Remote(err error, component, operation string) error {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return err
	}

	kind := KindRemoteCallFailure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindCancellationRequested
	}

	return &ClassifiedError{
		Kind:      kind,
		Err:       err,
		Component: component,
		Operation: operation,
	}
}

// Cancelled returns a KindCancellationRequested error when ctx is done, nil otherwise
func Cancelled(ctx context.Context, component, operation string) error {
	if err := ctx.Err(); err != nil {
		return &ClassifiedError{
			Kind:      KindCancellationRequested,
			Err:       err,
			Component: component,
			Operation: operation,
		}
	}
	return nil
}

// KindOf returns the kind of the first ClassifiedError in err's chain, or 0
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// Is is a re-export of errors.Is so callers importing this package need not alias the standard one
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a re-export of errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}
