package dispatch

import (
	"context"
	"reflect"
	"strings"
)

// ErrCanceled is returned by SleepCancellable when the task is cancelled
// before the sleep completes.
//
// It matches context.Canceled when compared with errors.Is.
var ErrCanceled error = CancellationError{}

// CancellationError indicates that an operation was cut short because
// its task was cancelled.
type CancellationError struct{}

func (CancellationError) Error() string { return "task canceled" }

// Is makes errors.Is(err, context.Canceled) true for cancellation errors.
func (CancellationError) Is(target error) bool { return target == context.Canceled }

var (
	// ErrClosed indicates an operation failed because the runtime was closed.
	ErrClosed error = closedError{}

	// ErrTimeout indicates an operation failed due to a timeout.
	ErrTimeout error = StatusError(TimeoutStatus)

	// ErrThrottled indicates an operation failed due to throttling.
	ErrThrottled error = StatusError(ThrottledStatus)

	// ErrInvalidArgument indicates an operation failed due to an invalid argument.
	ErrInvalidArgument error = StatusError(InvalidArgumentStatus)

	// ErrInvalidResponse indicates an operation failed due to an invalid response.
	ErrInvalidResponse error = StatusError(InvalidResponseStatus)

	// ErrTemporary indicates an operation failed with a temporary error.
	ErrTemporary error = StatusError(TemporaryErrorStatus)

	// ErrPermanent indicates an operation failed with a permanent error.
	ErrPermanent error = StatusError(PermanentErrorStatus)

	// ErrIncompatibleState indicates that a function's serialized state is incompatible.
	ErrIncompatibleState error = StatusError(IncompatibleStateStatus)

	// ErrNotFound indicates an operation failed because a resource could not be found.
	ErrNotFound error = StatusError(NotFoundStatus)
)

type closedError struct{}

func (closedError) Error() string   { return "runtime closed" }
func (closedError) Temporary() bool { return true }

// StatusError is a Status as an error.
type StatusError Status

func (e StatusError) Status() Status {
	return Status(e)
}

func (e StatusError) Error() string {
	return e.Status().String()
}

// errorTypeOf is the name of the error's type, without the package path.
func errorTypeOf(err error) string {
	if err == nil {
		return ""
	}
	typ := reflect.TypeOf(err)
	if name := typ.Name(); name != "" {
		return name
	}
	str := typ.String()
	if i := strings.LastIndexByte(str, '.'); i >= 0 {
		return str[i+1:]
	}
	return str
}
