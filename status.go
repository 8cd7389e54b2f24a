package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"

	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"connectrpc.com/connect"
	"golang.org/x/sys/unix"
)

// Status categorizes the success or failure conditions resulting from
// running a task or a function.
//
// The values are the ones of the Dispatch protocol, so that the outcome
// of a task can be reported as-is in a RunResponse.
type Status sdkv1.Status

const (
	UnspecifiedStatus       = Status(sdkv1.Status_STATUS_UNSPECIFIED)
	OKStatus                = Status(sdkv1.Status_STATUS_OK)
	TimeoutStatus           = Status(sdkv1.Status_STATUS_TIMEOUT)
	ThrottledStatus         = Status(sdkv1.Status_STATUS_THROTTLED)
	InvalidArgumentStatus   = Status(sdkv1.Status_STATUS_INVALID_ARGUMENT)
	InvalidResponseStatus   = Status(sdkv1.Status_STATUS_INVALID_RESPONSE)
	TemporaryErrorStatus    = Status(sdkv1.Status_STATUS_TEMPORARY_ERROR)
	PermanentErrorStatus    = Status(sdkv1.Status_STATUS_PERMANENT_ERROR)
	IncompatibleStateStatus = Status(sdkv1.Status_STATUS_INCOMPATIBLE_STATE)
	DNSErrorStatus          = Status(sdkv1.Status_STATUS_DNS_ERROR)
	TCPErrorStatus          = Status(sdkv1.Status_STATUS_TCP_ERROR)
	TLSErrorStatus          = Status(sdkv1.Status_STATUS_TLS_ERROR)
	HTTPErrorStatus         = Status(sdkv1.Status_STATUS_HTTP_ERROR)
	UnauthenticatedStatus   = Status(sdkv1.Status_STATUS_UNAUTHENTICATED)
	PermissionDeniedStatus  = Status(sdkv1.Status_STATUS_PERMISSION_DENIED)
	NotFoundStatus          = Status(sdkv1.Status_STATUS_NOT_FOUND)
)

// Words of the protocol status names that are spelled in upper case.
var statusAcronyms = map[string]bool{
	"OK":   true,
	"DNS":  true,
	"TCP":  true,
	"TLS":  true,
	"HTTP": true,
}

func (s Status) proto() sdkv1.Status {
	return sdkv1.Status(s)
}

// String is the protocol name of the status in camel case, e.g.
// "TemporaryError" for STATUS_TEMPORARY_ERROR.
func (s Status) String() string {
	name, ok := sdkv1.Status_name[int32(s)]
	if !ok {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	var b strings.Builder
	for _, word := range strings.Split(strings.TrimPrefix(name, "STATUS_"), "_") {
		if statusAcronyms[word] {
			b.WriteString(word)
		} else if word != "" {
			b.WriteString(word[:1])
			b.WriteString(strings.ToLower(word[1:]))
		}
	}
	return b.String()
}

func (s Status) GoString() string {
	if _, ok := sdkv1.Status_name[int32(s)]; !ok {
		return fmt.Sprintf("Status(%d)", int32(s))
	}
	return s.String() + "Status"
}

type status interface {
	Status() Status
}

// Status is TemporaryErrorStatus, the same status as context.Canceled.
// A cancelled task may succeed when it runs again.
func (CancellationError) Status() Status { return TemporaryErrorStatus }

// Status is TemporaryErrorStatus. The runtime shut down before the task
// completed, another runtime may complete it.
func (closedError) Status() Status { return TemporaryErrorStatus }

// outcomeStatus categorizes the outcome of a completed task or function
// call. A result may carry its own status by implementing Status.
func outcomeStatus(result any, err error) Status {
	if err != nil {
		return errorStatusOf(err)
	}
	if s := statusOf(result); s != UnspecifiedStatus {
		return s
	}
	return OKStatus
}

// failureStatus is the status reported for a call that failed with err.
// Errors that cannot be categorized are permanent.
func failureStatus(err error) Status {
	switch s := errorStatusOf(err); s {
	case OKStatus, UnspecifiedStatus:
		return PermanentErrorStatus
	default:
		return s
	}
}

func statusOf(v any) Status {
	if s, ok := v.(status); ok {
		return s.Status()
	}
	if e, ok := v.(error); ok {
		var s status
		if errors.As(e, &s) {
			return s.Status()
		}
	}
	return UnspecifiedStatus
}

// errorStatusOf categorizes an error to return a Status code.
func errorStatusOf(err error) Status { return errorStatus(err, 0) }

func errorStatus(err error, depth int) Status {
	if depth++; depth == 16 {
		return UnspecifiedStatus
	}

	switch err {
	case nil:
		return OKStatus

	case context.Canceled:
		return TemporaryErrorStatus

	case context.DeadlineExceeded:
		return TimeoutStatus

	case fs.ErrInvalid:
		return InvalidArgumentStatus

	case fs.ErrPermission:
		return PermissionDeniedStatus

	case fs.ErrNotExist:
		return NotFoundStatus

	case fs.ErrClosed, net.ErrClosed:
		return TemporaryErrorStatus

	case io.EOF, io.ErrClosedPipe, io.ErrUnexpectedEOF, io.ErrShortWrite:
		return TemporaryErrorStatus
	}

	switch e := err.(type) {
	case status:
		return e.Status()

	case unix.Errno: // alias for syscall.Errno
		return errnoStatus(e)

	case *fs.PathError:
		status := errorStatus(e.Err, depth)
		if status == TCPErrorStatus {
			status = TemporaryErrorStatus
		}
		return status

	case *os.SyscallError:
		return errorStatus(e.Err, depth)

	case *net.OpError:
		return errorStatus(e.Err, depth)

	case *net.DNSError:
		return DNSErrorStatus

	case *connect.Error:
		return connectErrorStatus(e)

	case unwrapper:
		status := UnspecifiedStatus

		for _, innerError := range e.Unwrap() {
			if innerStatus := errorStatus(innerError, depth); status == UnspecifiedStatus {
				status = innerStatus
			} else if status != innerStatus {
				return UnspecifiedStatus
			}
		}

		return status
	}

	if e, ok := err.(timeout); ok && e.Timeout() {
		return TimeoutStatus
	}

	if e, ok := err.(temporary); ok && e.Temporary() {
		return TemporaryErrorStatus
	}

	if e := errors.Unwrap(err); e != nil {
		return errorStatus(e, depth)
	}

	return PermanentErrorStatus
}

func errnoStatus(errno unix.Errno) Status {
	switch errno {
	case unix.ECONNREFUSED,
		unix.ECONNRESET,
		unix.ECONNABORTED,
		unix.EPIPE,
		unix.ENETDOWN,
		unix.ENETUNREACH,
		unix.EHOSTUNREACH:
		return TCPErrorStatus

	case unix.ETIMEDOUT:
		return TimeoutStatus

	case unix.EPERM, unix.EACCES:
		return PermissionDeniedStatus

	case unix.EAGAIN,
		unix.EINTR,
		unix.EMFILE,
		unix.ENFILE:
		return TemporaryErrorStatus

	default:
		return PermanentErrorStatus
	}
}

func connectErrorStatus(err *connect.Error) Status {
	switch err.Code() {
	case connect.CodeCanceled:
		return TemporaryErrorStatus
	case connect.CodeInvalidArgument, connect.CodeOutOfRange:
		return InvalidArgumentStatus
	case connect.CodeDeadlineExceeded:
		return TimeoutStatus
	case connect.CodeNotFound, connect.CodeUnimplemented:
		return NotFoundStatus
	case connect.CodePermissionDenied:
		return PermissionDeniedStatus
	case connect.CodeUnauthenticated:
		return UnauthenticatedStatus
	case connect.CodeResourceExhausted:
		return ThrottledStatus
	case connect.CodeUnknown, connect.CodeInternal, connect.CodeUnavailable:
		return TemporaryErrorStatus
	default:
		return PermanentErrorStatus
	}
}

type temporary interface {
	Temporary() bool
}

type timeout interface {
	Timeout() bool
}

type unwrapper interface {
	Unwrap() []error // implemented by error values returned by errors.Join
}
