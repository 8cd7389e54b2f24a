package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// AnyFunction is a Dispatch function with any input and output type.
type AnyFunction interface {
	// Name is the name of the function.
	Name() string

	// Run runs the function.
	Run(context.Context, *sdkv1.RunRequest) *sdkv1.RunResponse

	bind(r *Runtime)
}

// Func creates a Dispatch function that runs as a task.
//
// Each call runs fn in its own task on the runtime of the endpoint that
// the function is registered with. fn may suspend the task, e.g. with
// Sleep or SleepCancellable, without holding a worker.
func Func[I, O proto.Message](name string, fn func(context.Context, I) (O, error)) *Function[I, O] {
	return &Function[I, O]{name: name, fn: fn}
}

// Function is a Dispatch function that accepts an input of type I and
// returns an output of type O.
type Function[I, O proto.Message] struct {
	name    string
	fn      func(ctx context.Context, input I) (O, error)
	runtime atomic.Pointer[Runtime]
}

// Name is the name of the function.
func (f *Function[I, O]) Name() string {
	return f.name
}

func (f *Function[I, O]) bind(r *Runtime) {
	f.runtime.Store(r)
}

// Run runs the function.
//
// The request must carry an input. The function runs in a task, and Run
// waits for the task to complete. If ctx is canceled, the task is
// cancelled too. Tasks are volatile, so requests that carry a poll
// result cannot be served.
func (f *Function[I, O]) Run(ctx context.Context, req *sdkv1.RunRequest) *sdkv1.RunResponse {
	if name := req.GetFunction(); name != f.name {
		return newErrorResponse(fmt.Errorf("%w: function %q received call for function %q", ErrInvalidArgument, f.name, name))
	}
	r := f.runtime.Load()
	if r == nil {
		return newErrorResponse(fmt.Errorf("%w: function %q is not registered with an endpoint", ErrPermanent, f.name))
	}

	var input I
	switch d := req.GetDirective().(type) {
	case *sdkv1.RunRequest_Input:
		var err error
		if input, err = unmarshalInput[I](d.Input); err != nil {
			return newErrorResponse(fmt.Errorf("%w: invalid function input: %v", ErrInvalidArgument, err))
		}
	case *sdkv1.RunRequest_PollResult:
		return newErrorResponse(fmt.Errorf("%w: function %q runs volatile tasks and cannot resume from a poll result", ErrIncompatibleState, f.name))
	default:
		return newErrorResponse(fmt.Errorf("%w: unsupported run directive: %T", ErrInvalidArgument, d))
	}

	t, err := Spawn(r, ctx, func(ctx context.Context) (O, error) {
		return f.fn(ctx, input)
	})
	if err != nil {
		return newErrorResponse(err)
	}
	output, err := t.Wait(ctx)
	if err != nil {
		return newErrorResponse(err)
	}
	return newOutputResponse(output)
}

func unmarshalInput[I proto.Message](input *anypb.Any) (I, error) {
	var zero I
	message := zero.ProtoReflect().New()
	if input != nil {
		options := proto.UnmarshalOptions{
			DiscardUnknown: true,
			RecursionLimit: protowire.DefaultRecursionLimit,
		}
		if err := options.Unmarshal(input.GetValue(), message.Interface()); err != nil {
			return zero, err
		}
	}
	return message.Interface().(I), nil
}

func newOutputResponse(output proto.Message) *sdkv1.RunResponse {
	var boxed *anypb.Any
	if output != nil && output.ProtoReflect().IsValid() {
		var err error
		if boxed, err = anypb.New(output); err != nil {
			return newErrorResponse(fmt.Errorf("%w: invalid output %v: %v", ErrInvalidResponse, output, err))
		}
	}
	return &sdkv1.RunResponse{
		Status: outcomeStatus(output, nil).proto(),
		Directive: &sdkv1.RunResponse_Exit{
			Exit: &sdkv1.Exit{
				Result: &sdkv1.CallResult{Output: boxed},
			},
		},
	}
}

func newErrorResponse(err error) *sdkv1.RunResponse {
	return &sdkv1.RunResponse{
		Status: failureStatus(err).proto(),
		Directive: &sdkv1.RunResponse_Exit{
			Exit: &sdkv1.Exit{
				Result: &sdkv1.CallResult{
					Error: &sdkv1.Error{
						Type:    errorTypeOf(err),
						Message: err.Error(),
					},
				},
			},
		},
	}
}
