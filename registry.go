package dispatch

import (
	"context"
	"fmt"
	"sync"

	sdkv1 "buf.build/gen/go/stealthrocket/dispatch-proto/protocolbuffers/go/dispatch/sdk/v1"
)

// FunctionRegistry is a collection of Dispatch functions.
type FunctionRegistry struct {
	functions map[string]AnyFunction
	runtime   *Runtime

	mu sync.Mutex
}

// Register registers functions.
//
// A function registered under a name that is already taken replaces the
// previous one. If the registry is bound to a runtime, the functions run
// their calls on it.
func (r *FunctionRegistry) Register(fns ...AnyFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.functions == nil {
		r.functions = map[string]AnyFunction{}
	}
	for _, fn := range fns {
		r.functions[fn.Name()] = fn
		fn.bind(r.runtime)
	}
}

// Bind sets the runtime that the registered functions, and the functions
// registered later on, run their calls on.
func (r *FunctionRegistry) Bind(rt *Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runtime = rt
	for _, fn := range r.functions {
		fn.bind(rt)
	}
}

func (r *FunctionRegistry) lookup(name string) AnyFunction {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.functions[name]
}

// Len is the number of registered functions.
func (r *FunctionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.functions)
}

// Run runs the function that a request targets and returns its response.
func (r *FunctionRegistry) Run(ctx context.Context, req *sdkv1.RunRequest) *sdkv1.RunResponse {
	fn := r.lookup(req.GetFunction())
	if fn == nil {
		return newErrorResponse(fmt.Errorf("%w: function %q not found", ErrNotFound, req.GetFunction()))
	}
	return fn.Run(ctx, req)
}

// Close closes the function registry.
func (r *FunctionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runtime = nil
	for _, fn := range r.functions {
		fn.bind(nil)
	}
	clear(r.functions)
	return nil
}
