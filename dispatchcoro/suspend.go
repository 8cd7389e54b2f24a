package dispatchcoro

import "fmt"

// Suspend parks the calling coroutine and returns once the continuation
// handed to register has been resumed.
//
// Suspend should only be called from within a coroutine created by New.
func Suspend[T any](register func(*Continuation)) (T, error) {
	var zero T

	r := Yield(Suspension{Register: register})
	if r.Err != nil {
		return zero, r.Err
	}
	if r.Value == nil {
		return zero, nil
	}
	v, ok := r.Value.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected resumption value: got %T, want %T", r.Value, zero)
	}
	return v, nil
}
