package dispatchcoro

import (
	"github.com/dispatchrun/coroutine"
)

// Coroutine is the flavour of coroutine that runtime tasks run in.
//
// A task yields a Suspension when it needs to wait for something, and
// is sent a Resumption when it is resumed.
type Coroutine = coroutine.Coroutine[Suspension, Resumption]

// New creates a coroutine that runs fn.
//
// Coroutines are volatile: a suspended coroutine lives in memory until
// it is resumed or stopped.
func New(fn func()) Coroutine {
	return coroutine.NewWithReturn[Suspension, Resumption](func() Suspension {
		fn()
		return Suspension{}
	})
}

// Suspension is yielded by a coroutine to park itself.
//
// Register is invoked by the scheduler once the coroutine has been parked,
// never from the coroutine itself. It receives the continuation that
// resumes the coroutine. Register may resume the continuation immediately,
// or hand it to another component that resumes it later.
type Suspension struct {
	Register func(*Continuation)
}

// Resumption is sent to a parked coroutine when it is resumed.
type Resumption struct {
	Value any
	Err   error
}

// Yield yields control to the scheduler.
//
// The coroutine is parked until the continuation passed to the
// suspension's Register function is resumed.
func Yield(s Suspension) Resumption {
	return coroutine.Yield[Suspension, Resumption](s)
}
