package dispatchcoro

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrContinuationMisuse is the panic value raised when a continuation is
// resumed more than once.
var ErrContinuationMisuse = errors.New("continuation resumed more than once")

// Continuation resumes a parked coroutine.
//
// A continuation must be resumed exactly once, either with Resume or
// with ResumeWithError. Resuming it a second time panics; never resuming
// it leaks the parked coroutine until the runtime is closed.
type Continuation struct {
	resume  func(Resumption)
	resumed atomic.Bool
}

// NewContinuation creates a continuation that hands its resumption to
// the resume function.
func NewContinuation(resume func(Resumption)) *Continuation {
	return &Continuation{resume: resume}
}

// Resume resumes the coroutine normally with a value.
func (c *Continuation) Resume(value any) {
	c.complete(Resumption{Value: value})
}

// ResumeWithError resumes the coroutine with an error.
func (c *Continuation) ResumeWithError(err error) {
	c.complete(Resumption{Err: err})
}

// Resumed is true if the continuation has been resumed.
func (c *Continuation) Resumed() bool {
	return c.resumed.Load()
}

func (c *Continuation) complete(r Resumption) {
	if !c.resumed.CompareAndSwap(false, true) {
		panic(fmt.Errorf("%w (resumption: %+v)", ErrContinuationMisuse, r))
	}
	c.resume(r)
}
