package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchrun/dispatch-runtime/dispatchcoro"
)

// SleepCancellable suspends the task for at least the specified duration,
// unless the task is cancelled. If the task is cancelled before the
// duration elapses, SleepCancellable returns ErrCanceled right away
// instead of waiting for the remainder of the duration.
//
// The worker that was running the task is free to run other tasks while
// the task sleeps.
//
// When ctx does not carry a task, SleepCancellable blocks the calling
// goroutine and returns ctx.Err() if ctx is done before the duration
// elapses.
func SleepCancellable(ctx context.Context, d time.Duration) error {
	t := taskFromContext(ctx)
	if t == nil {
		return sleepContext(ctx, d)
	}
	r := t.runtime

	cell := r.cells.alloc()

	_, err := WithCancellationHandler(ctx, func() (struct{}, error) {
		return dispatchcoro.Suspend[struct{}](func(c *dispatchcoro.Continuation) {
			r.registerSleep(cell, c, d)
		})
	}, func() {
		onSleepCancel(cell)
	})
	if err != nil {
		// The cancel path resumed the task. The wake job is still
		// scheduled and releases the cell when it fires.
		return err
	}

	// The task was resumed normally, either by the wake job or by the
	// registration step after a cancellation that happened first.
	var cancelledBeforeStarted bool
	switch s := cell.load(); s.kind {
	case sleepCancelledBeforeStarted:
		cancelledBeforeStarted = true
	case sleepFinished:
	default:
		panic(fmt.Sprintf("sleep: invalid state for a sleep that resumed normally: %s", s))
	}

	r.cells.release(cell)

	if cancelledBeforeStarted {
		return ErrCanceled
	}
	return nil
}

// registerSleep runs once the sleeping task has been parked. It records
// the continuation in the cell and schedules the wake job, unless the
// task was cancelled first.
func (r *Runtime) registerSleep(cell *sleepCell, c *dispatchcoro.Continuation, d time.Duration) {
	for {
		s := cell.load()
		switch s.kind {
		case sleepNotStarted:
			if !cell.transition(s, activeContinuation(c)) {
				continue
			}
			// The cell must not be touched past this point: the wake job
			// may fire and the task may release the cell at any time.
			submitWake(r, d, func() { r.onSleepWake(cell) })
			return

		case sleepActiveContinuation, sleepFinished:
			panic(fmt.Sprintf("sleep: cannot register a continuation twice (state: %s)", s))

		case sleepCancelled:
			panic("sleep: cannot be cancelled with an active continuation before it was registered")

		case sleepCancelledBeforeStarted:
			// Resume normally, SleepCancellable reports the cancellation
			// after releasing the cell.
			c.Resume(nil)
			return

		default:
			panic(fmt.Sprintf("sleep: unknown state: %s", s))
		}
	}
}

// onSleepWake is the wake job of a SleepCancellable call. It runs once
// the duration has elapsed.
func (r *Runtime) onSleepWake(cell *sleepCell) {
	for {
		s := cell.load()
		switch s.kind {
		case sleepNotStarted:
			panic("sleep: woke up before the continuation was registered")

		case sleepActiveContinuation:
			if !cell.transition(s, sleepStateFinished) {
				continue
			}
			s.continuation.Resume(nil)
			return

		case sleepFinished:
			panic("sleep: woke up twice")

		case sleepCancelled:
			// The cancel path already resumed the task and left the cell
			// for this job to release.
			r.cells.release(cell)
			return

		case sleepCancelledBeforeStarted:
			// No wake job is scheduled in this state.
			return

		default:
			panic(fmt.Sprintf("sleep: unknown state: %s", s))
		}
	}
}

// onSleepCancel is the cancellation handler of a SleepCancellable call.
func onSleepCancel(cell *sleepCell) {
	for {
		s := cell.load()
		switch s.kind {
		case sleepNotStarted:
			if cell.transition(s, sleepStateCancelledBeforeStarted) {
				return
			}

		case sleepActiveContinuation:
			if !cell.transition(s, sleepStateCancelled) {
				continue
			}
			s.continuation.ResumeWithError(ErrCanceled)
			return

		case sleepFinished, sleepCancelled, sleepCancelledBeforeStarted:
			return

		default:
			panic(fmt.Sprintf("sleep: unknown state: %s", s))
		}
	}
}
