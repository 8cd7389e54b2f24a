package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchrun/dispatch-runtime/dispatchcoro"
)

// Sleep suspends the task for at least the specified duration.
//
// The worker that was running the task is free to run other tasks while
// the task sleeps. Sleep cannot be interrupted; use SleepCancellable for
// a sleep that ends early when the task is cancelled.
//
// When ctx does not carry a task, Sleep blocks the calling goroutine.
func Sleep(ctx context.Context, d time.Duration) {
	t := taskFromContext(ctx)
	if t == nil {
		time.Sleep(d)
		return
	}

	_, err := dispatchcoro.Suspend[struct{}](func(c *dispatchcoro.Continuation) {
		submitWake(t.runtime, d, func() { c.Resume(nil) })
	})
	if err != nil {
		// The wake job is the only holder of the continuation, and it
		// never resumes it with an error.
		panic(fmt.Sprintf("sleep: uncancellable sleep resumed with an error: %v", err))
	}
}

// SleepUntil suspends the task until the deadline, unless it is cancelled.
//
// It behaves like SleepCancellable with the duration until the deadline.
// A deadline in the past still goes through a suspension, and reports
// ErrCanceled if the task has been cancelled.
func SleepUntil(ctx context.Context, deadline time.Time) error {
	return SleepCancellable(ctx, time.Until(deadline))
}

func submitWake(r *Runtime, d time.Duration, wake func()) {
	if err := r.SubmitDelayed(d, wake); err != nil {
		// Only happens once the runtime is closing, in which case the
		// parked task is unwound by Close.
		r.logger.Debug("cannot schedule wake up", "delay", d, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
