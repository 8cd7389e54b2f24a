package dispatch

import (
	"context"
	"sync"

	"github.com/dispatchrun/dispatch-runtime/dispatchcoro"
)

// TaskID identifies a task spawned on a Runtime.
type TaskID uint64

// Task is a unit of cooperatively scheduled work that produces a value
// of type T.
type Task[T any] struct {
	task

	done   chan struct{}
	once   sync.Once
	result T
	err    error
}

// Spawn creates a task that runs fn on the runtime.
//
// The context passed to fn carries the task, which lets Sleep and
// SleepCancellable suspend it. It is canceled when the task is
// cancelled. Cancelling ctx cancels the task.
func Spawn[T any](r *Runtime, ctx context.Context, fn func(context.Context) (T, error)) (*Task[T], error) {
	t := &Task[T]{done: make(chan struct{})}
	t.runtime = r

	taskCtx, cancel := context.WithCancelCause(ctx)
	taskCtx = context.WithValue(taskCtx, taskKey{}, &t.task)
	t.cancelContext = cancel

	t.coro = dispatchcoro.New(func() {
		v, err := fn(taskCtx)
		t.complete(v, err)
	})

	r.mu.Lock()
	t.id = r.nextTaskID()
	r.mu.Unlock()
	t.stop = context.AfterFunc(ctx, t.Cancel)

	if err := r.track(t); err != nil {
		t.stop()
		cancel(err)
		return nil, err
	}
	r.logger.Debug("spawned task", "task_id", t.id)

	if err := r.Submit(t.step); err != nil {
		t.abort(err)
		return nil, err
	}
	return t, nil
}

// Done returns a channel that is closed when the task completes.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Result returns the value and error produced by the task.
//
// It must only be called after Done is closed.
func (t *Task[T]) Result() (T, error) {
	return t.result, t.err
}

// Wait waits for the task to complete and returns its result.
//
// If ctx is done first, Wait returns the context's cause without
// cancelling the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}

// Status categorizes the outcome of a completed task.
//
// It is UnspecifiedStatus while the task is running. A cancelled task
// reports TemporaryErrorStatus.
func (t *Task[T]) Status() Status {
	select {
	case <-t.done:
	default:
		return UnspecifiedStatus
	}
	return outcomeStatus(t.result, t.err)
}

func (t *Task[T]) complete(v T, err error) {
	t.once.Do(func() {
		t.result, t.err = v, err
		if t.stop != nil {
			t.stop()
		}
		t.cancelContext(err)
		close(t.done)

		t.runtime.logger.Debug("task completed", "task_id", t.id, "status", t.Status())
	})
}

func (t *Task[T]) abort(err error) {
	var zero T
	t.complete(zero, err)
}

type trackedTask interface {
	ID() TaskID
	abort(error)
}

// task is the part of a Task that does not depend on its result type.
type task struct {
	id            TaskID
	runtime       *Runtime
	coro          dispatchcoro.Coroutine
	instance      dispatchcoro.InstanceID
	started       bool
	resumption    dispatchcoro.Resumption
	cancelContext context.CancelCauseFunc
	stop          func() bool

	mu          sync.Mutex
	cancelled   bool
	handlers    map[uint64]func()
	running     map[uint64]chan struct{}
	nextHandler uint64
}

type taskKey struct{}

func taskFromContext(ctx context.Context) *task {
	t, _ := ctx.Value(taskKey{}).(*task)
	return t
}

// ID is the task identifier.
func (t *task) ID() TaskID {
	return t.id
}

// Cancel cancels the task.
//
// The cancellation handlers installed by the task run exactly once,
// on the calling goroutine. Cancel is idempotent.
func (t *task) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.cancelContext(ErrCanceled)

	handlers := t.handlers
	t.handlers = nil
	if len(handlers) > 0 {
		t.running = make(map[uint64]chan struct{}, len(handlers))
		for id := range handlers {
			t.running[id] = make(chan struct{})
		}
	}
	t.mu.Unlock()

	// Handlers run without the lock so they may inspect the task or
	// install handlers of their own.
	for id, onCancel := range handlers {
		t.runCancellationHandler(id, onCancel)
	}
}

func (t *task) runCancellationHandler(id uint64, onCancel func()) {
	defer func() {
		t.mu.Lock()
		done := t.running[id]
		delete(t.running, id)
		t.mu.Unlock()
		close(done)
	}()
	onCancel()
}

// Cancelled is true if the task has been cancelled.
func (t *task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled
}

func (t *task) addCancellationHandler(onCancel func()) (id uint64, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return 0, true
	}
	t.nextHandler++
	if t.handlers == nil {
		t.handlers = map[uint64]func(){}
	}
	t.handlers[t.nextHandler] = onCancel
	return t.nextHandler, false
}

// removeCancellationHandler removes a handler, and waits for it to
// return if Cancel already picked it up.
func (t *task) removeCancellationHandler(id uint64) {
	t.mu.Lock()
	delete(t.handlers, id)
	done := t.running[id]
	t.mu.Unlock()

	if done != nil {
		<-done
	}
}

// step drives the task's coroutine until it yields or returns. A task is
// queued once when spawned and once per resumption. The step that parks
// the coroutine must not touch the task after calling Register, since
// the next step may already be running on another worker.
func (t *task) step() {
	if t.started {
		t.coro.Send(t.resumption)
		t.resumption = dispatchcoro.Resumption{}
	} else {
		t.instance = t.runtime.coroutines.Register(t.coro)
		t.started = true
	}

	if !t.coro.Next() {
		t.runtime.untrack(t.id, t.instance)
		return
	}

	s := t.coro.Recv()
	if s.Register == nil {
		panic("task yielded a suspension without a Register function")
	}
	s.Register(dispatchcoro.NewContinuation(t.resume))
}

func (t *task) resume(r dispatchcoro.Resumption) {
	t.resumption = r
	if err := t.runtime.Submit(t.step); err != nil {
		// The runtime is closing; the parked coroutine is unwound by Close.
		t.runtime.logger.Debug("cannot resume task", "task_id", t.id, "error", err)
	}
}

// WithCancellationHandler runs body, and calls onCancel if the task
// running in ctx is cancelled before body returns.
//
// onCancel runs at most once, possibly concurrently with body. If the
// task is already cancelled, onCancel runs immediately, before body.
// Once WithCancellationHandler returns, onCancel is guaranteed not to be
// running and will not run anymore.
//
// Outside of a task, cancellation of ctx triggers onCancel in its own
// goroutine, and onCancel may still be running when
// WithCancellationHandler returns.
func WithCancellationHandler[T any](ctx context.Context, body func() (T, error), onCancel func()) (T, error) {
	t := taskFromContext(ctx)
	if t == nil {
		stop := context.AfterFunc(ctx, onCancel)
		defer stop()
		return body()
	}

	id, cancelled := t.addCancellationHandler(onCancel)
	if cancelled {
		onCancel()
		return body()
	}
	defer t.removeCancellationHandler(id)
	return body()
}

// IsCancelled reports whether the task running in ctx has been cancelled.
//
// Outside of a task, it reports whether ctx is done.
func IsCancelled(ctx context.Context) bool {
	if t := taskFromContext(ctx); t != nil {
		return t.Cancelled()
	}
	return ctx.Err() != nil
}
