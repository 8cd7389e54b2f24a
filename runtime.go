package dispatch

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dispatchrun/dispatch-runtime/dispatchcoro"
	"github.com/dispatchrun/dispatch-runtime/internal/env"
)

// Runtime runs tasks cooperatively on a pool of worker goroutines.
//
// Tasks run inside volatile coroutines. When a task suspends (e.g. in
// Sleep or SleepCancellable) its coroutine is parked and the worker that
// was driving it moves on to other work. The task is put back on the run
// queue once it is resumed, and any worker may pick it up.
type Runtime struct {
	workers int
	env     []string
	logger  *slog.Logger

	mu      sync.Mutex
	cond    sync.Cond
	queue   []func()
	closed  bool
	timers  map[uint64]*time.Timer
	timerID uint64
	tasks   map[TaskID]trackedTask
	taskID  TaskID
	wg      sync.WaitGroup

	coroutines dispatchcoro.VolatileCoroutines
	cells      sleepCells

	tasksSpawned   atomic.Uint64
	tasksCompleted atomic.Uint64
	jobsRun        atomic.Uint64
	jobsDropped    atomic.Uint64
}

// New creates a Runtime and starts its workers.
func New(opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{
		env: os.Environ(),
	}
	for _, opt := range opts {
		opt.configureRuntime(r)
	}

	if r.workers == 0 {
		workers, err := env.Int(r.env, "DISPATCH_RUNTIME_WORKERS", runtime.GOMAXPROCS(0))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		r.workers = workers
	}
	if r.workers <= 0 {
		return nil, fmt.Errorf("%w: runtime needs at least one worker, got %d", ErrInvalidArgument, r.workers)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	r.cond.L = &r.mu
	r.timers = map[uint64]*time.Timer{}
	r.tasks = map[TaskID]trackedTask{}

	r.wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go r.work()
	}
	return r, nil
}

// RuntimeOption configures a Runtime.
type RuntimeOption interface {
	configureRuntime(r *Runtime)
}

type runtimeOptionFunc func(r *Runtime)

func (fn runtimeOptionFunc) configureRuntime(r *Runtime) {
	fn(r)
}

// WithWorkers sets the number of worker goroutines.
//
// It defaults to the value of the DISPATCH_RUNTIME_WORKERS environment
// variable, or to runtime.GOMAXPROCS(0) if the variable is unset.
func WithWorkers(n int) RuntimeOption {
	return runtimeOptionFunc(func(r *Runtime) { r.workers = n })
}

// WithLogger sets the logger that the runtime reports to.
//
// It defaults to slog.Default().
func WithLogger(logger *slog.Logger) RuntimeOption {
	return runtimeOptionFunc(func(r *Runtime) { r.logger = logger })
}

// Workers is the number of worker goroutines.
func (r *Runtime) Workers() int {
	return r.workers
}

// Submit runs a job on a worker as soon as one is available.
func (r *Runtime) Submit(job func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.drop()
		return ErrClosed
	}
	r.queue = append(r.queue, job)
	r.cond.Signal()
	return nil
}

// SubmitDelayed runs a job on a worker no earlier than d after the call.
//
// There is no ordering guarantee between jobs whose deadlines coincide.
func (r *Runtime) SubmitDelayed(d time.Duration, job func()) error {
	if d <= 0 {
		return r.Submit(job)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.drop()
		return ErrClosed
	}
	r.timerID++
	id := r.timerID
	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()

		_ = r.Submit(job)
	})
	return nil
}

// drop must be called with r.mu held.
func (r *Runtime) drop() {
	if n := r.jobsDropped.Add(1); n == 1 {
		r.logger.Warn("dropping jobs submitted to a closed runtime")
	}
}

func (r *Runtime) work() {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if r.closed {
			r.mu.Unlock()
			return
		}
		job := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		job()
		r.jobsRun.Add(1)
	}
}

// nextTaskID must be called with r.mu held.
func (r *Runtime) nextTaskID() TaskID {
	r.taskID++
	return r.taskID
}

func (r *Runtime) track(t trackedTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.tasks[t.ID()] = t
	r.tasksSpawned.Add(1)
	return nil
}

func (r *Runtime) untrack(id TaskID, instance dispatchcoro.InstanceID) {
	r.coroutines.Delete(instance)

	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()

	r.tasksCompleted.Add(1)
}

// Close stops the runtime.
//
// Workers finish the job they are running and exit; queued jobs and
// timers that have not fired yet are discarded. Tasks that are still
// suspended are unwound and complete with ErrClosed. Close must not be
// called from a task.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.queue = nil
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.cond.Broadcast()
	r.mu.Unlock()

	r.wg.Wait()

	// No worker is driving a coroutine anymore, so parked coroutines
	// can be unwound safely. Coroutines are only registered once they
	// have started, tasks whose first step never ran are simply aborted.
	if err := r.coroutines.Close(); err != nil {
		return err
	}

	r.mu.Lock()
	tasks := r.tasks
	r.tasks = map[TaskID]trackedTask{}
	r.mu.Unlock()

	for _, t := range tasks {
		t.abort(ErrClosed)
	}
	if live := r.cells.live(); live > 0 {
		r.logger.Debug("runtime closed with pending sleeps", "sleeps", live)
	}
	return nil
}

// RuntimeStats is a snapshot of runtime counters.
type RuntimeStats struct {
	Workers             int
	TasksSpawned        uint64
	TasksCompleted      uint64
	JobsRun             uint64
	JobsDropped         uint64
	SleepCellsAllocated uint64
	SleepCellsReleased  uint64
}

// PendingSleeps is the number of SleepCancellable state cells that have
// not been released yet.
func (s RuntimeStats) PendingSleeps() int64 {
	return int64(s.SleepCellsAllocated) - int64(s.SleepCellsReleased)
}

// Stats returns a snapshot of the runtime counters.
func (r *Runtime) Stats() RuntimeStats {
	return RuntimeStats{
		Workers:             r.workers,
		TasksSpawned:        r.tasksSpawned.Load(),
		TasksCompleted:      r.tasksCompleted.Load(),
		JobsRun:             r.jobsRun.Load(),
		JobsDropped:         r.jobsDropped.Load(),
		SleepCellsAllocated: r.cells.allocated.Load(),
		SleepCellsReleased:  r.cells.released.Load(),
	}
}
