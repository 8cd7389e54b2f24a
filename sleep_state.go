package dispatch

import (
	"fmt"
	"sync/atomic"

	"github.com/dispatchrun/dispatch-runtime/dispatchcoro"
)

// sleepStateKind is the discriminant of a sleepState.
type sleepStateKind uint8

const (
	// The sleep continuation has not been registered yet.
	sleepNotStarted sleepStateKind = iota

	// The caller is parked and the continuation is available.
	sleepActiveContinuation

	// The wake job resumed the caller normally.
	sleepFinished

	// The cancel path resumed the caller with ErrCanceled. The wake job
	// still owns the cell.
	sleepCancelled

	// The task was cancelled before the continuation was registered.
	sleepCancelledBeforeStarted
)

var sleepStateNames = [...]string{
	sleepNotStarted:             "NotStarted",
	sleepActiveContinuation:     "ActiveContinuation",
	sleepFinished:               "Finished",
	sleepCancelled:              "Cancelled",
	sleepCancelledBeforeStarted: "CancelledBeforeStarted",
}

func (k sleepStateKind) String() string {
	if int(k) >= len(sleepStateNames) {
		return fmt.Sprintf("sleepStateKind(%d)", int(k))
	}
	return sleepStateNames[k]
}

// sleepState describes the state of a SleepCancellable call.
//
// Values are immutable. The states that carry no payload are shared
// singletons, and a sleepActiveContinuation value is allocated once per
// registration, so comparing pointers compares both the discriminant and
// the continuation. This lets every transition be a single CAS on the
// cell's pointer slot.
type sleepState struct {
	kind         sleepStateKind
	continuation *dispatchcoro.Continuation
}

var (
	sleepStateNotStarted             = &sleepState{kind: sleepNotStarted}
	sleepStateFinished               = &sleepState{kind: sleepFinished}
	sleepStateCancelled              = &sleepState{kind: sleepCancelled}
	sleepStateCancelledBeforeStarted = &sleepState{kind: sleepCancelledBeforeStarted}
)

func activeContinuation(c *dispatchcoro.Continuation) *sleepState {
	if c == nil {
		panic("sleep: active continuation state requires a continuation")
	}
	return &sleepState{kind: sleepActiveContinuation, continuation: c}
}

func (s *sleepState) String() string {
	if s == nil {
		return "Released"
	}
	return s.kind.String()
}

// sleepCell is the state shared by the racers of one SleepCancellable
// call: the registration step, the wake job and the cancel handler.
type sleepCell struct {
	state    atomic.Pointer[sleepState]
	released atomic.Bool
}

func (c *sleepCell) load() *sleepState {
	return c.state.Load()
}

func (c *sleepCell) transition(from, to *sleepState) bool {
	return c.state.CompareAndSwap(from, to)
}

// sleepCells hands out sleep cells and accounts for their release.
//
// Each cell must be released exactly once, by whichever racer observes
// the final transition. Cells are never reused, so releasing a cell a
// second time always panics. The counters let the runtime (and tests)
// account for cells that were never released.
type sleepCells struct {
	allocated atomic.Uint64
	released  atomic.Uint64
}

func (p *sleepCells) alloc() *sleepCell {
	c := new(sleepCell)
	c.state.Store(sleepStateNotStarted)
	p.allocated.Add(1)
	return c
}

func (p *sleepCells) release(c *sleepCell) {
	if !c.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("sleep: cell released twice (state: %s)", c.load()))
	}
	c.state.Store(nil)
	p.released.Add(1)
}

func (p *sleepCells) live() int64 {
	return int64(p.allocated.Load()) - int64(p.released.Load())
}
