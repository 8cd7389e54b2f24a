package dispatch_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dispatchrun/dispatch-runtime"
	"github.com/dispatchrun/dispatch-runtime/dispatchtest"
)

func TestSleep(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(2))

	for _, test := range []struct {
		name  string
		sleep func(ctx context.Context, d time.Duration) error
	}{
		{
			name: "Sleep",
			sleep: func(ctx context.Context, d time.Duration) error {
				dispatch.Sleep(ctx, d)
				return nil
			},
		},
		{
			name:  "SleepCancellable",
			sleep: dispatch.SleepCancellable,
		},
		{
			name: "SleepUntil",
			sleep: func(ctx context.Context, d time.Duration) error {
				return dispatch.SleepUntil(ctx, time.Now().Add(d))
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			for _, d := range []time.Duration{-time.Second, 0, time.Millisecond, 20 * time.Millisecond} {
				task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (time.Duration, error) {
					start := time.Now()
					err := test.sleep(ctx, d)
					return time.Since(start), err
				})
				if err != nil {
					t.Fatal(err)
				}
				elapsed, err := task.Wait(testContext(t))
				if err != nil {
					t.Fatalf("sleeping for %v: %v", d, err)
				}
				if elapsed < d {
					t.Errorf("slept for %v, want at least %v", elapsed, d)
				}
			}
		})
	}

	waitFor(t, func() bool { return r.Stats().PendingSleeps() == 0 })
}

func TestSleepReleasesWorker(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(1))

	sleeper, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, dispatch.SleepCancellable(ctx, 200*time.Millisecond)
	})
	if err != nil {
		t.Fatal(err)
	}

	// With a single worker, this task can only run while the other one
	// is suspended.
	for i := 0; i < 10; i++ {
		task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (int, error) {
			return i, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got, err := task.Wait(testContext(t)); err != nil || got != i {
			t.Fatalf("unexpected result: %v, %v", got, err)
		}
		select {
		case <-sleeper.Done():
			t.Fatal("sleeping task completed before the other tasks")
		default:
		}
	}

	if _, err := sleeper.Wait(testContext(t)); err != nil {
		t.Fatal(err)
	}
}

func TestSleepIgnoresCancellation(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(1))

	const d = 50 * time.Millisecond
	suspended := make(chan struct{})
	task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (time.Duration, error) {
		close(suspended)
		start := time.Now()
		dispatch.Sleep(ctx, d)
		if !dispatch.IsCancelled(ctx) {
			return 0, errors.New("task not cancelled")
		}
		return time.Since(start), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	<-suspended
	task.Cancel()

	elapsed, err := task.Wait(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if elapsed < d {
		t.Errorf("cancelled task slept for %v, want at least %v", elapsed, d)
	}
}

func TestSleepCancellable(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(2))

	t.Run("cancelled before the call", func(t *testing.T) {
		cancelled := make(chan struct{})
		task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (time.Duration, error) {
			<-cancelled
			start := time.Now()
			err := dispatch.SleepCancellable(ctx, time.Hour)
			return time.Since(start), err
		})
		if err != nil {
			t.Fatal(err)
		}
		task.Cancel()
		close(cancelled)

		elapsed, err := task.Wait(testContext(t))
		if !errors.Is(err, dispatch.ErrCanceled) {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed > time.Minute {
			t.Errorf("cancelled sleep lasted %v", elapsed)
		}
		// No wake job was scheduled, the cell is released right away.
		waitFor(t, func() bool { return r.Stats().PendingSleeps() == 0 })
	})

	t.Run("cancelled during the sleep", func(t *testing.T) {
		suspended := make(chan struct{})
		task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (time.Duration, error) {
			close(suspended)
			start := time.Now()
			err := dispatch.SleepCancellable(ctx, time.Hour)
			return time.Since(start), err
		})
		if err != nil {
			t.Fatal(err)
		}
		<-suspended
		time.Sleep(10 * time.Millisecond)
		task.Cancel()

		elapsed, err := task.Wait(testContext(t))
		if !errors.Is(err, dispatch.ErrCanceled) {
			t.Fatalf("unexpected error: %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancellation error does not match context.Canceled: %v", err)
		}
		if elapsed > time.Minute {
			t.Errorf("cancelled sleep lasted %v", elapsed)
		}
	})

	t.Run("cancelled after the sleep", func(t *testing.T) {
		slept := make(chan struct{})
		proceed := make(chan struct{})
		task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (int, error) {
			if err := dispatch.SleepCancellable(ctx, time.Millisecond); err != nil {
				return 0, err
			}
			close(slept)
			<-proceed
			return 1, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		<-slept
		task.Cancel()
		close(proceed)

		got, err := task.Wait(testContext(t))
		if err != nil {
			t.Fatal(err)
		}
		if got != 1 {
			t.Errorf("unexpected result: %d", got)
		}
	})

	t.Run("sleep until a past deadline after cancellation", func(t *testing.T) {
		cancelled := make(chan struct{})
		task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (struct{}, error) {
			<-cancelled
			return struct{}{}, dispatch.SleepUntil(ctx, time.Now().Add(-time.Hour))
		})
		if err != nil {
			t.Fatal(err)
		}
		task.Cancel()
		close(cancelled)

		if _, err := task.Wait(testContext(t)); !errors.Is(err, dispatch.ErrCanceled) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSleepOutsideTask(t *testing.T) {
	ctx := context.Background()

	start := time.Now()
	dispatch.Sleep(ctx, 5*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("slept for %v", elapsed)
	}

	if err := dispatch.SleepCancellable(ctx, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := dispatch.SleepCancellable(ctx, 0); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := dispatch.SleepCancellable(cancelled, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}
	if err := dispatch.SleepCancellable(cancelled, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected error: %v", err)
	}

	expired, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	if err := dispatch.SleepUntil(expired, time.Now().Add(time.Hour)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSleepCancellableStress(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(4))

	// Tasks are spawned in batches to bound the number of parked
	// coroutines, each of which holds a goroutine.
	batches, batchSize := 10, 1000
	if testing.Short() {
		batches = 2
	}

	ctx := testContext(t)

	var finished, cancelled atomic.Int64
	for b := 0; b < batches; b++ {
		var wg sync.WaitGroup
		for i := 0; i < batchSize; i++ {
			sleep := time.Duration(rand.IntN(2000)) * time.Microsecond
			cancelAfter := time.Duration(rand.IntN(2000)) * time.Microsecond

			var outcomes atomic.Int64
			task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (struct{}, error) {
				err := dispatch.SleepCancellable(ctx, sleep)
				outcomes.Add(1)
				return struct{}{}, err
			})
			if err != nil {
				t.Fatal(err)
			}
			time.AfterFunc(cancelAfter, task.Cancel)

			wg.Add(1)
			go func() {
				defer wg.Done()

				_, err := task.Wait(ctx)
				switch {
				case err == nil:
					finished.Add(1)
				case errors.Is(err, dispatch.ErrCanceled):
					cancelled.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
				if n := outcomes.Load(); n != 1 {
					t.Errorf("sleep returned %d times", n)
				}
			}()
		}
		wg.Wait()
	}

	total := int64(batches * batchSize)
	if got := finished.Load() + cancelled.Load(); got != total {
		t.Errorf("unexpected number of outcomes: got %d, want %d", got, total)
	}
	t.Logf("%d sleeps finished, %d cancelled", finished.Load(), cancelled.Load())

	// Wake jobs of cancelled sleeps release their cell when they fire.
	waitFor(t, func() bool {
		stats := r.Stats()
		return stats.PendingSleeps() == 0 && stats.TasksCompleted == stats.TasksSpawned
	})
	if stats := r.Stats(); stats.SleepCellsAllocated != uint64(total) {
		t.Errorf("unexpected number of sleep cells: got %d, want %d", stats.SleepCellsAllocated, total)
	}
}
