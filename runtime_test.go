package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dispatchrun/dispatch-runtime"
	"github.com/dispatchrun/dispatch-runtime/dispatchtest"
)

func TestRuntimeWorkers(t *testing.T) {
	for _, test := range []struct {
		name  string
		opts  []dispatch.RuntimeOption
		want  int
		error bool
	}{
		{
			name: "option",
			opts: []dispatch.RuntimeOption{dispatch.WithEnv(), dispatch.WithWorkers(3)},
			want: 3,
		},
		{
			name: "environment",
			opts: []dispatch.RuntimeOption{dispatch.WithEnv("DISPATCH_RUNTIME_WORKERS=5")},
			want: 5,
		},
		{
			name: "option overrides environment",
			opts: []dispatch.RuntimeOption{dispatch.WithEnv("DISPATCH_RUNTIME_WORKERS=5"), dispatch.WithWorkers(2)},
			want: 2,
		},
		{
			name: "last value wins",
			opts: []dispatch.RuntimeOption{dispatch.WithEnv("DISPATCH_RUNTIME_WORKERS=5", "DISPATCH_RUNTIME_WORKERS=6")},
			want: 6,
		},
		{
			name:  "invalid environment",
			opts:  []dispatch.RuntimeOption{dispatch.WithEnv("DISPATCH_RUNTIME_WORKERS=many")},
			error: true,
		},
		{
			name:  "zero workers",
			opts:  []dispatch.RuntimeOption{dispatch.WithEnv("DISPATCH_RUNTIME_WORKERS=0")},
			error: true,
		},
		{
			name:  "negative workers",
			opts:  []dispatch.RuntimeOption{dispatch.WithEnv(), dispatch.WithWorkers(-1)},
			error: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			r, err := dispatch.New(test.opts...)
			if test.error {
				if !errors.Is(err, dispatch.ErrInvalidArgument) {
					t.Fatalf("expected an invalid argument error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if got := r.Workers(); got != test.want {
				t.Errorf("unexpected number of workers: got %d, want %d", got, test.want)
			}
			if got := r.Stats().Workers; got != test.want {
				t.Errorf("unexpected number of workers in stats: got %d, want %d", got, test.want)
			}
		})
	}
}

func TestRuntimeSubmit(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(4))

	const n = 100
	var wg sync.WaitGroup
	var count atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		if err := r.Submit(func() {
			defer wg.Done()
			count.Add(1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if got := count.Load(); got != n {
		t.Errorf("unexpected number of jobs run: %d", got)
	}
	waitFor(t, func() bool { return r.Stats().JobsRun == n })
}

func TestRuntimeSubmitDelayed(t *testing.T) {
	r := dispatchtest.NewRuntime(t, dispatch.WithWorkers(1))

	for _, delay := range []time.Duration{-time.Second, 0, time.Millisecond, 20 * time.Millisecond} {
		start := time.Now()
		done := make(chan time.Duration, 1)
		if err := r.SubmitDelayed(delay, func() { done <- time.Since(start) }); err != nil {
			t.Fatal(err)
		}
		select {
		case elapsed := <-done:
			if elapsed < delay {
				t.Errorf("job with delay %v ran after %v", delay, elapsed)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("job with delay %v did not run", delay)
		}
	}
}

func TestRuntimeClose(t *testing.T) {
	r, err := dispatch.New(dispatch.WithEnv(), dispatch.WithWorkers(2))
	if err != nil {
		t.Fatal(err)
	}

	suspended := make(chan struct{})
	task, err := dispatch.Spawn(r, context.Background(), func(ctx context.Context) (int, error) {
		close(suspended)
		if err := dispatch.SleepCancellable(ctx, time.Hour); err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	<-suspended

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("closing twice: %v", err)
	}

	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("suspended task did not complete after close")
	}
	if _, err := task.Result(); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("unexpected task error: %v", err)
	}
	if status := task.Status(); status != dispatch.TemporaryErrorStatus {
		t.Errorf("unexpected task status: %v", status)
	}

	if err := r.Submit(func() { t.Error("job ran after close") }); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("unexpected submit error: %v", err)
	}
	if err := r.SubmitDelayed(time.Millisecond, func() { t.Error("job ran after close") }); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("unexpected submit error: %v", err)
	}
	if _, err := dispatch.Spawn(r, context.Background(), func(context.Context) (int, error) { return 0, nil }); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("unexpected spawn error: %v", err)
	}
	if dropped := r.Stats().JobsDropped; dropped < 2 {
		t.Errorf("unexpected number of dropped jobs: %d", dropped)
	}
}

// waitFor polls cond until it is true, or fails the test.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before the deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
