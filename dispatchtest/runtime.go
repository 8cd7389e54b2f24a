package dispatchtest

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/dispatchrun/dispatch-runtime"
)

// NewRuntime creates a runtime that is closed when the test ends.
//
// The runtime logs to the test log, and ignores the environment unless
// dispatch.WithEnv is passed.
func NewRuntime(t testing.TB, opts ...dispatch.RuntimeOption) *dispatch.Runtime {
	t.Helper()

	w := &testWriter{t: t}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))

	opts = append([]dispatch.RuntimeOption{
		dispatch.WithEnv(),
		dispatch.WithLogger(logger),
	}, opts...)

	r, err := dispatch.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Error(err)
		}
		w.close()
	})
	return r
}

// testWriter writes to the test log until the test is over. Timers that
// fire late may still log after the runtime is closed.
type testWriter struct {
	mu     sync.Mutex
	t      testing.TB
	closed bool
}

func (w *testWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.t.Log(string(b))
	}
	return len(b), nil
}

func (w *testWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
}
