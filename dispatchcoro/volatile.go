package dispatchcoro

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// VolatileCoroutines is a set of volatile coroutine instances.
//
// Suspended coroutines only exist in memory, so the runtime keeps track
// of every instance that has been started and not yet returned. Closing
// the set unwinds the coroutines that are still parked.
type VolatileCoroutines struct {
	instances map[InstanceID]Coroutine
	nextID    InstanceID
	mu        sync.Mutex
}

// InstanceID is a unique identifier for a coroutine instance.
type InstanceID = uint64

// Register registers a coroutine instance and returns a unique
// identifier.
func (f *VolatileCoroutines) Register(coro Coroutine) InstanceID {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nextID == 0 {
		f.nextID = rand.Uint64()
	}
	f.nextID++

	id := f.nextID
	if f.instances == nil {
		f.instances = map[InstanceID]Coroutine{}
	}
	f.instances[id] = coro

	return id
}

// Find finds the coroutine instance with the specified ID.
func (f *VolatileCoroutines) Find(id InstanceID) (Coroutine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	coro, ok := f.instances[id]
	if !ok {
		return coro, fmt.Errorf("volatile coroutine %d not found", id)
	}
	return coro, nil
}

// Delete deletes a coroutine instance.
func (f *VolatileCoroutines) Delete(id InstanceID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.instances, id)
}

// Len is the number of registered instances.
func (f *VolatileCoroutines) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.instances)
}

// Close stops every registered instance that has not returned yet.
//
// The caller must make sure none of the instances is being driven
// concurrently.
func (f *VolatileCoroutines) Close() error {
	f.mu.Lock()
	instances := f.instances
	f.instances = nil
	f.mu.Unlock()

	for _, coro := range instances {
		if !coro.Done() {
			coro.Stop()
			coro.Next()
		}
	}
	return nil
}
