package planner

import (
	"context"
	"sync"
)

// keyedMutex serializes work per key. Entries are dropped once unused and
// onIdle, when set, is called with the key under the mutex.
type keyedMutex struct {
	mu     sync.Mutex
	locks  map[string]*keyedEntry
	onIdle func(key string)
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex(onIdle func(key string)) *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry), onIdle: onIdle}
}

// Lock waits for key or for ctx to end. The returned func releases the key.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			k.release(key, e)
		}, nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
		if k.onIdle != nil {
			k.onIdle(key)
		}
	}
	k.mu.Unlock()
}
