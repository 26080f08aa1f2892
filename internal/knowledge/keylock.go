package knowledge

import (
	"context"
	"sync"
	"time"
)

// lockSlot is one key's semaphore plus the number of goroutines holding or
// waiting on it. The slot is dropped from the map when the count reaches
// zero, so the map tracks only live keys rather than every fingerprint
// ever locked.
type lockSlot struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex serializes writers per fingerprint so updates to one rule
// never block updates to unrelated rules. Acquisition waits are bounded:
// when the timeout elapses the caller gets ErrStoreBusy and is expected to
// retry with backoff rather than queue up indefinitely.
type KeyedMutex struct {
	mu      sync.Mutex
	slots   map[string]*lockSlot
	timeout time.Duration
}

// NewKeyedMutex creates a keyed mutex with the given acquisition timeout.
// A zero timeout falls back to one second.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &KeyedMutex{
		slots:   make(map[string]*lockSlot),
		timeout: timeout,
	}
}

// Lock acquires the lock for key, returning the release function. It fails
// with ErrStoreBusy when the timeout elapses first, and with the context's
// error when ctx is canceled.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	timer := time.NewTimer(k.timeout)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			k.unref(key, slot)
		}, nil
	case <-timer.C:
		k.unref(key, slot)
		return nil, ErrStoreBusy
	case <-ctx.Done():
		k.unref(key, slot)
		return nil, ctx.Err()
	}
}

// unref drops one reference and removes the slot once no goroutine holds
// or waits on it.
func (k *KeyedMutex) unref(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && k.slots[key] == slot {
		delete(k.slots, key)
	}
}
