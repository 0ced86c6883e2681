package session

import (
	"context"
	"sync"
	"time"
)

// keyedLocks serializes control operations per session id. Entries are
// created lazily and reaped when a session is stopped. Each entry tracks the
// current holder's cancel func so an operator escape hatch can interrupt a
// stuck operation without opening a second lock path.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem chan struct{} // capacity 1

	mu        sync.Mutex
	cancel    context.CancelFunc
	heldSince time.Time
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[string]*lockEntry)}
}

func (k *keyedLocks) entry(id string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[id] = e
	}
	return e
}

// acquire blocks until the session lock is held or ctx is done. The returned
// context is the operation context: it is cancelled when the caller's ctx is,
// or when another caller interrupts this holder.
func (k *keyedLocks) acquire(ctx context.Context, id string) (context.Context, func(), error) {
	var e *lockEntry
	for {
		e = k.entry(id)

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}

		// A reap may have removed the entry while we were waiting on its
		// semaphore; holding that orphan would not exclude callers on the
		// replacement entry. Drop it and take the current one.
		k.mu.Lock()
		current := k.entries[id] == e
		k.mu.Unlock()
		if current {
			break
		}
		<-e.sem
	}

	opCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.heldSince = time.Now()
	e.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.mu.Lock()
			e.cancel = nil
			e.mu.Unlock()
			cancel()
			<-e.sem
		})
	}
	return opCtx, release, nil
}

// interruptIfHeldLonger cancels the current holder's operation context when
// it has been in flight longer than minHold. Returns whether a holder was
// interrupted. The holder still releases the lock itself; the single-writer
// invariant is preserved.
func (k *keyedLocks) interruptIfHeldLonger(id string, minHold time.Duration) bool {
	k.mu.Lock()
	e, ok := k.entries[id]
	k.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	if time.Since(e.heldSince) < minHold {
		return false
	}
	e.cancel()
	return true
}

// reap removes a session's entry when its lock is free. Called after stop so
// the arena does not grow with dead sessions.
func (k *keyedLocks) reap(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[id]
	if !ok {
		return
	}
	select {
	case e.sem <- struct{}{}:
		<-e.sem
		delete(k.entries, id)
	default:
		// Still held; the next reap attempt gets it.
	}
}
