package promotion

import "sync"

// keyedLocks provides per-template mutual exclusion with fail-fast
// semantics. Acquire never blocks: a second caller on the same key is
// refused immediately rather than queued behind a potentially slow
// deployer call.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{held: make(map[string]struct{})}
}

// TryAcquire attempts to take the lock for the given key.
// Returns false if another caller already holds it.
func (l *keyedLocks) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock for the given key.
func (l *keyedLocks) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
