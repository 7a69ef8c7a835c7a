package memory

import (
	"fmt"
	"sync"
)

// KeyedLock serialises work per string key. It closes the load-mutate-save
// race between concurrent requests for the same session: both would load the
// same buffer and the second save would silently drop the first's
// interaction. Entries are reference counted and removed when the last
// holder releases, so the map does not grow with the number of sessions ever
// seen.
//
// This only serialises within one process. Cross-process writers would need a
// version column on the persisted row.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty lock set.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's lock is free and returns the release
// function. Calling release more than once is a no-op.
func (k *KeyedLock) Acquire(key string) (release func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// SessionKey is the lock key for one user's session.
func SessionKey(userID string, sessionID int) string {
	return fmt.Sprintf("%s:%d", userID, sessionID)
}
