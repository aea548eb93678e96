package storage

import "sync"

// keyLock serializes read-modify-write sequences per key within a single
// process. The memory and file backends use it to implement Update; the
// redis and sqlite backends rely on the store's own atomicity instead.
//
// Lock entries are reference-counted and removed when the last holder
// releases, so the map stays bounded by the number of keys under
// concurrent update rather than the number of keys ever touched.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyLockEntry)}
}

// acquire blocks until the per-key mutex is held. The caller must release
// with the returned function, typically via defer.
func (k *keyLock) acquire(key string) (release func()) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
