package refresh

import "sync"

type cacheKey struct {
	keyword string
	user    string
}

// keyLocks serializes replaces of the same (keyword, user) within the process.
// Entries are dropped once no caller holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[cacheKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key cacheKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[cacheKey]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
