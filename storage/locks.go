package storage

import "sync"

// NameLocks is a process-local advisory lock keyed by storage name. Entries
// are reference counted and dropped once nobody holds or waits on them.
type NameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func NewNameLocks() *NameLocks {
	return &NameLocks{locks: make(map[string]*nameLock)}
}

// Lock blocks until name is free and returns the matching unlock func.
// A nil receiver hands out no-op locks.
func (l *NameLocks) Lock(name string) func() {
	if l == nil {
		return func() {}
	}

	l.mu.Lock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &nameLock{}
		l.locks[name] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *NameLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
